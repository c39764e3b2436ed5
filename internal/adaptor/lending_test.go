package adaptor

import (
	"context"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/harborfi/vaultd/internal/domain"
)

// stubPrices serves fixed 9dp prices by symbol.
type stubPrices map[string]uint64

func (p stubPrices) GetNormalizedPrice(_ context.Context, symbol string) (*uint256.Int, error) {
	v, ok := p[symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s: %w", symbol, domain.ErrUnknownAsset)
	}
	return uint256.NewInt(v), nil
}

func lendingKey() domain.AssetKey {
	return domain.AssetKey{Adaptor: domain.AdaptorLending, Slot: "navi-main"}
}

func TestLendingValueSupplyOnly(t *testing.T) {
	pos := &LendingPosition{
		AssetKey: lendingKey(),
		Supplies: []ScaledBalance{{Symbol: "SUI", Scaled: uint256.NewInt(100_000_000_000)}},
	}
	market := &LendingMarket{
		SupplyIndex:          uint256.NewInt(1_050_000_000), // 1.05
		BorrowIndex:          uint256.NewInt(1_000_000_000),
		LiquidationThreshold: uint256.NewInt(800_000_000),
		MinHealthFactor:      uint256.NewInt(1_050_000_000),
	}
	prices := stubPrices{"SUI": 2_000_000_000}

	got, err := LendingValuator{}.Value(context.Background(), pos, market, prices)
	require.NoError(t, err)
	// 100 scaled * 1.05 index * $2 = $210.
	require.Equal(t, uint256.NewInt(210_000_000_000), got)
}

func TestLendingValueNetsBorrows(t *testing.T) {
	pos := &LendingPosition{
		AssetKey: lendingKey(),
		Supplies: []ScaledBalance{{Symbol: "SUI", Scaled: uint256.NewInt(100_000_000_000)}},
		Borrows:  []ScaledBalance{{Symbol: "USDC", Scaled: uint256.NewInt(50_000_000_000)}},
	}
	market := &LendingMarket{
		SupplyIndex:          uint256.NewInt(1_000_000_000),
		BorrowIndex:          uint256.NewInt(1_000_000_000),
		LiquidationThreshold: uint256.NewInt(800_000_000),
		MinHealthFactor:      uint256.NewInt(1_050_000_000),
	}
	prices := stubPrices{"SUI": 2_000_000_000, "USDC": 1_000_000_000}

	got, err := LendingValuator{}.Value(context.Background(), pos, market, prices)
	require.NoError(t, err)
	// $200 supply - $50 borrow.
	require.Equal(t, uint256.NewInt(150_000_000_000), got)
}

func TestLendingUnderwaterIsError(t *testing.T) {
	pos := &LendingPosition{
		AssetKey: lendingKey(),
		Supplies: []ScaledBalance{{Symbol: "SUI", Scaled: uint256.NewInt(50_000_000_000)}},
		Borrows:  []ScaledBalance{{Symbol: "USDC", Scaled: uint256.NewInt(120_000_000_000)}},
	}
	market := &LendingMarket{
		SupplyIndex:          uint256.NewInt(1_000_000_000),
		BorrowIndex:          uint256.NewInt(1_000_000_000),
		LiquidationThreshold: uint256.NewInt(800_000_000),
		MinHealthFactor:      uint256.NewInt(1_050_000_000),
	}
	prices := stubPrices{"SUI": 2_000_000_000, "USDC": 1_000_000_000}

	// Debt $120 vs supply $100: negative equity surfaces as an error, never
	// as a zero valuation.
	_, err := LendingValuator{}.Value(context.Background(), pos, market, prices)
	require.ErrorIs(t, err, domain.ErrUnderwaterPosition)
}

func TestLendingLowHealthFactorIsError(t *testing.T) {
	pos := &LendingPosition{
		AssetKey: lendingKey(),
		Supplies: []ScaledBalance{{Symbol: "SUI", Scaled: uint256.NewInt(100_000_000_000)}},
		Borrows:  []ScaledBalance{{Symbol: "USDC", Scaled: uint256.NewInt(90_000_000_000)}},
	}
	market := &LendingMarket{
		SupplyIndex:          uint256.NewInt(1_000_000_000),
		BorrowIndex:          uint256.NewInt(1_000_000_000),
		LiquidationThreshold: uint256.NewInt(800_000_000),
		MinHealthFactor:      uint256.NewInt(1_050_000_000),
	}
	prices := stubPrices{"SUI": 1_000_000_000, "USDC": 1_000_000_000}

	// Health = 100 * 0.8 / 90 = 0.888, below the 1.05 floor.
	_, err := LendingValuator{}.Value(context.Background(), pos, market, prices)
	require.ErrorIs(t, err, domain.ErrLowHealthFactor)
}

func TestLendingMissingPriceFailsValuation(t *testing.T) {
	pos := &LendingPosition{
		AssetKey: lendingKey(),
		Supplies: []ScaledBalance{{Symbol: "SUI", Scaled: uint256.NewInt(1_000_000_000)}},
	}
	market := &LendingMarket{
		SupplyIndex:          uint256.NewInt(1_000_000_000),
		BorrowIndex:          uint256.NewInt(1_000_000_000),
		LiquidationThreshold: uint256.NewInt(800_000_000),
		MinHealthFactor:      uint256.NewInt(1_050_000_000),
	}

	_, err := LendingValuator{}.Value(context.Background(), pos, market, stubPrices{})
	require.ErrorIs(t, err, domain.ErrUnknownAsset)
}

func TestStakingValue(t *testing.T) {
	pos := &StakingPosition{
		AssetKey:    domain.AssetKey{Adaptor: domain.AdaptorStaking, Slot: "volo"},
		Underlying:  "SUI",
		CertBalance: uint256.NewInt(100_000_000_000),
	}
	market := &StakingMarket{ExchangeRate: uint256.NewInt(1_020_000_000)} // 1.02
	prices := stubPrices{"SUI": 2_000_000_000}

	got, err := StakingValuator{}.Value(context.Background(), pos, market, prices)
	require.NoError(t, err)
	// 100 certs * 1.02 * $2 = $204.
	require.Equal(t, uint256.NewInt(204_000_000_000), got)
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(LendingValuator{}, StakingValuator{})

	v, err := reg.Get(domain.AdaptorLending)
	require.NoError(t, err)
	require.Equal(t, domain.AdaptorLending, v.Adaptor())

	_, err = reg.Get(domain.AdaptorCLMM)
	require.ErrorIs(t, err, domain.ErrUnknownAsset)
}
