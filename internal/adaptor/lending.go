package adaptor

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/fixed"
)

// LendingPosition is a supply/borrow account at an external lending market.
// Balances are protocol-scaled; the live market's interest indices convert
// them to current amounts.
type LendingPosition struct {
	AssetKey domain.AssetKey
	Supplies []ScaledBalance
	Borrows  []ScaledBalance
}

func (p *LendingPosition) Key() domain.AssetKey         { return p.AssetKey }
func (p *LendingPosition) Adaptor() domain.AdaptorType  { return domain.AdaptorLending }

// LendingMarket is the live state of a lending protocol: current interest
// indices plus the risk parameters used for the health gate. All values 9dp.
type LendingMarket struct {
	SupplyIndex          *uint256.Int
	BorrowIndex          *uint256.Int
	LiquidationThreshold *uint256.Int // fraction of supply value counted as collateral
	MinHealthFactor      *uint256.Int // e.g. 1.05 at 9dp
}

func (m *LendingMarket) Adaptor() domain.AdaptorType { return domain.AdaptorLending }

// LendingValuator values lending positions as supply value minus borrow
// value. An account whose debt has grown past its collateral is reported as
// an error, not as zero: zero is indistinguishable from "worthless" and would
// hide negative equity from solvency accounting. The same call runs the
// health-factor gate, so a position close to liquidation cannot pass
// valuation and then be drawn down.
type LendingValuator struct{}

func (LendingValuator) Adaptor() domain.AdaptorType { return domain.AdaptorLending }

// Value implements Valuator.
func (LendingValuator) Value(ctx context.Context, pos Position, market MarketState, prices PriceSource) (*uint256.Int, error) {
	p, ok := pos.(*LendingPosition)
	if !ok {
		return nil, fmt.Errorf("adaptor: lending: position %s has wrong type: %w", pos.Key(), domain.ErrInvariantViolation)
	}
	m, ok := market.(*LendingMarket)
	if !ok {
		return nil, fmt.Errorf("adaptor: lending: market state has wrong type: %w", domain.ErrInvariantViolation)
	}

	supplyValue, err := sideValue(ctx, p.Supplies, m.SupplyIndex, prices)
	if err != nil {
		return nil, fmt.Errorf("adaptor: lending %s: supply side: %w", p.AssetKey, err)
	}
	borrowValue, err := sideValue(ctx, p.Borrows, m.BorrowIndex, prices)
	if err != nil {
		return nil, fmt.Errorf("adaptor: lending %s: borrow side: %w", p.AssetKey, err)
	}

	if !borrowValue.IsZero() {
		if borrowValue.Cmp(supplyValue) >= 0 {
			return nil, fmt.Errorf("adaptor: lending %s: supply %s borrow %s: %w",
				p.AssetKey, supplyValue.Dec(), borrowValue.Dec(), domain.ErrUnderwaterPosition)
		}
		health, err := fixed.MulDiv(supplyValue, m.LiquidationThreshold, borrowValue)
		if err != nil {
			return nil, fmt.Errorf("adaptor: lending %s: health factor: %w", p.AssetKey, err)
		}
		if health.Cmp(m.MinHealthFactor) < 0 {
			return nil, fmt.Errorf("adaptor: lending %s: health %s below min %s: %w",
				p.AssetKey, health.Dec(), m.MinHealthFactor.Dec(), domain.ErrLowHealthFactor)
		}
	}

	return new(uint256.Int).Sub(supplyValue, borrowValue), nil
}

// sideValue sums index-adjusted balances converted at normalized prices.
func sideValue(ctx context.Context, balances []ScaledBalance, index *uint256.Int, prices PriceSource) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, b := range balances {
		if b.Scaled.IsZero() {
			continue
		}
		amount, err := fixed.Mul(b.Scaled, index)
		if err != nil {
			return nil, fmt.Errorf("apply index to %s: %w", b.Symbol, err)
		}
		price, err := prices.GetNormalizedPrice(ctx, b.Symbol)
		if err != nil {
			return nil, err
		}
		value, err := fixed.Mul(amount, price)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", b.Symbol, err)
		}
		total.Add(total, value)
	}
	return total, nil
}
