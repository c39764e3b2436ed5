package adaptor

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/fixed"
)

// StakingPosition is a liquid-staking certificate balance. The certificate
// appreciates against the underlying via the pool's exchange rate.
type StakingPosition struct {
	AssetKey    domain.AssetKey
	Underlying  string // symbol of the staked asset
	CertBalance *uint256.Int
}

func (p *StakingPosition) Key() domain.AssetKey        { return p.AssetKey }
func (p *StakingPosition) Adaptor() domain.AdaptorType { return domain.AdaptorStaking }

// StakingMarket carries the pool's certificate-to-underlying exchange rate, 9dp.
type StakingMarket struct {
	ExchangeRate *uint256.Int
}

func (m *StakingMarket) Adaptor() domain.AdaptorType { return domain.AdaptorStaking }

// StakingValuator values certificates as balance x exchange rate x the
// underlying's normalized price.
type StakingValuator struct{}

func (StakingValuator) Adaptor() domain.AdaptorType { return domain.AdaptorStaking }

// Value implements Valuator.
func (StakingValuator) Value(ctx context.Context, pos Position, market MarketState, prices PriceSource) (*uint256.Int, error) {
	p, ok := pos.(*StakingPosition)
	if !ok {
		return nil, fmt.Errorf("adaptor: staking: position %s has wrong type: %w", pos.Key(), domain.ErrInvariantViolation)
	}
	m, ok := market.(*StakingMarket)
	if !ok {
		return nil, fmt.Errorf("adaptor: staking: market state has wrong type: %w", domain.ErrInvariantViolation)
	}
	if p.CertBalance.IsZero() {
		return uint256.NewInt(0), nil
	}

	underlying, err := fixed.Mul(p.CertBalance, m.ExchangeRate)
	if err != nil {
		return nil, fmt.Errorf("adaptor: staking %s: apply exchange rate: %w", p.AssetKey, err)
	}
	price, err := prices.GetNormalizedPrice(ctx, p.Underlying)
	if err != nil {
		return nil, fmt.Errorf("adaptor: staking %s: %w", p.AssetKey, err)
	}
	value, err := fixed.Mul(underlying, price)
	if err != nil {
		return nil, fmt.Errorf("adaptor: staking %s: value: %w", p.AssetKey, err)
	}
	return value, nil
}
