package adaptor

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/fixed"
)

// CLMMPosition is a concentrated-liquidity range position: liquidity between
// two sqrt-price bounds in a two-token pool. Sqrt prices are 9dp fixed-point.
type CLMMPosition struct {
	AssetKey       domain.AssetKey
	TokenA         string
	TokenB         string
	Liquidity      *uint256.Int
	SqrtPriceLower *uint256.Int
	SqrtPriceUpper *uint256.Int
}

func (p *CLMMPosition) Key() domain.AssetKey        { return p.AssetKey }
func (p *CLMMPosition) Adaptor() domain.AdaptorType { return domain.AdaptorCLMM }

// CLMMMarket is the live pool state: the current sqrt price, 9dp.
type CLMMMarket struct {
	SqrtPrice *uint256.Int
}

func (m *CLMMMarket) Adaptor() domain.AdaptorType { return domain.AdaptorCLMM }

// CLMMValuator values range positions by deriving token amounts from
// liquidity and the sqrt-price range, then pricing each token at its
// normalized oracle price. Before trusting the pool at all, it checks the
// pool's implied price against the oracle-implied price; both sides of that
// ratio are normalized, since comparing feed-native values registered at
// different decimal counts cannot legitimately pass any tolerance.
type CLMMValuator struct {
	// Tolerance is the maximum fractional deviation between pool-implied
	// and oracle-implied price, 9dp.
	Tolerance *uint256.Int
}

func (CLMMValuator) Adaptor() domain.AdaptorType { return domain.AdaptorCLMM }

// Value implements Valuator.
func (v CLMMValuator) Value(ctx context.Context, pos Position, market MarketState, prices PriceSource) (*uint256.Int, error) {
	p, ok := pos.(*CLMMPosition)
	if !ok {
		return nil, fmt.Errorf("adaptor: clmm: position %s has wrong type: %w", pos.Key(), domain.ErrInvariantViolation)
	}
	m, ok := market.(*CLMMMarket)
	if !ok {
		return nil, fmt.Errorf("adaptor: clmm: market state has wrong type: %w", domain.ErrInvariantViolation)
	}
	if p.SqrtPriceLower.Cmp(p.SqrtPriceUpper) >= 0 {
		return nil, fmt.Errorf("adaptor: clmm %s: inverted price range: %w", p.AssetKey, domain.ErrInvariantViolation)
	}

	priceA, err := prices.GetNormalizedPrice(ctx, p.TokenA)
	if err != nil {
		return nil, fmt.Errorf("adaptor: clmm %s: %w", p.AssetKey, err)
	}
	priceB, err := prices.GetNormalizedPrice(ctx, p.TokenB)
	if err != nil {
		return nil, fmt.Errorf("adaptor: clmm %s: %w", p.AssetKey, err)
	}

	if err := v.checkPoolPrice(p, m.SqrtPrice, priceA, priceB); err != nil {
		return nil, err
	}

	amountA, amountB, err := rangeAmounts(p.Liquidity, m.SqrtPrice, p.SqrtPriceLower, p.SqrtPriceUpper)
	if err != nil {
		return nil, fmt.Errorf("adaptor: clmm %s: range amounts: %w", p.AssetKey, err)
	}

	total := uint256.NewInt(0)
	if !amountA.IsZero() {
		valueA, err := fixed.Mul(amountA, priceA)
		if err != nil {
			return nil, fmt.Errorf("adaptor: clmm %s: value %s: %w", p.AssetKey, p.TokenA, err)
		}
		total.Add(total, valueA)
	}
	if !amountB.IsZero() {
		valueB, err := fixed.Mul(amountB, priceB)
		if err != nil {
			return nil, fmt.Errorf("adaptor: clmm %s: value %s: %w", p.AssetKey, p.TokenB, err)
		}
		total.Add(total, valueB)
	}
	return total, nil
}

// checkPoolPrice asserts the pool's implied A-in-B price is within Tolerance
// of the oracle-implied price.
func (v CLMMValuator) checkPoolPrice(p *CLMMPosition, sqrtPrice, priceA, priceB *uint256.Int) error {
	poolPrice, err := fixed.Mul(sqrtPrice, sqrtPrice)
	if err != nil {
		return fmt.Errorf("adaptor: clmm %s: pool price: %w", p.AssetKey, err)
	}
	oraclePrice, err := fixed.Div(priceA, priceB)
	if err != nil {
		return fmt.Errorf("adaptor: clmm %s: oracle price ratio: %w", p.AssetKey, err)
	}

	var diff uint256.Int
	if poolPrice.Cmp(oraclePrice) >= 0 {
		diff.Sub(poolPrice, oraclePrice)
	} else {
		diff.Sub(oraclePrice, poolPrice)
	}
	if diff.IsZero() {
		return nil
	}
	deviation, err := fixed.MulDiv(&diff, fixed.Scale, oraclePrice)
	if err != nil {
		return fmt.Errorf("adaptor: clmm %s: deviation: %w", p.AssetKey, err)
	}
	if deviation.Cmp(v.Tolerance) > 0 {
		return fmt.Errorf("adaptor: clmm %s: pool %s oracle %s deviation %s: %w",
			p.AssetKey, poolPrice.Dec(), oraclePrice.Dec(), deviation.Dec(), domain.ErrPoolPriceSlippage)
	}
	return nil
}

// rangeAmounts derives token amounts from liquidity and the sqrt-price range.
// With sqrt prices s (current), a (lower), b (upper):
//
//	amountA = L * (b - s) / (s * b)   for the in-range portion
//	amountB = L * (s - a)
//
// clamped to the range boundaries when the current price is outside.
func rangeAmounts(liquidity, sqrtCur, sqrtLower, sqrtUpper *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	zero := uint256.NewInt(0)
	if liquidity.IsZero() {
		return zero, uint256.NewInt(0), nil
	}

	switch {
	case sqrtCur.Cmp(sqrtLower) <= 0:
		// Entirely in token A.
		amountA, err := amount0(liquidity, sqrtLower, sqrtUpper)
		if err != nil {
			return nil, nil, err
		}
		return amountA, uint256.NewInt(0), nil

	case sqrtCur.Cmp(sqrtUpper) >= 0:
		// Entirely in token B.
		amountB, err := amount1(liquidity, sqrtLower, sqrtUpper)
		if err != nil {
			return nil, nil, err
		}
		return zero, amountB, nil

	default:
		amountA, err := amount0(liquidity, sqrtCur, sqrtUpper)
		if err != nil {
			return nil, nil, err
		}
		amountB, err := amount1(liquidity, sqrtLower, sqrtCur)
		if err != nil {
			return nil, nil, err
		}
		return amountA, amountB, nil
	}
}

// amount0 = L * (sb - sa) / (sa * sb), all 9dp.
func amount0(liquidity, sa, sb *uint256.Int) (*uint256.Int, error) {
	sub := new(uint256.Int).Sub(sb, sa)
	if sub.IsZero() {
		return uint256.NewInt(0), nil
	}
	prod, err := fixed.Mul(sa, sb)
	if err != nil {
		return nil, err
	}
	return fixed.MulDiv(liquidity, sub, prod)
}

// amount1 = L * (sb - sa), all 9dp.
func amount1(liquidity, sa, sb *uint256.Int) (*uint256.Int, error) {
	sub := new(uint256.Int).Sub(sb, sa)
	if sub.IsZero() {
		return uint256.NewInt(0), nil
	}
	return fixed.Mul(liquidity, sub)
}
