// Package adaptor converts custodied positions plus live market state into
// USD values. Each external-protocol family (lending, concentrated liquidity,
// staking) gets one Valuator; dispatch is by adaptor type. Valuation errors
// are fatal to the surrounding operation; there is no partial credit and no
// valued-at-zero fallback for an asset that exists but cannot be priced.
package adaptor

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
)

// PriceSource supplies canonical 9-decimal prices. Satisfied by the oracle
// aggregator; any cross-asset ratio must be built from normalized prices.
type PriceSource interface {
	GetNormalizedPrice(ctx context.Context, symbol string) (*uint256.Int, error)
}

// Position is one custodied position, exclusively owned by the vault and
// mutated only inside an operation envelope. Concrete variants live in this
// package; nothing outside the vault engine ever holds one by reference.
type Position interface {
	Key() domain.AssetKey
	Adaptor() domain.AdaptorType
}

// MarketState is the live state of the external protocol backing a position,
// read at valuation time.
type MarketState interface {
	Adaptor() domain.AdaptorType
}

// Valuator values positions of one adaptor type.
type Valuator interface {
	Adaptor() domain.AdaptorType
	Value(ctx context.Context, pos Position, market MarketState, prices PriceSource) (*uint256.Int, error)
}

// Registry maps adaptor types to their valuators.
type Registry map[domain.AdaptorType]Valuator

// NewRegistry builds a registry from the given valuators.
func NewRegistry(valuators ...Valuator) Registry {
	r := make(Registry, len(valuators))
	for _, v := range valuators {
		r[v.Adaptor()] = v
	}
	return r
}

// Get returns the valuator for an adaptor type.
func (r Registry) Get(t domain.AdaptorType) (Valuator, error) {
	v, ok := r[t]
	if !ok {
		return nil, fmt.Errorf("adaptor: no valuator for %q: %w", t, domain.ErrUnknownAsset)
	}
	return v, nil
}

// ScaledBalance is a token balance in protocol-scaled units (balance divided
// by the interest index at the time it was booked). Multiplying by the
// current index recovers the live balance.
type ScaledBalance struct {
	Symbol string
	Scaled *uint256.Int
}
