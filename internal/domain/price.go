package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// PriceInfo is a cached per-symbol price as reported by its feed, kept in the
// feed's native precision. Normalization to the canonical 9-decimal scale
// happens in the oracle aggregator, not here.
type PriceInfo struct {
	Symbol    string
	Value     *uint256.Int
	Decimals  uint8
	UpdatedAt time.Time
}
