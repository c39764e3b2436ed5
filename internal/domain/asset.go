package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// AdaptorType identifies which external-protocol adaptor custodies a position.
type AdaptorType string

const (
	AdaptorLending AdaptorType = "lending"
	AdaptorCLMM    AdaptorType = "clmm"
	AdaptorStaking AdaptorType = "staking"
)

// Valid reports whether t is a known adaptor type.
func (t AdaptorType) Valid() bool {
	switch t {
	case AdaptorLending, AdaptorCLMM, AdaptorStaking:
		return true
	}
	return false
}

// AssetKey identifies a deployed position by adaptor type and slot. Slots
// distinguish multiple positions held through the same adaptor (for example
// two liquidity ranges in different pools).
type AssetKey struct {
	Adaptor AdaptorType
	Slot    string
}

func (k AssetKey) String() string {
	return fmt.Sprintf("%s/%s", k.Adaptor, k.Slot)
}

// ParseAssetKey parses the "adaptor/slot" form produced by String.
func ParseAssetKey(s string) (AssetKey, error) {
	adaptor, slot, ok := strings.Cut(s, "/")
	if !ok {
		return AssetKey{}, fmt.Errorf("malformed asset key %q", s)
	}
	key := AssetKey{Adaptor: AdaptorType(adaptor), Slot: slot}
	if !key.Adaptor.Valid() {
		return AssetKey{}, fmt.Errorf("unknown adaptor type in asset key %q", s)
	}
	return key, nil
}

// AssetValue is the last-known USD value of one deployed position. Values are
// 9-decimal fixed-point and are only trusted while now - UpdatedAt stays
// within the vault's staleness window.
type AssetValue struct {
	Key       AssetKey
	USD       *uint256.Int
	UpdatedAt time.Time
}
