package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// VaultStatus is the servability state of the vault.
type VaultStatus string

const (
	// StatusNormal accepts user requests and new operations.
	StatusNormal VaultStatus = "normal"
	// StatusDisabled is an administrative halt; legal only from Normal.
	StatusDisabled VaultStatus = "disabled"
	// StatusDuringOperation means assets are on loan to an operator and
	// every user-facing request is blocked until the operation finalizes.
	StatusDuringOperation VaultStatus = "during_operation"
)

// VaultState is the persistent record of the vault. All monetary fields are
// 9-decimal fixed-point USD values; share counts use the same scale.
//
// Invariant: while no operation is open, the sum of fresh per-asset values
// plus FreePrincipal equals TotalUSD, and TotalShares times the share price
// equals TotalUSD within one rounding unit.
type VaultState struct {
	Status VaultStatus

	// FreePrincipal is undeployed USD principal held by the vault itself.
	FreePrincipal *uint256.Int

	// TotalUSD is the reported aggregate value: free principal plus the sum
	// of per-asset values as of their last revaluation.
	TotalUSD *uint256.Int

	// TotalShares is the number of outstanding vault shares.
	TotalShares *uint256.Int

	// AssetValues maps each deployed position to its last-known USD value.
	AssetValues map[AssetKey]AssetValue

	// FeeBalance is accrued protocol fee income awaiting collection.
	FeeBalance *uint256.Int

	// Loss budget accounting. Epochs are fixed-length windows counted from
	// EpochOrigin; the accumulated loss within one epoch may not exceed
	// EpochStartingUSD * loss tolerance. The origin is persisted so epoch
	// ids stay monotonic across restarts.
	EpochOrigin      time.Time
	EpochID          uint64
	EpochStartingUSD *uint256.Int
	EpochLoss        *uint256.Int

	UpdatedAt time.Time
}

// NewVaultState returns an empty vault in Normal status.
func NewVaultState() *VaultState {
	return &VaultState{
		Status:           StatusNormal,
		FreePrincipal:    uint256.NewInt(0),
		TotalUSD:         uint256.NewInt(0),
		TotalShares:      uint256.NewInt(0),
		AssetValues:      make(map[AssetKey]AssetValue),
		FeeBalance:       uint256.NewInt(0),
		EpochStartingUSD: uint256.NewInt(0),
		EpochLoss:        uint256.NewInt(0),
	}
}
