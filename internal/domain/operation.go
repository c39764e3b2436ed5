package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// OperationRecord is the ephemeral bookkeeping of one operation envelope:
// which asset keys were borrowed at start and which have been revalued since.
// Finalize is legal only once Updated covers every borrowed key.
type OperationRecord struct {
	ID             uuid.UUID
	StartedAt      time.Time
	StartingUSD    *uint256.Int
	StartingShares *uint256.Int
	Borrowed       map[AssetKey]bool
	Updated        map[AssetKey]bool
}

// AllUpdated reports whether every borrowed key has a post-start revaluation.
func (r *OperationRecord) AllUpdated() bool {
	for k := range r.Borrowed {
		if !r.Updated[k] {
			return false
		}
	}
	return true
}

// ValuationSnapshot is the immutable summary written after each finalized
// operation, used for the audit trail and the epoch snapshot archive.
type ValuationSnapshot struct {
	OperationID uuid.UUID         `json:"operation_id"`
	EpochID     uint64            `json:"epoch_id"`
	StartingUSD *uint256.Int      `json:"starting_usd"`
	FinalUSD    *uint256.Int      `json:"final_usd"`
	EpochLoss   *uint256.Int      `json:"epoch_loss"`
	TotalShares *uint256.Int      `json:"total_shares"`
	AssetValues map[string]string `json:"asset_values"`
	FinalizedAt time.Time         `json:"finalized_at"`
}
