package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ReceiptStatus tracks whether a receipt is live or closed out.
type ReceiptStatus string

const (
	ReceiptStatusActive ReceiptStatus = "active"
	ReceiptStatusClosed ReceiptStatus = "closed"
)

// Receipt is a depositor's claim on the vault: shares owned plus any
// balances buffered by in-flight requests. The receipt is a transferable
// credential; cancellation and withdrawal rights follow the current owner,
// never the address that originally created a request.
type Receipt struct {
	ID             uuid.UUID
	Owner          common.Address
	Shares         *uint256.Int
	PendingDeposit *uint256.Int // principal buffered by open deposit requests
	PendingShares  *uint256.Int // shares escrowed by open withdraw requests
	LastDepositAt  time.Time
	Status         ReceiptStatus
	CreatedAt      time.Time
}

// NewReceipt creates an empty active receipt for owner.
func NewReceipt(owner common.Address, now time.Time) *Receipt {
	return &Receipt{
		ID:             uuid.New(),
		Owner:          owner,
		Shares:         uint256.NewInt(0),
		PendingDeposit: uint256.NewInt(0),
		PendingShares:  uint256.NewInt(0),
		Status:         ReceiptStatusActive,
		CreatedAt:      now,
	}
}
