package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DepositRequest is an immutable two-phase deposit intent. The principal is
// buffered on the receipt at request time; an operator executes it at the
// then-current share price, or the receipt holder cancels it after the
// cooldown.
type DepositRequest struct {
	ID        uuid.UUID
	ReceiptID uuid.UUID
	Amount    *uint256.Int   // 9dp USD principal
	MinShares *uint256.Int   // slippage bound on minted shares
	Recipient common.Address // snapshot at creation; informational only
	CreatedAt time.Time
}

// WithdrawRequest is an immutable two-phase withdrawal intent. Shares are
// escrowed on the receipt at request time and either burned on execute or
// returned on cancellation.
type WithdrawRequest struct {
	ID        uuid.UUID
	ReceiptID uuid.UUID
	Shares    *uint256.Int
	MinAmount *uint256.Int   // payout floor after fees
	MaxAmount *uint256.Int   // payout ceiling
	Recipient common.Address
	CreatedAt time.Time
}
