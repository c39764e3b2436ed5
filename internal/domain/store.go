package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// VaultStore persists the vault record between units of work.
type VaultStore interface {
	Save(ctx context.Context, state *VaultState) error
	Load(ctx context.Context) (*VaultState, error)
}

// ReceiptStore persists depositor receipts.
type ReceiptStore interface {
	Create(ctx context.Context, r *Receipt) error
	Update(ctx context.Context, r *Receipt) error
	GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error)
	ListByOwner(ctx context.Context, owner string) ([]*Receipt, error)
	ListActive(ctx context.Context) ([]*Receipt, error)
}

// RequestStore persists in-flight deposit and withdraw requests. Requests are
// immutable; they are inserted once and deleted on execute or cancel.
type RequestStore interface {
	CreateDeposit(ctx context.Context, req DepositRequest) error
	DeleteDeposit(ctx context.Context, id uuid.UUID) error
	ListDeposits(ctx context.Context) ([]DepositRequest, error)
	CreateWithdraw(ctx context.Context, req WithdrawRequest) error
	DeleteWithdraw(ctx context.Context, id uuid.UUID) error
	ListWithdraws(ctx context.Context) ([]WithdrawRequest, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
