package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborfi/vaultd/internal/domain"
)

// ReceiptStore persists depositor receipts.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

var _ domain.ReceiptStore = (*ReceiptStore)(nil)

// NewReceiptStore creates a ReceiptStore backed by the given pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

// Create inserts a new receipt row.
func (s *ReceiptStore) Create(ctx context.Context, r *domain.Receipt) error {
	const query = `
		INSERT INTO receipts (
			id, owner_address, shares, pending_deposit, pending_shares,
			last_deposit_at, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.Owner.Hex(),
		r.Shares.Dec(),
		r.PendingDeposit.Dec(),
		r.PendingShares.Dec(),
		nullableTime(r.LastDepositAt),
		string(r.Status),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create receipt %s: %w", r.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing receipt.
func (s *ReceiptStore) Update(ctx context.Context, r *domain.Receipt) error {
	const query = `
		UPDATE receipts SET
			owner_address = $2,
			shares = $3,
			pending_deposit = $4,
			pending_shares = $5,
			last_deposit_at = $6,
			status = $7,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		r.ID,
		r.Owner.Hex(),
		r.Shares.Dec(),
		r.PendingDeposit.Dec(),
		r.PendingShares.Dec(),
		nullableTime(r.LastDepositAt),
		string(r.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update receipt %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update receipt %s: %w", r.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a receipt, or domain.ErrNotFound.
func (s *ReceiptStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	const query = `
		SELECT id, owner_address, shares, pending_deposit, pending_shares,
		       last_deposit_at, status, created_at
		FROM receipts WHERE id = $1`

	r, err := scanReceipt(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get receipt %s: %w", id, err)
	}
	return r, nil
}

// ListByOwner returns every receipt currently held by owner.
func (s *ReceiptStore) ListByOwner(ctx context.Context, owner string) ([]*domain.Receipt, error) {
	const query = `
		SELECT id, owner_address, shares, pending_deposit, pending_shares,
		       last_deposit_at, status, created_at
		FROM receipts WHERE owner_address = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []*domain.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan receipt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list receipts for %s: %w", owner, err)
	}
	return out, nil
}

// ListActive returns every receipt that has not been closed out. Used to
// rebuild the in-memory engine on startup.
func (s *ReceiptStore) ListActive(ctx context.Context) ([]*domain.Receipt, error) {
	const query = `
		SELECT id, owner_address, shares, pending_deposit, pending_shares,
		       last_deposit_at, status, created_at
		FROM receipts WHERE status = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, string(domain.ReceiptStatusActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active receipts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan receipt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active receipts: %w", err)
	}
	return out, nil
}

func scanReceipt(row pgx.Row) (*domain.Receipt, error) {
	var (
		r             domain.Receipt
		ownerHex      string
		shares        string
		pendingDep    string
		pendingShares string
		lastDepositAt *time.Time
		status        string
	)
	err := row.Scan(&r.ID, &ownerHex, &shares, &pendingDep, &pendingShares,
		&lastDepositAt, &status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Owner = common.HexToAddress(ownerHex)
	r.Status = domain.ReceiptStatus(status)
	if lastDepositAt != nil {
		r.LastDepositAt = *lastDepositAt
	}
	if r.Shares, err = uint256.FromDecimal(shares); err != nil {
		return nil, fmt.Errorf("parse shares %q: %w", shares, err)
	}
	if r.PendingDeposit, err = uint256.FromDecimal(pendingDep); err != nil {
		return nil, fmt.Errorf("parse pending deposit %q: %w", pendingDep, err)
	}
	if r.PendingShares, err = uint256.FromDecimal(pendingShares); err != nil {
		return nil, fmt.Errorf("parse pending shares %q: %w", pendingShares, err)
	}
	return &r, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
