package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborfi/vaultd/internal/domain"
)

// RequestStore persists in-flight deposit and withdraw requests.
type RequestStore struct {
	pool *pgxpool.Pool
}

var _ domain.RequestStore = (*RequestStore)(nil)

// NewRequestStore creates a RequestStore backed by the given pool.
func NewRequestStore(pool *pgxpool.Pool) *RequestStore {
	return &RequestStore{pool: pool}
}

// CreateDeposit inserts one deposit request row.
func (s *RequestStore) CreateDeposit(ctx context.Context, req domain.DepositRequest) error {
	const query = `
		INSERT INTO deposit_requests (id, receipt_id, amount, min_shares, recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.ReceiptID, req.Amount.Dec(), req.MinShares.Dec(),
		req.Recipient.Hex(), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create deposit request %s: %w", req.ID, err)
	}
	return nil
}

// DeleteDeposit removes a deposit request after execute or cancel.
func (s *RequestStore) DeleteDeposit(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM deposit_requests WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete deposit request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete deposit request %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListDeposits returns all open deposit requests in creation order.
func (s *RequestStore) ListDeposits(ctx context.Context) ([]domain.DepositRequest, error) {
	const query = `
		SELECT id, receipt_id, amount, min_shares, recipient, created_at
		FROM deposit_requests ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deposit requests: %w", err)
	}
	defer rows.Close()

	var out []domain.DepositRequest
	for rows.Next() {
		var (
			req          domain.DepositRequest
			amount       string
			minShares    string
			recipientHex string
		)
		if err := rows.Scan(&req.ID, &req.ReceiptID, &amount, &minShares,
			&recipientHex, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan deposit request: %w", err)
		}
		if req.Amount, err = uint256.FromDecimal(amount); err != nil {
			return nil, fmt.Errorf("postgres: parse deposit amount %q: %w", amount, err)
		}
		if req.MinShares, err = uint256.FromDecimal(minShares); err != nil {
			return nil, fmt.Errorf("postgres: parse min shares %q: %w", minShares, err)
		}
		req.Recipient = common.HexToAddress(recipientHex)
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deposit requests: %w", err)
	}
	return out, nil
}

// CreateWithdraw inserts one withdraw request row.
func (s *RequestStore) CreateWithdraw(ctx context.Context, req domain.WithdrawRequest) error {
	const query = `
		INSERT INTO withdraw_requests (id, receipt_id, shares, min_amount, max_amount, recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.ReceiptID, req.Shares.Dec(), req.MinAmount.Dec(),
		req.MaxAmount.Dec(), req.Recipient.Hex(), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create withdraw request %s: %w", req.ID, err)
	}
	return nil
}

// DeleteWithdraw removes a withdraw request after execute or cancel.
func (s *RequestStore) DeleteWithdraw(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM withdraw_requests WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete withdraw request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete withdraw request %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListWithdraws returns all open withdraw requests in creation order.
func (s *RequestStore) ListWithdraws(ctx context.Context) ([]domain.WithdrawRequest, error) {
	const query = `
		SELECT id, receipt_id, shares, min_amount, max_amount, recipient, created_at
		FROM withdraw_requests ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdraw requests: %w", err)
	}
	defer rows.Close()

	var out []domain.WithdrawRequest
	for rows.Next() {
		req, err := scanWithdraw(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan withdraw request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list withdraw requests: %w", err)
	}
	return out, nil
}

func scanWithdraw(row pgx.Row) (domain.WithdrawRequest, error) {
	var (
		req          domain.WithdrawRequest
		shares       string
		minAmount    string
		maxAmount    string
		recipientHex string
	)
	err := row.Scan(&req.ID, &req.ReceiptID, &shares, &minAmount, &maxAmount,
		&recipientHex, &req.CreatedAt)
	if err != nil {
		return domain.WithdrawRequest{}, err
	}
	if req.Shares, err = uint256.FromDecimal(shares); err != nil {
		return domain.WithdrawRequest{}, fmt.Errorf("parse shares %q: %w", shares, err)
	}
	if req.MinAmount, err = uint256.FromDecimal(minAmount); err != nil {
		return domain.WithdrawRequest{}, fmt.Errorf("parse min amount %q: %w", minAmount, err)
	}
	if req.MaxAmount, err = uint256.FromDecimal(maxAmount); err != nil {
		return domain.WithdrawRequest{}, fmt.Errorf("parse max amount %q: %w", maxAmount, err)
	}
	req.Recipient = common.HexToAddress(recipientHex)
	return req, nil
}
