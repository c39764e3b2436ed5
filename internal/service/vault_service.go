// Package service orchestrates the vault engine against persistence, the
// distributed operator lock, and the snapshot archive. Services own no vault
// semantics: every check lives in the engine, and a service only records
// what the engine already committed.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/vault"
)

// VaultService exposes the depositor surface. Each call runs the engine unit
// of work, then persists the affected records and an audit row.
type VaultService struct {
	engine   *vault.Engine
	vaults   domain.VaultStore
	receipts domain.ReceiptStore
	requests domain.RequestStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewVaultService creates a VaultService. Stores may be nil for in-memory
// deployments; persistence is skipped per missing store.
func NewVaultService(
	engine *vault.Engine,
	vaults domain.VaultStore,
	receipts domain.ReceiptStore,
	requests domain.RequestStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		engine:   engine,
		vaults:   vaults,
		receipts: receipts,
		requests: requests,
		audit:    audit,
		logger:   logger.With(slog.String("component", "vault_service")),
	}
}

// OpenReceipt creates a receipt for the caller.
func (s *VaultService) OpenReceipt(ctx context.Context, caller common.Address) (domain.Receipt, error) {
	r, err := s.engine.OpenReceipt(ctx, caller)
	if err != nil {
		return domain.Receipt{}, err
	}
	if s.receipts != nil {
		if err := s.receipts.Create(ctx, &r); err != nil {
			return domain.Receipt{}, fmt.Errorf("vault_service: persist receipt: %w", err)
		}
	}
	s.auditLog(ctx, "receipt.open", map[string]any{"receipt_id": r.ID.String(), "owner": caller.Hex()})
	return r, nil
}

// TransferReceipt reassigns receipt ownership.
func (s *VaultService) TransferReceipt(ctx context.Context, caller common.Address, id uuid.UUID, newOwner common.Address) error {
	if err := s.engine.TransferReceipt(ctx, caller, id, newOwner); err != nil {
		return err
	}
	if err := s.persistReceipt(ctx, id); err != nil {
		return err
	}
	s.auditLog(ctx, "receipt.transfer", map[string]any{"receipt_id": id.String(), "new_owner": newOwner.Hex()})
	return nil
}

// RequestDeposit buffers principal and records the deposit intent.
func (s *VaultService) RequestDeposit(ctx context.Context, caller common.Address, receiptID uuid.UUID, amount, minShares *uint256.Int) (domain.DepositRequest, error) {
	req, err := s.engine.RequestDeposit(ctx, caller, receiptID, amount, minShares)
	if err != nil {
		return domain.DepositRequest{}, err
	}
	if s.requests != nil {
		if err := s.requests.CreateDeposit(ctx, req); err != nil {
			return domain.DepositRequest{}, fmt.Errorf("vault_service: persist deposit request: %w", err)
		}
	}
	if err := s.persistReceipt(ctx, receiptID); err != nil {
		return domain.DepositRequest{}, err
	}
	s.auditLog(ctx, "deposit.request", map[string]any{"request_id": req.ID.String(), "amount": amount.Dec()})
	return req, nil
}

// ExecuteDeposit mints shares for a pending deposit at the current price.
func (s *VaultService) ExecuteDeposit(ctx context.Context, caller common.Address, id uuid.UUID) (*uint256.Int, error) {
	req, err := s.engine.DepositRequest(id)
	if err != nil {
		return nil, err
	}
	shares, err := s.engine.ExecuteDeposit(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if s.requests != nil {
		if err := s.requests.DeleteDeposit(ctx, id); err != nil {
			return nil, fmt.Errorf("vault_service: delete deposit request: %w", err)
		}
	}
	if err := s.persistReceipt(ctx, req.ReceiptID); err != nil {
		return nil, err
	}
	if err := s.persistVault(ctx); err != nil {
		return nil, err
	}
	s.auditLog(ctx, "deposit.execute", map[string]any{"request_id": id.String(), "shares": shares.Dec()})
	return shares, nil
}

// CancelDeposit refunds a buffered deposit to the live receipt holder.
func (s *VaultService) CancelDeposit(ctx context.Context, caller common.Address, id uuid.UUID) (*uint256.Int, error) {
	req, err := s.engine.DepositRequest(id)
	if err != nil {
		return nil, err
	}
	refund, err := s.engine.CancelDeposit(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if s.requests != nil {
		if err := s.requests.DeleteDeposit(ctx, id); err != nil {
			return nil, fmt.Errorf("vault_service: delete deposit request: %w", err)
		}
	}
	if err := s.persistReceipt(ctx, req.ReceiptID); err != nil {
		return nil, err
	}
	s.auditLog(ctx, "deposit.cancel", map[string]any{"request_id": id.String(), "refund": refund.Dec()})
	return refund, nil
}

// RequestWithdraw escrows shares and records the withdraw intent.
func (s *VaultService) RequestWithdraw(ctx context.Context, caller common.Address, receiptID uuid.UUID, shares, minAmount, maxAmount *uint256.Int) (domain.WithdrawRequest, error) {
	req, err := s.engine.RequestWithdraw(ctx, caller, receiptID, shares, minAmount, maxAmount)
	if err != nil {
		return domain.WithdrawRequest{}, err
	}
	if s.requests != nil {
		if err := s.requests.CreateWithdraw(ctx, req); err != nil {
			return domain.WithdrawRequest{}, fmt.Errorf("vault_service: persist withdraw request: %w", err)
		}
	}
	if err := s.persistReceipt(ctx, receiptID); err != nil {
		return domain.WithdrawRequest{}, err
	}
	s.auditLog(ctx, "withdraw.request", map[string]any{"request_id": req.ID.String(), "shares": shares.Dec()})
	return req, nil
}

// ExecuteWithdraw burns escrowed shares and pays out at the current price.
func (s *VaultService) ExecuteWithdraw(ctx context.Context, caller common.Address, id uuid.UUID) (*uint256.Int, error) {
	req, err := s.engine.WithdrawRequest(id)
	if err != nil {
		return nil, err
	}
	payout, err := s.engine.ExecuteWithdraw(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if s.requests != nil {
		if err := s.requests.DeleteWithdraw(ctx, id); err != nil {
			return nil, fmt.Errorf("vault_service: delete withdraw request: %w", err)
		}
	}
	if err := s.persistReceipt(ctx, req.ReceiptID); err != nil {
		return nil, err
	}
	if err := s.persistVault(ctx); err != nil {
		return nil, err
	}
	s.auditLog(ctx, "withdraw.execute", map[string]any{"request_id": id.String(), "payout": payout.Dec()})
	return payout, nil
}

// CancelWithdraw returns escrowed shares to the live receipt holder.
func (s *VaultService) CancelWithdraw(ctx context.Context, caller common.Address, id uuid.UUID) error {
	req, err := s.engine.WithdrawRequest(id)
	if err != nil {
		return err
	}
	if err := s.engine.CancelWithdraw(ctx, caller, id); err != nil {
		return err
	}
	if s.requests != nil {
		if err := s.requests.DeleteWithdraw(ctx, id); err != nil {
			return fmt.Errorf("vault_service: delete withdraw request: %w", err)
		}
	}
	if err := s.persistReceipt(ctx, req.ReceiptID); err != nil {
		return err
	}
	s.auditLog(ctx, "withdraw.cancel", map[string]any{"request_id": id.String()})
	return nil
}

func (s *VaultService) persistReceipt(ctx context.Context, id uuid.UUID) error {
	if s.receipts == nil {
		return nil
	}
	r, err := s.engine.Receipt(id)
	if err != nil {
		return err
	}
	if err := s.receipts.Update(ctx, &r); err != nil {
		return fmt.Errorf("vault_service: persist receipt %s: %w", id, err)
	}
	return nil
}

func (s *VaultService) persistVault(ctx context.Context) error {
	if s.vaults == nil {
		return nil
	}
	if err := s.vaults.Save(ctx, s.engine.Snapshot()); err != nil {
		return fmt.Errorf("vault_service: persist vault state: %w", err)
	}
	return nil
}

// auditLog records an event; audit failures are logged, not fatal, so a
// degraded audit store cannot block user funds.
func (s *VaultService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
