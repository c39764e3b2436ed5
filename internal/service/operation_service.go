package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/adaptor"
	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/vault"
)

// operationLockKey names the cross-process operator lock. The engine already
// refuses a second envelope, but only within one process; the lock extends
// the single-writer guarantee across operator deployments.
const operationLockKey = "vault:operation"

// OperationService exposes the operator surface: the operation envelope plus
// asset revaluation, holding the distributed lock for the envelope's span and
// archiving the valuation snapshot on finalize.
type OperationService struct {
	engine   *vault.Engine
	locks    domain.LockManager
	vaults   domain.VaultStore
	archiver domain.SnapshotArchiver
	audit    domain.AuditStore
	lockTTL  time.Duration
	release  func()
	logger   *slog.Logger
}

// NewOperationService creates an OperationService. Lock manager, stores and
// archiver may be nil for in-memory deployments.
func NewOperationService(
	engine *vault.Engine,
	locks domain.LockManager,
	vaults domain.VaultStore,
	archiver domain.SnapshotArchiver,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *OperationService {
	return &OperationService{
		engine:   engine,
		locks:    locks,
		vaults:   vaults,
		archiver: archiver,
		audit:    audit,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "operation_service")),
	}
}

// StartOperation acquires the operator lock and opens the envelope. The lock
// is released again if the engine refuses to start.
func (s *OperationService) StartOperation(ctx context.Context, caller common.Address, keys []domain.AssetKey) (uuid.UUID, []adaptor.Position, error) {
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, operationLockKey, s.lockTTL)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("operation_service: %w", err)
		}
		s.release = release
	}

	opID, positions, err := s.engine.StartOperation(ctx, caller, keys)
	if err != nil {
		s.releaseLock()
		return uuid.Nil, nil, err
	}
	s.auditLog(ctx, "operation.start", map[string]any{
		"operation_id": opID.String(),
		"assets":       len(keys),
	})
	return opID, positions, nil
}

// BorrowedPositions returns the positions held by the open envelope.
func (s *OperationService) BorrowedPositions() ([]adaptor.Position, error) {
	return s.engine.BorrowedPositions()
}

// DeployPrincipal moves free principal into a new position inside the
// envelope.
func (s *OperationService) DeployPrincipal(ctx context.Context, caller common.Address, pos adaptor.Position, amount *uint256.Int) error {
	if err := s.engine.DeployPrincipal(ctx, caller, pos, amount); err != nil {
		return err
	}
	s.auditLog(ctx, "operation.deploy", map[string]any{
		"asset":  pos.Key().String(),
		"amount": amount.Dec(),
	})
	return nil
}

// RetirePosition destroys a borrowed position on full withdrawal.
func (s *OperationService) RetirePosition(ctx context.Context, caller common.Address, key domain.AssetKey, proceeds *uint256.Int) error {
	if err := s.engine.RetirePosition(ctx, caller, key, proceeds); err != nil {
		return err
	}
	s.auditLog(ctx, "operation.retire", map[string]any{
		"asset":    key.String(),
		"proceeds": proceeds.Dec(),
	})
	return nil
}

// RevalueAsset values a borrowed position against live market state and
// books the result in one step.
func (s *OperationService) RevalueAsset(ctx context.Context, caller common.Address, key domain.AssetKey, market adaptor.MarketState) (*uint256.Int, error) {
	usd, err := s.engine.ValuePosition(ctx, key, market)
	if err != nil {
		return nil, err
	}
	if err := s.engine.UpdateAssetValue(ctx, caller, key, usd); err != nil {
		return nil, err
	}
	return usd, nil
}

// UpdateAssetValue books an externally computed revaluation.
func (s *OperationService) UpdateAssetValue(ctx context.Context, caller common.Address, key domain.AssetKey, usd *uint256.Int) error {
	return s.engine.UpdateAssetValue(ctx, caller, key, usd)
}

// FinalizeOperation closes the envelope, persists the vault record, archives
// the valuation snapshot, and releases the operator lock. The lock is held
// while finalize fails so a competing operator cannot interleave with a
// half-done envelope.
func (s *OperationService) FinalizeOperation(ctx context.Context, caller common.Address) (domain.ValuationSnapshot, error) {
	snap, err := s.engine.FinalizeOperation(ctx, caller)
	if err != nil {
		return domain.ValuationSnapshot{}, err
	}
	s.releaseLock()

	if s.vaults != nil {
		if err := s.vaults.Save(ctx, s.engine.Snapshot()); err != nil {
			return snap, fmt.Errorf("operation_service: persist vault state: %w", err)
		}
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveSnapshot(ctx, snap); err != nil {
			// The engine already committed; a missing archive object is
			// recoverable from the audit trail.
			s.logger.WarnContext(ctx, "snapshot archive failed",
				slog.String("operation_id", snap.OperationID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, "operation.finalize", map[string]any{
		"operation_id": snap.OperationID.String(),
		"final_usd":    snap.FinalUSD.Dec(),
		"epoch_loss":   snap.EpochLoss.Dec(),
	})
	return snap, nil
}

func (s *OperationService) releaseLock() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

func (s *OperationService) auditLog(ctx context.Context, event string, detail map[string]any) {
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
