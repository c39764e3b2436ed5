package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/adaptor"
	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/fixed"
)

// StartOperation opens an operation envelope: it snapshots the pre-image
// total value and share count, hands the borrowed positions to the operator,
// and moves the vault to DuringOperation. The loss-budget epoch rolls forward
// here when the clock has crossed an epoch boundary since the last roll.
//
// Until FinalizeOperation succeeds the vault stays DuringOperation and every
// user-facing request is blocked. There is no timeout and no force path: an
// abandoned envelope is an operator problem, not a safety hole.
func (e *Engine) StartOperation(ctx context.Context, caller common.Address, keys []domain.AssetKey) (uuid.UUID, []adaptor.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return uuid.Nil, nil, err
	}
	if err := e.requireNormal(); err != nil {
		return uuid.Nil, nil, fmt.Errorf("vault: start operation: %w", err)
	}

	borrowed := make([]adaptor.Position, 0, len(keys))
	borrowedSet := make(map[domain.AssetKey]bool, len(keys))
	for _, k := range keys {
		pos, ok := e.positions[k]
		if !ok {
			return uuid.Nil, nil, fmt.Errorf("vault: start operation: asset %s: %w", k, domain.ErrNotFound)
		}
		if borrowedSet[k] {
			return uuid.Nil, nil, fmt.Errorf("vault: start operation: asset %s listed twice: %w", k, domain.ErrInvariantViolation)
		}
		borrowedSet[k] = true
		borrowed = append(borrowed, pos)
	}

	now := e.now()

	// Roll the loss-budget epoch if the ledger epoch advanced, or seed the
	// epoch baseline on the very first operation.
	if id := e.epochID(now); id > e.state.EpochID || e.state.EpochStartingUSD.IsZero() {
		e.state.EpochID = id
		e.state.EpochLoss = uint256.NewInt(0)
		e.state.EpochStartingUSD = new(uint256.Int).Set(e.state.TotalUSD)
	}

	e.op = &domain.OperationRecord{
		ID:             uuid.New(),
		StartedAt:      now,
		StartingUSD:    new(uint256.Int).Set(e.state.TotalUSD),
		StartingShares: new(uint256.Int).Set(e.state.TotalShares),
		Borrowed:       borrowedSet,
		Updated:        make(map[domain.AssetKey]bool, len(keys)),
	}
	e.state.Status = domain.StatusDuringOperation
	e.state.UpdatedAt = now

	e.logger.InfoContext(ctx, "operation started",
		slog.String("operation_id", e.op.ID.String()),
		slog.Int("borrowed", len(keys)),
		slog.String("starting_usd", e.op.StartingUSD.Dec()),
	)
	return e.op.ID, borrowed, nil
}

// DeployPrincipal moves free principal into a new position created by the
// operator. Legal only inside an open envelope; the new key joins the
// envelope's borrowed set with its value freshly booked at the deployed
// amount.
func (e *Engine) DeployPrincipal(ctx context.Context, caller common.Address, pos adaptor.Position, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if e.op == nil {
		return fmt.Errorf("vault: deploy principal: %w", domain.ErrNoOperationOpen)
	}
	key := pos.Key()
	if !key.Adaptor.Valid() {
		return fmt.Errorf("vault: deploy principal: unknown adaptor %q: %w", key.Adaptor, domain.ErrUnknownAsset)
	}
	if _, exists := e.positions[key]; exists {
		return fmt.Errorf("vault: deploy principal: asset %s: %w", key, domain.ErrAlreadyExists)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("vault: deploy principal: zero amount: %w", domain.ErrInvariantViolation)
	}
	if e.state.FreePrincipal.Cmp(amount) < 0 {
		return fmt.Errorf("vault: deploy principal: need %s have %s: %w",
			amount.Dec(), e.state.FreePrincipal.Dec(), domain.ErrInsufficientFree)
	}

	now := e.now()
	e.state.FreePrincipal.Sub(e.state.FreePrincipal, amount)
	e.positions[key] = pos
	e.state.AssetValues[key] = domain.AssetValue{Key: key, USD: new(uint256.Int).Set(amount), UpdatedAt: now}
	e.op.Borrowed[key] = true
	e.op.Updated[key] = true
	e.state.UpdatedAt = now

	e.logger.InfoContext(ctx, "principal deployed",
		slog.String("asset", key.String()),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// BorrowedPositions returns the positions held by the open envelope.
func (e *Engine) BorrowedPositions() ([]adaptor.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.op == nil {
		return nil, fmt.Errorf("vault: borrowed positions: %w", domain.ErrNoOperationOpen)
	}
	out := make([]adaptor.Position, 0, len(e.op.Borrowed))
	for k := range e.op.Borrowed {
		if pos, ok := e.positions[k]; ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

// RetirePosition destroys a borrowed position on full withdrawal, crediting
// the realized proceeds back to free principal.
func (e *Engine) RetirePosition(ctx context.Context, caller common.Address, key domain.AssetKey, proceeds *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if e.op == nil {
		return fmt.Errorf("vault: retire position: %w", domain.ErrNoOperationOpen)
	}
	if !e.op.Borrowed[key] {
		return fmt.Errorf("vault: retire position: asset %s not borrowed by this operation: %w", key, domain.ErrInvariantViolation)
	}
	if proceeds == nil {
		return fmt.Errorf("vault: retire position: nil proceeds: %w", domain.ErrInvariantViolation)
	}

	now := e.now()
	delete(e.positions, key)
	delete(e.state.AssetValues, key)
	e.state.FreePrincipal.Add(e.state.FreePrincipal, proceeds)
	e.op.Updated[key] = true
	e.state.UpdatedAt = now

	e.logger.InfoContext(ctx, "position retired",
		slog.String("asset", key.String()),
		slog.String("proceeds", proceeds.Dec()),
	)
	return nil
}

// ValuePosition runs the position's valuator against live market state and
// the oracle. Read-only; operators use the result as the input to
// UpdateAssetValue.
func (e *Engine) ValuePosition(ctx context.Context, key domain.AssetKey, market adaptor.MarketState) (*uint256.Int, error) {
	e.mu.Lock()
	pos, ok := e.positions[key]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("vault: value position %s: %w", key, domain.ErrNotFound)
	}

	valuator, err := e.valuators.Get(key.Adaptor)
	if err != nil {
		return nil, err
	}
	return valuator.Value(ctx, pos, market, e.oracle)
}

// UpdateAssetValue records a post-start revaluation for a borrowed asset.
// A zero value is rejected: an existing position that cannot be priced is an
// error condition, and a genuinely emptied position is retired instead.
func (e *Engine) UpdateAssetValue(ctx context.Context, caller common.Address, key domain.AssetKey, usd *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if e.op == nil {
		return fmt.Errorf("vault: update asset value: %w", domain.ErrNoOperationOpen)
	}
	if !e.op.Borrowed[key] {
		return fmt.Errorf("vault: update asset value: asset %s not borrowed by this operation: %w", key, domain.ErrInvariantViolation)
	}
	if usd == nil || usd.IsZero() {
		return fmt.Errorf("vault: update asset value: zero value for %s: %w", key, domain.ErrInvariantViolation)
	}

	now := e.now()
	e.state.AssetValues[key] = domain.AssetValue{Key: key, USD: new(uint256.Int).Set(usd), UpdatedAt: now}
	e.op.Updated[key] = true
	e.state.UpdatedAt = now

	e.logger.InfoContext(ctx, "asset revalued",
		slog.String("asset", key.String()),
		slog.String("usd", usd.Dec()),
	)
	return nil
}

// FinalizeOperation closes the envelope: every borrowed key must carry a
// post-start revaluation, the recomputed total must keep accumulated epoch
// loss within budget, and the share count must match the start snapshot.
// All checks run on temporaries; state changes only after the last check.
func (e *Engine) FinalizeOperation(ctx context.Context, caller common.Address) (domain.ValuationSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return domain.ValuationSnapshot{}, err
	}
	if e.op == nil || e.state.Status != domain.StatusDuringOperation {
		return domain.ValuationSnapshot{}, fmt.Errorf("vault: finalize: %w", domain.ErrNoOperationOpen)
	}
	if !e.op.AllUpdated() {
		return domain.ValuationSnapshot{}, fmt.Errorf("vault: finalize: %d of %d borrowed assets not revalued: %w",
			len(e.op.Borrowed)-len(e.op.Updated), len(e.op.Borrowed), domain.ErrInvariantViolation)
	}

	now := e.now()
	newTotal, err := e.aggregateValue(now)
	if err != nil {
		return domain.ValuationSnapshot{}, fmt.Errorf("vault: finalize: %w", err)
	}

	// Operations must not mint or burn shares as a side channel.
	if e.state.TotalShares.Cmp(e.op.StartingShares) != 0 {
		return domain.ValuationSnapshot{}, fmt.Errorf("vault: finalize: share count drifted from %s to %s: %w",
			e.op.StartingShares.Dec(), e.state.TotalShares.Dec(), domain.ErrInvariantViolation)
	}

	newLoss := new(uint256.Int).Set(e.state.EpochLoss)
	if newTotal.Cmp(e.op.StartingUSD) < 0 {
		newLoss.Add(newLoss, new(uint256.Int).Sub(e.op.StartingUSD, newTotal))
	}
	budget := uint256.NewInt(0)
	if !e.state.EpochStartingUSD.IsZero() {
		b, err := fixed.Mul(e.state.EpochStartingUSD, e.params.LossTolerance)
		switch {
		case err == nil:
			budget = b
		case errors.Is(err, fixed.ErrBelowScale):
			// A baseline so small the budget truncates to zero simply
			// leaves no loss allowance this epoch.
		default:
			return domain.ValuationSnapshot{}, fmt.Errorf("vault: finalize: loss budget: %w", err)
		}
	}
	if newLoss.Cmp(budget) > 0 {
		return domain.ValuationSnapshot{}, fmt.Errorf("vault: finalize: epoch loss %s over budget %s: %w",
			newLoss.Dec(), budget.Dec(), domain.ErrLossBudgetExceeded)
	}

	op := e.op
	e.state.TotalUSD = newTotal
	e.state.EpochLoss = newLoss
	e.state.Status = domain.StatusNormal
	e.state.UpdatedAt = now
	e.op = nil

	snap := domain.ValuationSnapshot{
		OperationID: op.ID,
		EpochID:     e.state.EpochID,
		StartingUSD: new(uint256.Int).Set(op.StartingUSD),
		FinalUSD:    new(uint256.Int).Set(newTotal),
		EpochLoss:   new(uint256.Int).Set(newLoss),
		TotalShares: new(uint256.Int).Set(e.state.TotalShares),
		AssetValues: make(map[string]string, len(e.state.AssetValues)),
		FinalizedAt: now,
	}
	for k, v := range e.state.AssetValues {
		snap.AssetValues[k.String()] = v.USD.Dec()
	}

	e.logger.InfoContext(ctx, "operation finalized",
		slog.String("operation_id", op.ID.String()),
		slog.String("starting_usd", op.StartingUSD.Dec()),
		slog.String("final_usd", newTotal.Dec()),
		slog.String("epoch_loss", newLoss.Dec()),
	)
	return snap, nil
}

// aggregateValue recomputes total USD value from free principal plus every
// per-asset value, requiring each to be within the staleness window.
func (e *Engine) aggregateValue(now time.Time) (*uint256.Int, error) {
	total := new(uint256.Int).Set(e.state.FreePrincipal)
	for k, v := range e.state.AssetValues {
		if now.Sub(v.UpdatedAt) > e.params.MaxStaleness {
			return nil, fmt.Errorf("asset %s last valued %s ago: %w", k, now.Sub(v.UpdatedAt), domain.ErrStalePrice)
		}
		total.Add(total, v.USD)
	}
	return total, nil
}
