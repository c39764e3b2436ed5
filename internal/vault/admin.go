package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
)

// Every administrative mutator asserts the vault is not inside an operation
// envelope. A parameter change landing between start and finalize would let
// stale expectations pass checks they were never validated against; the
// loss-budget reset in particular would erase accumulated loss and defeat
// the budget entirely.

// SetLossTolerance replaces the per-epoch loss tolerance fraction.
func (e *Engine) SetLossTolerance(ctx context.Context, caller common.Address, fraction *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return fmt.Errorf("vault: set loss tolerance: %w", err)
	}
	if fraction == nil || fraction.IsZero() || fraction.Cmp(MaxLossTolerance) > 0 {
		return fmt.Errorf("vault: loss tolerance must be in (0, %s]: %w", MaxLossTolerance.Dec(), domain.ErrConfiguration)
	}
	e.params.LossTolerance = new(uint256.Int).Set(fraction)

	e.logger.InfoContext(ctx, "loss tolerance updated", slog.String("fraction", fraction.Dec()))
	return nil
}

// SetFees replaces the deposit and withdraw fee fractions.
func (e *Engine) SetFees(ctx context.Context, caller common.Address, depositFee, withdrawFee *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return fmt.Errorf("vault: set fees: %w", err)
	}
	if depositFee == nil || depositFee.Cmp(MaxFee) > 0 {
		return fmt.Errorf("vault: deposit fee must be in [0, %s]: %w", MaxFee.Dec(), domain.ErrConfiguration)
	}
	if withdrawFee == nil || withdrawFee.Cmp(MaxFee) > 0 {
		return fmt.Errorf("vault: withdraw fee must be in [0, %s]: %w", MaxFee.Dec(), domain.ErrConfiguration)
	}
	e.params.DepositFee = new(uint256.Int).Set(depositFee)
	e.params.WithdrawFee = new(uint256.Int).Set(withdrawFee)

	e.logger.InfoContext(ctx, "fees updated",
		slog.String("deposit_fee", depositFee.Dec()),
		slog.String("withdraw_fee", withdrawFee.Dec()),
	)
	return nil
}

// SetOracleInterval replaces the oracle staleness window. The floor check
// lives in the aggregator; the status gate lives here.
func (e *Engine) SetOracleInterval(ctx context.Context, caller common.Address, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return fmt.Errorf("vault: set oracle interval: %w", err)
	}
	if err := e.oracle.SetUpdateInterval(d); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "oracle interval updated", slog.Duration("interval", d))
	return nil
}

// SetEnabled toggles between Normal and Disabled. The transition is legal
// only between those two states, never out of DuringOperation.
func (e *Engine) SetEnabled(ctx context.Context, caller common.Address, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return fmt.Errorf("vault: set enabled: %w", err)
	}
	if enabled {
		e.state.Status = domain.StatusNormal
	} else {
		e.state.Status = domain.StatusDisabled
	}
	e.state.UpdatedAt = e.now()

	e.logger.InfoContext(ctx, "vault status set", slog.String("status", string(e.state.Status)))
	return nil
}

// ResetLossBudget zeroes accumulated epoch loss and re-baselines the epoch
// starting value at the current total.
func (e *Engine) ResetLossBudget(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return fmt.Errorf("vault: reset loss budget: %w", err)
	}

	e.state.EpochID = e.epochID(e.now())
	e.state.EpochLoss = uint256.NewInt(0)
	e.state.EpochStartingUSD = new(uint256.Int).Set(e.state.TotalUSD)
	e.state.UpdatedAt = e.now()

	e.logger.InfoContext(ctx, "loss budget reset",
		slog.Uint64("epoch_id", e.state.EpochID),
		slog.String("baseline_usd", e.state.EpochStartingUSD.Dec()),
	)
	return nil
}

// CollectFees pays out the accrued protocol fee balance.
func (e *Engine) CollectFees(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return nil, fmt.Errorf("vault: collect fees: %w", err)
	}

	out := e.state.FeeBalance
	e.state.FeeBalance = uint256.NewInt(0)
	e.state.UpdatedAt = e.now()

	e.logger.InfoContext(ctx, "fees collected", slog.String("amount", out.Dec()))
	return out, nil
}

// AddOperator grants the operator role to an address.
func (e *Engine) AddOperator(ctx context.Context, caller, operator common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return fmt.Errorf("vault: add operator: %w", err)
	}
	e.operators[operator] = true

	e.logger.InfoContext(ctx, "operator added", slog.String("operator", operator.Hex()))
	return nil
}

// RemoveOperator revokes the operator role.
func (e *Engine) RemoveOperator(ctx context.Context, caller, operator common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.requireNotDuringOperation(); err != nil {
		return fmt.Errorf("vault: remove operator: %w", err)
	}
	delete(e.operators, operator)

	e.logger.InfoContext(ctx, "operator removed", slog.String("operator", operator.Hex()))
	return nil
}
