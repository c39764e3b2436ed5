package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/fixed"
)

// feeOn returns amount x fraction, treating a fee too small to represent as
// zero. Other arithmetic failures propagate.
func feeOn(amount, fraction *uint256.Int) (*uint256.Int, error) {
	if fraction.IsZero() || amount.IsZero() {
		return uint256.NewInt(0), nil
	}
	fee, err := fixed.Mul(amount, fraction)
	if err != nil {
		if errors.Is(err, fixed.ErrBelowScale) {
			return uint256.NewInt(0), nil
		}
		return nil, err
	}
	return fee, nil
}

// OpenReceipt creates an empty receipt owned by the caller. Receipts are the
// credential for everything a depositor does afterwards.
func (e *Engine) OpenReceipt(ctx context.Context, caller common.Address) (domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNormal(); err != nil {
		return domain.Receipt{}, fmt.Errorf("vault: open receipt: %w", err)
	}
	r := domain.NewReceipt(caller, e.now())
	e.receipts[r.ID] = r

	e.logger.InfoContext(ctx, "receipt opened",
		slog.String("receipt_id", r.ID.String()),
		slog.String("owner", caller.Hex()),
	)
	return *r, nil
}

// TransferReceipt reassigns receipt ownership. Pending requests survive the
// transfer; cancellation and withdrawal rights move with the receipt.
func (e *Engine) TransferReceipt(ctx context.Context, caller common.Address, id uuid.UUID, newOwner common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.receipts[id]
	if !ok {
		return fmt.Errorf("vault: transfer receipt %s: %w", id, domain.ErrNotFound)
	}
	if r.Owner != caller {
		return fmt.Errorf("vault: transfer receipt %s: caller %s is not the owner: %w", id, caller, domain.ErrUnauthorized)
	}
	r.Owner = newOwner

	e.logger.InfoContext(ctx, "receipt transferred",
		slog.String("receipt_id", id.String()),
		slog.String("new_owner", newOwner.Hex()),
	)
	return nil
}

// RequestDeposit buffers principal on the caller's receipt and records an
// immutable deposit intent with its share slippage bound.
func (e *Engine) RequestDeposit(ctx context.Context, caller common.Address, receiptID uuid.UUID, amount, minShares *uint256.Int) (domain.DepositRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNormal(); err != nil {
		return domain.DepositRequest{}, fmt.Errorf("vault: request deposit: %w", err)
	}
	r, ok := e.receipts[receiptID]
	if !ok {
		return domain.DepositRequest{}, fmt.Errorf("vault: request deposit: receipt %s: %w", receiptID, domain.ErrNotFound)
	}
	if r.Owner != caller {
		return domain.DepositRequest{}, fmt.Errorf("vault: request deposit: caller %s does not own receipt: %w", caller, domain.ErrUnauthorized)
	}
	if amount == nil || amount.IsZero() {
		return domain.DepositRequest{}, fmt.Errorf("vault: request deposit: zero amount: %w", domain.ErrConfiguration)
	}
	if minShares == nil {
		minShares = uint256.NewInt(0)
	}

	req := domain.DepositRequest{
		ID:        uuid.New(),
		ReceiptID: receiptID,
		Amount:    new(uint256.Int).Set(amount),
		MinShares: new(uint256.Int).Set(minShares),
		Recipient: r.Owner,
		CreatedAt: e.now(),
	}
	r.PendingDeposit.Add(r.PendingDeposit, amount)
	e.deposits[req.ID] = req

	e.logger.InfoContext(ctx, "deposit requested",
		slog.String("request_id", req.ID.String()),
		slog.String("amount", amount.Dec()),
	)
	return req, nil
}

// ExecuteDeposit consumes a deposit request at the current share price. The
// minted shares must meet the bound recorded at request time; a price that
// moved past the bound fails with ErrSlippageExceeded and the request stays
// open for cancellation.
func (e *Engine) ExecuteDeposit(ctx context.Context, caller common.Address, id uuid.UUID) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return nil, err
	}
	if err := e.requireNormal(); err != nil {
		return nil, fmt.Errorf("vault: execute deposit: %w", err)
	}
	req, ok := e.deposits[id]
	if !ok {
		return nil, fmt.Errorf("vault: execute deposit %s: %w", id, domain.ErrNotFound)
	}
	r, ok := e.receipts[req.ReceiptID]
	if !ok {
		return nil, fmt.Errorf("vault: execute deposit %s: receipt vanished: %w", id, domain.ErrInvariantViolation)
	}

	fee, err := feeOn(req.Amount, e.params.DepositFee)
	if err != nil {
		return nil, fmt.Errorf("vault: execute deposit %s: fee: %w", id, err)
	}
	net := new(uint256.Int).Sub(req.Amount, fee)

	price, err := SharePrice(e.state.TotalUSD, e.state.TotalShares)
	if err != nil {
		return nil, fmt.Errorf("vault: execute deposit %s: %w", id, err)
	}
	shares, err := MintShares(net, price)
	if err != nil {
		return nil, fmt.Errorf("vault: execute deposit %s: %w", id, err)
	}
	if shares.Cmp(req.MinShares) < 0 {
		return nil, fmt.Errorf("vault: execute deposit %s: minted %s below bound %s: %w",
			id, shares.Dec(), req.MinShares.Dec(), domain.ErrSlippageExceeded)
	}

	now := e.now()
	r.PendingDeposit.Sub(r.PendingDeposit, req.Amount)
	r.Shares.Add(r.Shares, shares)
	r.LastDepositAt = now
	e.state.TotalShares.Add(e.state.TotalShares, shares)
	e.state.TotalUSD.Add(e.state.TotalUSD, net)
	e.state.FreePrincipal.Add(e.state.FreePrincipal, net)
	e.state.FeeBalance.Add(e.state.FeeBalance, fee)
	e.state.UpdatedAt = now
	delete(e.deposits, id)

	e.logger.InfoContext(ctx, "deposit executed",
		slog.String("request_id", id.String()),
		slog.String("shares", shares.Dec()),
		slog.String("share_price", price.Dec()),
	)
	return shares, nil
}

// CancelDeposit refunds a buffered deposit after the cooldown. Authorization
// is against the live receipt owner, never the recipient snapshot captured at
// request time: a transferred receipt takes its cancellation rights with it.
func (e *Engine) CancelDeposit(ctx context.Context, caller common.Address, id uuid.UUID) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNormal(); err != nil {
		return nil, fmt.Errorf("vault: cancel deposit: %w", err)
	}
	req, ok := e.deposits[id]
	if !ok {
		return nil, fmt.Errorf("vault: cancel deposit %s: %w", id, domain.ErrNotFound)
	}
	r, ok := e.receipts[req.ReceiptID]
	if !ok {
		return nil, fmt.Errorf("vault: cancel deposit %s: receipt vanished: %w", id, domain.ErrInvariantViolation)
	}
	if r.Owner != caller {
		return nil, fmt.Errorf("vault: cancel deposit %s: caller %s does not hold the receipt: %w",
			id, caller, domain.ErrUnauthorized)
	}
	if e.now().Sub(req.CreatedAt) < e.params.CancelCooldown {
		return nil, fmt.Errorf("vault: cancel deposit %s: cooldown not elapsed: %w", id, domain.ErrRequestLocked)
	}

	refund := new(uint256.Int).Set(req.Amount)
	r.PendingDeposit.Sub(r.PendingDeposit, req.Amount)
	delete(e.deposits, id)

	e.logger.InfoContext(ctx, "deposit cancelled",
		slog.String("request_id", id.String()),
		slog.String("refund", refund.Dec()),
	)
	return refund, nil
}

// RequestWithdraw escrows shares from the caller's receipt and records an
// immutable withdraw intent with its payout bounds.
func (e *Engine) RequestWithdraw(ctx context.Context, caller common.Address, receiptID uuid.UUID, shares, minAmount, maxAmount *uint256.Int) (domain.WithdrawRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNormal(); err != nil {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: request withdraw: %w", err)
	}
	r, ok := e.receipts[receiptID]
	if !ok {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: request withdraw: receipt %s: %w", receiptID, domain.ErrNotFound)
	}
	if r.Owner != caller {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: request withdraw: caller %s does not own receipt: %w", caller, domain.ErrUnauthorized)
	}
	if shares == nil || shares.IsZero() {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: request withdraw: zero shares: %w", domain.ErrConfiguration)
	}
	if r.Shares.Cmp(shares) < 0 {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: request withdraw: %s shares held, %s requested: %w",
			r.Shares.Dec(), shares.Dec(), domain.ErrInsufficientFree)
	}
	if minAmount == nil || maxAmount == nil || minAmount.Cmp(maxAmount) > 0 {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: request withdraw: invalid payout bounds: %w", domain.ErrConfiguration)
	}
	if e.now().Sub(r.LastDepositAt) < e.params.MinHolding {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: request withdraw: %w", domain.ErrHoldingTooShort)
	}

	req := domain.WithdrawRequest{
		ID:        uuid.New(),
		ReceiptID: receiptID,
		Shares:    new(uint256.Int).Set(shares),
		MinAmount: new(uint256.Int).Set(minAmount),
		MaxAmount: new(uint256.Int).Set(maxAmount),
		Recipient: r.Owner,
		CreatedAt: e.now(),
	}
	r.Shares.Sub(r.Shares, shares)
	r.PendingShares.Add(r.PendingShares, shares)
	e.withdraws[req.ID] = req

	e.logger.InfoContext(ctx, "withdraw requested",
		slog.String("request_id", req.ID.String()),
		slog.String("shares", shares.Dec()),
	)
	return req, nil
}

// ExecuteWithdraw consumes a withdraw request at the current share price and
// the currently configured withdraw fee. Charging the fee in force at
// execution (not the fee at request time) is deliberate: the alternative
// silently mixes two fee schedules inside one payout. The payout must land
// inside the request's bounds and be covered by free principal.
func (e *Engine) ExecuteWithdraw(ctx context.Context, caller common.Address, id uuid.UUID) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOperator(caller); err != nil {
		return nil, err
	}
	if err := e.requireNormal(); err != nil {
		return nil, fmt.Errorf("vault: execute withdraw: %w", err)
	}
	req, ok := e.withdraws[id]
	if !ok {
		return nil, fmt.Errorf("vault: execute withdraw %s: %w", id, domain.ErrNotFound)
	}
	r, ok := e.receipts[req.ReceiptID]
	if !ok {
		return nil, fmt.Errorf("vault: execute withdraw %s: receipt vanished: %w", id, domain.ErrInvariantViolation)
	}

	price, err := SharePrice(e.state.TotalUSD, e.state.TotalShares)
	if err != nil {
		return nil, fmt.Errorf("vault: execute withdraw %s: %w", id, err)
	}
	gross, err := BurnAmount(req.Shares, price)
	if err != nil {
		return nil, fmt.Errorf("vault: execute withdraw %s: %w", id, err)
	}
	fee, err := feeOn(gross, e.params.WithdrawFee)
	if err != nil {
		return nil, fmt.Errorf("vault: execute withdraw %s: fee: %w", id, err)
	}
	payout := new(uint256.Int).Sub(gross, fee)

	if payout.Cmp(req.MinAmount) < 0 || payout.Cmp(req.MaxAmount) > 0 {
		return nil, fmt.Errorf("vault: execute withdraw %s: payout %s outside [%s, %s]: %w",
			id, payout.Dec(), req.MinAmount.Dec(), req.MaxAmount.Dec(), domain.ErrSlippageExceeded)
	}
	if e.state.FreePrincipal.Cmp(gross) < 0 {
		return nil, fmt.Errorf("vault: execute withdraw %s: need %s free, have %s: %w",
			id, gross.Dec(), e.state.FreePrincipal.Dec(), domain.ErrInsufficientFree)
	}

	now := e.now()
	r.PendingShares.Sub(r.PendingShares, req.Shares)
	e.state.TotalShares.Sub(e.state.TotalShares, req.Shares)
	e.state.TotalUSD.Sub(e.state.TotalUSD, gross)
	e.state.FreePrincipal.Sub(e.state.FreePrincipal, gross)
	e.state.FeeBalance.Add(e.state.FeeBalance, fee)
	e.state.UpdatedAt = now
	delete(e.withdraws, id)

	e.logger.InfoContext(ctx, "withdraw executed",
		slog.String("request_id", id.String()),
		slog.String("payout", payout.Dec()),
		slog.String("share_price", price.Dec()),
	)
	return payout, nil
}

// CancelWithdraw returns escrowed shares after the cooldown, authorized
// against the live receipt owner.
func (e *Engine) CancelWithdraw(ctx context.Context, caller common.Address, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNormal(); err != nil {
		return fmt.Errorf("vault: cancel withdraw: %w", err)
	}
	req, ok := e.withdraws[id]
	if !ok {
		return fmt.Errorf("vault: cancel withdraw %s: %w", id, domain.ErrNotFound)
	}
	r, ok := e.receipts[req.ReceiptID]
	if !ok {
		return fmt.Errorf("vault: cancel withdraw %s: receipt vanished: %w", id, domain.ErrInvariantViolation)
	}
	if r.Owner != caller {
		return fmt.Errorf("vault: cancel withdraw %s: caller %s does not hold the receipt: %w",
			id, caller, domain.ErrUnauthorized)
	}
	if e.now().Sub(req.CreatedAt) < e.params.CancelCooldown {
		return fmt.Errorf("vault: cancel withdraw %s: cooldown not elapsed: %w", id, domain.ErrRequestLocked)
	}

	r.PendingShares.Sub(r.PendingShares, req.Shares)
	r.Shares.Add(r.Shares, req.Shares)
	delete(e.withdraws, id)

	e.logger.InfoContext(ctx, "withdraw cancelled", slog.String("request_id", id.String()))
	return nil
}
