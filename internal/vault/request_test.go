package vault

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/harborfi/vaultd/internal/adaptor"
	"github.com/harborfi/vaultd/internal/domain"
)

func TestDepositLifecycle(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	r, err := v.e.OpenReceipt(ctx, aliceAddr)
	require.NoError(t, err)

	req, err := v.e.RequestDeposit(ctx, aliceAddr, r.ID, usd(100), nil)
	require.NoError(t, err)

	buffered, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.Equal(t, usd(100), buffered.PendingDeposit)
	require.True(t, buffered.Shares.IsZero())

	shares, err := v.e.ExecuteDeposit(ctx, operatorAddr, req.ID)
	require.NoError(t, err)
	require.Equal(t, usd(100), shares)

	settled, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.True(t, settled.PendingDeposit.IsZero())
	require.Equal(t, usd(100), settled.Shares)
	require.Equal(t, usd(100), v.e.TotalUSD())
	require.Equal(t, usd(100), v.e.FreePrincipal())
}

func TestRequestDepositRequiresOwner(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	r, err := v.e.OpenReceipt(ctx, aliceAddr)
	require.NoError(t, err)
	_, err = v.e.RequestDeposit(ctx, bobAddr, r.ID, usd(100), nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestExecuteDepositRequiresOperator(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	r, err := v.e.OpenReceipt(ctx, aliceAddr)
	require.NoError(t, err)
	req, err := v.e.RequestDeposit(ctx, aliceAddr, r.ID, usd(100), nil)
	require.NoError(t, err)
	_, err = v.e.ExecuteDeposit(ctx, aliceAddr, req.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestExecuteDepositShareBound(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	r, err := v.e.OpenReceipt(ctx, aliceAddr)
	require.NoError(t, err)
	bound := new(uint256.Int).Add(usd(100), uint256.NewInt(1))
	req, err := v.e.RequestDeposit(ctx, aliceAddr, r.ID, usd(100), bound)
	require.NoError(t, err)

	_, err = v.e.ExecuteDeposit(ctx, operatorAddr, req.ID)
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)

	// The request survives a failed execution and remains cancellable.
	v.advance(testParams().CancelCooldown)
	refund, err := v.e.CancelDeposit(ctx, aliceAddr, req.ID)
	require.NoError(t, err)
	require.Equal(t, usd(100), refund)
}

func TestCancelDepositCooldown(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	r, err := v.e.OpenReceipt(ctx, aliceAddr)
	require.NoError(t, err)
	req, err := v.e.RequestDeposit(ctx, aliceAddr, r.ID, usd(100), nil)
	require.NoError(t, err)

	_, err = v.e.CancelDeposit(ctx, aliceAddr, req.ID)
	require.ErrorIs(t, err, domain.ErrRequestLocked)

	v.advance(10 * time.Minute)
	refund, err := v.e.CancelDeposit(ctx, aliceAddr, req.ID)
	require.NoError(t, err)
	require.Equal(t, usd(100), refund)

	cleared, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.True(t, cleared.PendingDeposit.IsZero())

	_, err = v.e.CancelDeposit(ctx, aliceAddr, req.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransferReceiptMovesCancellationRights(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	r, err := v.e.OpenReceipt(ctx, aliceAddr)
	require.NoError(t, err)
	req, err := v.e.RequestDeposit(ctx, aliceAddr, r.ID, usd(100), nil)
	require.NoError(t, err)

	require.ErrorIs(t, v.e.TransferReceipt(ctx, bobAddr, r.ID, bobAddr), domain.ErrUnauthorized)
	require.NoError(t, v.e.TransferReceipt(ctx, aliceAddr, r.ID, bobAddr))

	v.advance(10 * time.Minute)
	_, err = v.e.CancelDeposit(ctx, aliceAddr, req.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	refund, err := v.e.CancelDeposit(ctx, bobAddr, req.ID)
	require.NoError(t, err)
	require.Equal(t, usd(100), refund)
}

func TestRequestWithdrawMinHolding(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	r := v.deposit(t, aliceAddr, usd(100))

	_, err := v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(50), usd(0), usd(100))
	require.ErrorIs(t, err, domain.ErrHoldingTooShort)

	v.advance(24 * time.Hour)
	_, err = v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(50), usd(0), usd(100))
	require.NoError(t, err)
}

func TestRequestWithdrawInsufficientShares(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	r := v.deposit(t, aliceAddr, usd(100))

	v.advance(24 * time.Hour)
	_, err := v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(150), usd(0), usd(200))
	require.ErrorIs(t, err, domain.ErrInsufficientFree)
}

func TestWithdrawLifecycle(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	r := v.deposit(t, aliceAddr, usd(100))

	v.advance(24 * time.Hour)
	req, err := v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(40), usd(0), usd(100))
	require.NoError(t, err)

	escrowed, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.Equal(t, usd(60), escrowed.Shares)
	require.Equal(t, usd(40), escrowed.PendingShares)

	payout, err := v.e.ExecuteWithdraw(ctx, operatorAddr, req.ID)
	require.NoError(t, err)
	require.Equal(t, usd(40), payout)

	settled, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.True(t, settled.PendingShares.IsZero())
	require.Equal(t, usd(60), v.e.TotalShares())
	require.Equal(t, usd(60), v.e.TotalUSD())
	require.Equal(t, usd(60), v.e.FreePrincipal())
}

func TestExecuteWithdrawPayoutBounds(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	r := v.deposit(t, aliceAddr, usd(100))

	v.advance(24 * time.Hour)
	req, err := v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(40), usd(41), usd(50))
	require.NoError(t, err)

	_, err = v.e.ExecuteWithdraw(ctx, operatorAddr, req.ID)
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)

	// Escrow is untouched by the failed execution.
	held, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.Equal(t, usd(40), held.PendingShares)

	require.ErrorIs(t, v.e.CancelWithdraw(ctx, aliceAddr, req.ID), domain.ErrRequestLocked)
	v.advance(10 * time.Minute)
	require.NoError(t, v.e.CancelWithdraw(ctx, aliceAddr, req.ID))
}

func TestExecuteWithdrawFeeInForceAtExecution(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	r := v.deposit(t, aliceAddr, usd(100))

	v.advance(24 * time.Hour)
	req, err := v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(40), usd(0), usd(100))
	require.NoError(t, err)

	// The fee configured after the request is the one charged.
	require.NoError(t, v.e.SetFees(ctx, adminAddr, uint256.NewInt(0), uint256.NewInt(10_000_000)))

	payout, err := v.e.ExecuteWithdraw(ctx, operatorAddr, req.ID)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(39_600_000_000), payout)

	fees, err := v.e.CollectFees(ctx, adminAddr)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(400_000_000), fees)
}

func TestExecuteWithdrawInsufficientFree(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	r := v.deposit(t, aliceAddr, usd(1000))

	// Deploy most of the principal so the payout cannot be covered.
	_, _, err := v.e.StartOperation(ctx, operatorAddr, nil)
	require.NoError(t, err)
	pos := &adaptor.StakingPosition{AssetKey: stakingKey("haedal"), Underlying: "SUI", CertBalance: usd(600)}
	require.NoError(t, v.e.DeployPrincipal(ctx, operatorAddr, pos, usd(600)))
	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)

	v.advance(24 * time.Hour)
	req, err := v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(500), usd(0), usd(1000))
	require.NoError(t, err)

	_, err = v.e.ExecuteWithdraw(ctx, operatorAddr, req.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientFree)
}

func TestCancelWithdrawRestoresShares(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	r := v.deposit(t, aliceAddr, usd(100))

	v.advance(24 * time.Hour)
	req, err := v.e.RequestWithdraw(ctx, aliceAddr, r.ID, usd(40), usd(0), usd(100))
	require.NoError(t, err)

	require.ErrorIs(t, v.e.CancelWithdraw(ctx, bobAddr, req.ID), domain.ErrUnauthorized)
	require.ErrorIs(t, v.e.CancelWithdraw(ctx, aliceAddr, req.ID), domain.ErrRequestLocked)

	v.advance(10 * time.Minute)
	require.NoError(t, v.e.CancelWithdraw(ctx, aliceAddr, req.ID))

	restored, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.Equal(t, usd(100), restored.Shares)
	require.True(t, restored.PendingShares.IsZero())
}
