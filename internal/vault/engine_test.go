package vault

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/harborfi/vaultd/internal/adaptor"
	"github.com/harborfi/vaultd/internal/cache/memory"
	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/oracle"
)

var (
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	aliceAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bobAddr      = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

// usd returns a whole-dollar amount at 9dp.
func usd(whole uint64) *uint256.Int {
	return uint256.NewInt(whole * 1_000_000_000)
}

func testParams() Params {
	return Params{
		LossTolerance:  uint256.NewInt(100_000_000), // 10%
		DepositFee:     uint256.NewInt(0),
		WithdrawFee:    uint256.NewInt(0),
		CancelCooldown: 10 * time.Minute,
		MinHolding:     24 * time.Hour,
		MaxStaleness:   5 * time.Minute,
		EpochLength:    24 * time.Hour,
	}
}

// testVault wraps an engine with a movable clock.
type testVault struct {
	e   *Engine
	now time.Time
}

func newTestVault(t *testing.T, params Params) *testVault {
	t.Helper()
	agg, err := oracle.New(memory.NewPriceCache(), time.Minute, slog.Default())
	require.NoError(t, err)

	e, err := New(params, adminAddr, agg, adaptor.NewRegistry(adaptor.StakingValuator{}), slog.Default())
	require.NoError(t, err)

	v := &testVault{e: e, now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	e.SetClock(func() time.Time { return v.now })
	require.NoError(t, e.AddOperator(context.Background(), adminAddr, operatorAddr))
	return v
}

func (v *testVault) advance(d time.Duration) { v.now = v.now.Add(d) }

// deposit opens a receipt for owner and runs a full deposit through it.
func (v *testVault) deposit(t *testing.T, owner common.Address, amount *uint256.Int) domain.Receipt {
	t.Helper()
	ctx := context.Background()

	r, err := v.e.OpenReceipt(ctx, owner)
	require.NoError(t, err)
	req, err := v.e.RequestDeposit(ctx, owner, r.ID, amount, nil)
	require.NoError(t, err)
	_, err = v.e.ExecuteDeposit(ctx, operatorAddr, req.ID)
	require.NoError(t, err)

	out, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	return out
}

func stakingKey(slot string) domain.AssetKey {
	return domain.AssetKey{Adaptor: domain.AdaptorStaking, Slot: slot}
}

// deployAll runs one operation that moves all free principal into a fresh
// staking position and finalizes at par.
func (v *testVault) deployAll(t *testing.T, slot string) domain.AssetKey {
	t.Helper()
	ctx := context.Background()

	key := stakingKey(slot)
	amount := v.e.FreePrincipal()
	_, _, err := v.e.StartOperation(ctx, operatorAddr, nil)
	require.NoError(t, err)
	pos := &adaptor.StakingPosition{AssetKey: key, Underlying: "SUI", CertBalance: amount}
	require.NoError(t, v.e.DeployPrincipal(ctx, operatorAddr, pos, amount))
	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)
	return key
}

func TestStartOperationRequiresOperator(t *testing.T) {
	v := newTestVault(t, testParams())
	_, _, err := v.e.StartOperation(context.Background(), aliceAddr, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestStartOperationUnknownAsset(t *testing.T) {
	v := newTestVault(t, testParams())
	_, _, err := v.e.StartOperation(context.Background(), operatorAddr, []domain.AssetKey{stakingKey("missing")})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOperationBlocksRequestsAndAdminMutation(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(100))

	_, _, err := v.e.StartOperation(ctx, operatorAddr, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDuringOperation, v.e.Status())

	_, err = v.e.OpenReceipt(ctx, bobAddr)
	require.ErrorIs(t, err, domain.ErrOperationOpen)

	err = v.e.SetFees(ctx, adminAddr, uint256.NewInt(0), uint256.NewInt(0))
	require.ErrorIs(t, err, domain.ErrOperationOpen)
	err = v.e.SetEnabled(ctx, adminAddr, false)
	require.ErrorIs(t, err, domain.ErrOperationOpen)
	err = v.e.ResetLossBudget(ctx, adminAddr)
	require.ErrorIs(t, err, domain.ErrOperationOpen)

	// A second operation cannot open inside the first.
	_, _, err = v.e.StartOperation(ctx, operatorAddr, nil)
	require.ErrorIs(t, err, domain.ErrOperationOpen)
}

func TestFinalizeWithoutOperation(t *testing.T) {
	v := newTestVault(t, testParams())
	_, err := v.e.FinalizeOperation(context.Background(), operatorAddr)
	require.ErrorIs(t, err, domain.ErrNoOperationOpen)
}

func TestFinalizeRequiresRevaluation(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	_, borrowed, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.Len(t, borrowed, 1)

	held, err := v.e.BorrowedPositions()
	require.NoError(t, err)
	require.Len(t, held, 1)
	require.Equal(t, key, held[0].Key())

	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.Equal(t, domain.StatusDuringOperation, v.e.Status())
}

func TestFinalizeLossOverBudget(t *testing.T) {
	params := testParams()
	params.LossTolerance = uint256.NewInt(1_000_000) // 0.1%
	v := newTestVault(t, params)
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	_, _, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(950)))

	// 50 lost against a 1.00 budget.
	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.ErrorIs(t, err, domain.ErrLossBudgetExceeded)
	require.Equal(t, domain.StatusDuringOperation, v.e.Status())
	require.Equal(t, usd(1000), v.e.TotalUSD())
}

func TestFinalizeLossWithinBudgetRepricesShares(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	_, _, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(950)))

	snap, err := v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)
	require.Equal(t, usd(1000), snap.StartingUSD)
	require.Equal(t, usd(950), snap.FinalUSD)
	require.Equal(t, usd(50), snap.EpochLoss)

	require.Equal(t, domain.StatusNormal, v.e.Status())
	require.Equal(t, usd(950), v.e.TotalUSD())
	require.Equal(t, usd(1000), v.e.TotalShares())

	price, err := v.e.CurrentSharePrice()
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(950_000_000), price)
}

func TestFinalizeStaleValuation(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	_, _, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(990)))

	v.advance(6 * time.Minute)
	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.ErrorIs(t, err, domain.ErrStalePrice)
}

func TestEpochLossAccumulates(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	// First loss of 60 fits the 100 budget.
	_, _, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(940)))
	snap, err := v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)
	require.Equal(t, usd(60), snap.EpochLoss)

	// A further 50 pushes the cumulative 110 over budget.
	_, _, err = v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(890)))
	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.ErrorIs(t, err, domain.ErrLossBudgetExceeded)
}

func TestEpochRollResetsLossBudget(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	_, _, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(940)))
	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)

	// Crossing the epoch boundary re-baselines at the current total, so a
	// loss that would have breached the old epoch's remaining budget passes.
	v.advance(25 * time.Hour)
	_, _, err = v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(890)))
	snap, err := v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), snap.EpochID)
	require.Equal(t, usd(50), snap.EpochLoss)
}

func TestResetLossBudget(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	_, _, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(940)))
	_, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)

	require.ErrorIs(t, v.e.ResetLossBudget(ctx, aliceAddr), domain.ErrUnauthorized)
	require.NoError(t, v.e.ResetLossBudget(ctx, adminAddr))

	// Loss counts from the fresh 94 budget, not the 40 left in the old one.
	_, _, err = v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, key, usd(890)))
	snap, err := v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)
	require.Equal(t, usd(50), snap.EpochLoss)
}

func TestRetirePositionCreditsProceeds(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(1000))
	key := v.deployAll(t, "haedal")

	_, _, err := v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{key})
	require.NoError(t, err)
	require.NoError(t, v.e.RetirePosition(ctx, operatorAddr, key, usd(960)))
	snap, err := v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)

	require.Equal(t, usd(960), snap.FinalUSD)
	require.Empty(t, snap.AssetValues)
	require.Equal(t, usd(960), v.e.FreePrincipal())
}

func TestDeployPrincipalInsufficientFree(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	v.deposit(t, aliceAddr, usd(100))

	_, _, err := v.e.StartOperation(ctx, operatorAddr, nil)
	require.NoError(t, err)
	pos := &adaptor.StakingPosition{AssetKey: stakingKey("haedal"), Underlying: "SUI", CertBalance: usd(200)}
	err = v.e.DeployPrincipal(ctx, operatorAddr, pos, usd(200))
	require.ErrorIs(t, err, domain.ErrInsufficientFree)
}

func TestSetEnabledGatesRequests(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	require.ErrorIs(t, v.e.SetEnabled(ctx, aliceAddr, false), domain.ErrUnauthorized)
	require.NoError(t, v.e.SetEnabled(ctx, adminAddr, false))
	require.Equal(t, domain.StatusDisabled, v.e.Status())

	_, err := v.e.OpenReceipt(ctx, aliceAddr)
	require.ErrorIs(t, err, domain.ErrVaultDisabled)
	_, _, err = v.e.StartOperation(ctx, operatorAddr, nil)
	require.ErrorIs(t, err, domain.ErrVaultDisabled)

	require.NoError(t, v.e.SetEnabled(ctx, adminAddr, true))
	_, err = v.e.OpenReceipt(ctx, aliceAddr)
	require.NoError(t, err)
}

func TestCollectFees(t *testing.T) {
	params := testParams()
	params.DepositFee = uint256.NewInt(10_000_000) // 1%
	v := newTestVault(t, params)
	ctx := context.Background()

	r := v.deposit(t, aliceAddr, usd(1000))
	require.Equal(t, usd(990), r.Shares)
	require.Equal(t, usd(990), v.e.TotalUSD())

	_, err := v.e.CollectFees(ctx, aliceAddr)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	out, err := v.e.CollectFees(ctx, adminAddr)
	require.NoError(t, err)
	require.Equal(t, usd(10), out)

	out, err = v.e.CollectFees(ctx, adminAddr)
	require.NoError(t, err)
	require.True(t, out.IsZero())
}

func TestRemoveOperator(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()
	require.NoError(t, v.e.RemoveOperator(ctx, adminAddr, operatorAddr))
	_, _, err := v.e.StartOperation(ctx, operatorAddr, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRestoreRefusesOpenOperation(t *testing.T) {
	v := newTestVault(t, testParams())
	state := domain.NewVaultState()
	state.Status = domain.StatusDuringOperation
	err := v.e.Restore(state, nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrOperationOpen)
}

func TestRestoreKeepsEpochClock(t *testing.T) {
	v := newTestVault(t, testParams())
	ctx := context.Background()

	state := domain.NewVaultState()
	state.TotalUSD = usd(1000)
	state.TotalShares = usd(1000)
	state.FreePrincipal = usd(1000)
	state.EpochOrigin = v.now.Add(-42*24*time.Hour - time.Hour)
	state.EpochID = 42
	state.EpochStartingUSD = usd(1000)
	state.EpochLoss = usd(60)
	require.NoError(t, v.e.Restore(state, nil, nil, nil))

	// Still inside the persisted epoch: the id holds and accumulated loss
	// survives the restart.
	_, _, err := v.e.StartOperation(ctx, operatorAddr, nil)
	require.NoError(t, err)
	pos := &adaptor.StakingPosition{AssetKey: stakingKey("haedal"), Underlying: "SUI", CertBalance: usd(1000)}
	require.NoError(t, v.e.DeployPrincipal(ctx, operatorAddr, pos, usd(1000)))
	snap, err := v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(42), snap.EpochID)
	require.Equal(t, usd(60), snap.EpochLoss)

	// Crossing the next boundary rolls forward from the persisted id and
	// clears the accumulated loss.
	v.advance(24 * time.Hour)
	_, _, err = v.e.StartOperation(ctx, operatorAddr, []domain.AssetKey{stakingKey("haedal")})
	require.NoError(t, err)
	require.NoError(t, v.e.UpdateAssetValue(ctx, operatorAddr, stakingKey("haedal"), usd(1000)))
	snap, err = v.e.FinalizeOperation(ctx, operatorAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(43), snap.EpochID)
	require.True(t, snap.EpochLoss.IsZero())
}

func TestRestoreRebuildsRecords(t *testing.T) {
	v := newTestVault(t, testParams())
	state := domain.NewVaultState()
	state.TotalUSD = usd(500)
	state.TotalShares = usd(500)
	state.FreePrincipal = usd(500)
	r := domain.NewReceipt(aliceAddr, v.now)
	r.Shares = usd(500)

	require.NoError(t, v.e.Restore(state, []*domain.Receipt{r}, nil, nil))
	require.Equal(t, usd(500), v.e.TotalUSD())

	got, err := v.e.Receipt(r.ID)
	require.NoError(t, err)
	require.Equal(t, usd(500), got.Shares)
}
