// Package vault implements the vault operation and valuation engine: the
// operation state machine, share ledger, request lifecycle, and epoch loss
// budget over a single VaultState record.
//
// Every exported method is one unit of work: it validates against a copy or
// temporaries first and mutates shared state only once every check has
// passed, so a failed call leaves no partial state behind. The engine is
// single-writer by construction; the mutex serializes units of work, and the
// Normal/DuringOperation gate serializes operator envelopes against user
// requests and administrative mutation.
package vault

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/adaptor"
	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/oracle"
)

// Safe ranges for administrative parameters. Setters reject values outside
// these bounds; a zero or out-of-range value is never accepted silently.
var (
	// MaxLossTolerance caps the per-epoch loss fraction at 50%.
	MaxLossTolerance = uint256.NewInt(500_000_000)
	// MaxFee caps deposit and withdraw fees at 10%.
	MaxFee = uint256.NewInt(100_000_000)
)

// Params are the tunable parameters of the engine. Fractions are 9dp.
type Params struct {
	LossTolerance  *uint256.Int
	DepositFee     *uint256.Int
	WithdrawFee    *uint256.Int
	CancelCooldown time.Duration
	MinHolding     time.Duration
	MaxStaleness   time.Duration
	EpochLength    time.Duration
}

// Validate checks every parameter against its documented safe range.
func (p Params) Validate() error {
	if p.LossTolerance == nil || p.LossTolerance.IsZero() || p.LossTolerance.Cmp(MaxLossTolerance) > 0 {
		return fmt.Errorf("vault: loss tolerance must be in (0, %s]: %w", MaxLossTolerance.Dec(), domain.ErrConfiguration)
	}
	if p.DepositFee == nil || p.DepositFee.Cmp(MaxFee) > 0 {
		return fmt.Errorf("vault: deposit fee must be in [0, %s]: %w", MaxFee.Dec(), domain.ErrConfiguration)
	}
	if p.WithdrawFee == nil || p.WithdrawFee.Cmp(MaxFee) > 0 {
		return fmt.Errorf("vault: withdraw fee must be in [0, %s]: %w", MaxFee.Dec(), domain.ErrConfiguration)
	}
	if p.CancelCooldown <= 0 {
		return fmt.Errorf("vault: cancel cooldown must be positive: %w", domain.ErrConfiguration)
	}
	if p.MinHolding < 0 {
		return fmt.Errorf("vault: min holding must not be negative: %w", domain.ErrConfiguration)
	}
	if p.MaxStaleness <= 0 {
		return fmt.Errorf("vault: max staleness must be positive: %w", domain.ErrConfiguration)
	}
	if p.EpochLength <= 0 {
		return fmt.Errorf("vault: epoch length must be positive: %w", domain.ErrConfiguration)
	}
	return nil
}

// Engine owns the vault record and everything referenced from it.
type Engine struct {
	mu     sync.Mutex
	state  *domain.VaultState
	params Params

	admin     common.Address
	operators map[common.Address]bool

	receipts  map[uuid.UUID]*domain.Receipt
	deposits  map[uuid.UUID]domain.DepositRequest
	withdraws map[uuid.UUID]domain.WithdrawRequest

	// positions are owned exclusively by the engine. References escape only
	// to the operator holding the open envelope, via StartOperation.
	positions map[domain.AssetKey]adaptor.Position

	op *domain.OperationRecord

	oracle    *oracle.Aggregator
	valuators adaptor.Registry

	now    func() time.Time
	logger *slog.Logger
}

// New creates an Engine with an empty vault.
func New(params Params, admin common.Address, agg *oracle.Aggregator, valuators adaptor.Registry, logger *slog.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	state := domain.NewVaultState()
	state.EpochOrigin = time.Now()
	return &Engine{
		state:     state,
		params:    params,
		admin:     admin,
		operators: make(map[common.Address]bool),
		receipts:  make(map[uuid.UUID]*domain.Receipt),
		deposits:  make(map[uuid.UUID]domain.DepositRequest),
		withdraws: make(map[uuid.UUID]domain.WithdrawRequest),
		positions: make(map[domain.AssetKey]adaptor.Position),
		oracle:    agg,
		valuators: valuators,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "vault_engine")),
	}, nil
}

// SetClock overrides the engine's time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	e.state.EpochOrigin = now()
}

// Status returns the current vault status.
func (e *Engine) Status() domain.VaultStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Status
}

// TotalUSD returns the reported aggregate value.
func (e *Engine) TotalUSD() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.state.TotalUSD)
}

// TotalShares returns the outstanding share count.
func (e *Engine) TotalShares() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.state.TotalShares)
}

// FreePrincipal returns the undeployed principal balance.
func (e *Engine) FreePrincipal() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.state.FreePrincipal)
}

// CurrentSharePrice returns the share price at 9dp.
func (e *Engine) CurrentSharePrice() (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SharePrice(e.state.TotalUSD, e.state.TotalShares)
}

// Receipt returns a copy of the receipt. The live record stays internal: a
// receipt reference is an access credential, and handing one out from a
// read-only accessor would let the holder cancel requests it does not own.
func (e *Engine) Receipt(id uuid.UUID) (domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receipts[id]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("vault: receipt %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	cp.Shares = new(uint256.Int).Set(r.Shares)
	cp.PendingDeposit = new(uint256.Int).Set(r.PendingDeposit)
	cp.PendingShares = new(uint256.Int).Set(r.PendingShares)
	return cp, nil
}

// DepositRequest returns a copy of an open deposit request.
func (e *Engine) DepositRequest(id uuid.UUID) (domain.DepositRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.deposits[id]
	if !ok {
		return domain.DepositRequest{}, fmt.Errorf("vault: deposit request %s: %w", id, domain.ErrNotFound)
	}
	cp := req
	cp.Amount = new(uint256.Int).Set(req.Amount)
	cp.MinShares = new(uint256.Int).Set(req.MinShares)
	return cp, nil
}

// WithdrawRequest returns a copy of an open withdraw request.
func (e *Engine) WithdrawRequest(id uuid.UUID) (domain.WithdrawRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.withdraws[id]
	if !ok {
		return domain.WithdrawRequest{}, fmt.Errorf("vault: withdraw request %s: %w", id, domain.ErrNotFound)
	}
	cp := req
	cp.Shares = new(uint256.Int).Set(req.Shares)
	cp.MinAmount = new(uint256.Int).Set(req.MinAmount)
	cp.MaxAmount = new(uint256.Int).Set(req.MaxAmount)
	return cp, nil
}

// Restore replaces the engine's records with persisted ones. Intended for
// startup, before any unit of work has run. A record persisted mid-operation
// is refused: positions and the envelope's captured expectations are not
// persisted, so such a vault cannot be resumed mechanically.
func (e *Engine) Restore(state *domain.VaultState, receipts []*domain.Receipt, deposits []domain.DepositRequest, withdraws []domain.WithdrawRequest) error {
	if state.Status == domain.StatusDuringOperation {
		return fmt.Errorf("vault: restore with open operation: %w", domain.ErrOperationOpen)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if state.EpochOrigin.IsZero() {
		state.EpochOrigin = e.now()
	}
	e.state = state
	e.receipts = make(map[uuid.UUID]*domain.Receipt, len(receipts))
	for _, r := range receipts {
		e.receipts[r.ID] = r
	}
	e.deposits = make(map[uuid.UUID]domain.DepositRequest, len(deposits))
	for _, d := range deposits {
		e.deposits[d.ID] = d
	}
	e.withdraws = make(map[uuid.UUID]domain.WithdrawRequest, len(withdraws))
	for _, w := range withdraws {
		e.withdraws[w.ID] = w
	}

	e.logger.Info("vault state restored",
		slog.String("status", string(state.Status)),
		slog.Uint64("epoch", state.EpochID),
		slog.Int("receipts", len(receipts)),
		slog.Int("open_deposits", len(deposits)),
		slog.Int("open_withdraws", len(withdraws)),
	)
	return nil
}

// Snapshot returns a deep copy of the vault record for persistence.
func (e *Engine) Snapshot() *domain.VaultState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyState()
}

func (e *Engine) copyState() *domain.VaultState {
	cp := &domain.VaultState{
		Status:           e.state.Status,
		FreePrincipal:    new(uint256.Int).Set(e.state.FreePrincipal),
		TotalUSD:         new(uint256.Int).Set(e.state.TotalUSD),
		TotalShares:      new(uint256.Int).Set(e.state.TotalShares),
		AssetValues:      make(map[domain.AssetKey]domain.AssetValue, len(e.state.AssetValues)),
		FeeBalance:       new(uint256.Int).Set(e.state.FeeBalance),
		EpochOrigin:      e.state.EpochOrigin,
		EpochID:          e.state.EpochID,
		EpochStartingUSD: new(uint256.Int).Set(e.state.EpochStartingUSD),
		EpochLoss:        new(uint256.Int).Set(e.state.EpochLoss),
		UpdatedAt:        e.state.UpdatedAt,
	}
	for k, v := range e.state.AssetValues {
		cp.AssetValues[k] = domain.AssetValue{Key: k, USD: new(uint256.Int).Set(v.USD), UpdatedAt: v.UpdatedAt}
	}
	return cp
}

// epochID maps a wall-clock instant to a loss-budget epoch. The origin lives
// in the persisted vault record so the mapping survives restarts.
func (e *Engine) epochID(at time.Time) uint64 {
	if at.Before(e.state.EpochOrigin) {
		return 0
	}
	return uint64(at.Sub(e.state.EpochOrigin) / e.params.EpochLength)
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.admin {
		return fmt.Errorf("vault: caller %s is not admin: %w", caller, domain.ErrUnauthorized)
	}
	return nil
}

func (e *Engine) requireOperator(caller common.Address) error {
	if !e.operators[caller] {
		return fmt.Errorf("vault: caller %s is not an operator: %w", caller, domain.ErrUnauthorized)
	}
	return nil
}

// requireNormal gates user requests and operation starts.
func (e *Engine) requireNormal() error {
	switch e.state.Status {
	case domain.StatusNormal:
		return nil
	case domain.StatusDisabled:
		return fmt.Errorf("vault: %w", domain.ErrVaultDisabled)
	default:
		return fmt.Errorf("vault: %w", domain.ErrOperationOpen)
	}
}

// requireNotDuringOperation gates every administrative mutator. A mutation
// landing between start and finalize would invalidate the envelope's
// captured expectations.
func (e *Engine) requireNotDuringOperation() error {
	if e.state.Status == domain.StatusDuringOperation {
		return fmt.Errorf("vault: %w", domain.ErrOperationOpen)
	}
	return nil
}
