package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborfi/vaultd/internal/domain"
)

// VaultStore persists the singleton vault record.
type VaultStore struct {
	pool *pgxpool.Pool
}

var _ domain.VaultStore = (*VaultStore)(nil)

// NewVaultStore creates a VaultStore backed by the given pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// assetValueRow is the JSONB encoding of one per-asset value. USD is a
// 9-decimal fixed-point value serialized as a decimal string.
type assetValueRow struct {
	USD       string    `json:"usd"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Save upserts the single vault_state row.
func (s *VaultStore) Save(ctx context.Context, state *domain.VaultState) error {
	assetValues := make(map[string]assetValueRow, len(state.AssetValues))
	for key, av := range state.AssetValues {
		assetValues[key.String()] = assetValueRow{
			USD:       av.USD.Dec(),
			UpdatedAt: av.UpdatedAt,
		}
	}
	assetJSON, err := json.Marshal(assetValues)
	if err != nil {
		return fmt.Errorf("postgres: marshal asset values: %w", err)
	}

	const query = `
		INSERT INTO vault_state (
			id, status, free_principal, total_usd, total_shares, fee_balance,
			epoch_origin, epoch_id, epoch_starting_usd, epoch_loss, asset_values, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			free_principal = EXCLUDED.free_principal,
			total_usd = EXCLUDED.total_usd,
			total_shares = EXCLUDED.total_shares,
			fee_balance = EXCLUDED.fee_balance,
			epoch_origin = EXCLUDED.epoch_origin,
			epoch_id = EXCLUDED.epoch_id,
			epoch_starting_usd = EXCLUDED.epoch_starting_usd,
			epoch_loss = EXCLUDED.epoch_loss,
			asset_values = EXCLUDED.asset_values,
			updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		string(state.Status),
		state.FreePrincipal.Dec(),
		state.TotalUSD.Dec(),
		state.TotalShares.Dec(),
		state.FeeBalance.Dec(),
		state.EpochOrigin,
		int64(state.EpochID),
		state.EpochStartingUSD.Dec(),
		state.EpochLoss.Dec(),
		assetJSON,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save vault state: %w", err)
	}
	return nil
}

// Load reads the vault record, or domain.ErrNotFound when no row exists yet.
func (s *VaultStore) Load(ctx context.Context) (*domain.VaultState, error) {
	const query = `
		SELECT status, free_principal, total_usd, total_shares, fee_balance,
		       epoch_origin, epoch_id, epoch_starting_usd, epoch_loss, asset_values, updated_at
		FROM vault_state WHERE id = 1`

	var (
		status           string
		freePrincipal    string
		totalUSD         string
		totalShares      string
		feeBalance       string
		epochOrigin      time.Time
		epochID          int64
		epochStartingUSD string
		epochLoss        string
		assetJSON        []byte
		updatedAt        time.Time
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&status, &freePrincipal, &totalUSD, &totalShares, &feeBalance,
		&epochOrigin, &epochID, &epochStartingUSD, &epochLoss, &assetJSON, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load vault state: %w", err)
	}

	state := domain.NewVaultState()
	state.Status = domain.VaultStatus(status)
	state.EpochOrigin = epochOrigin
	state.EpochID = uint64(epochID)
	state.UpdatedAt = updatedAt

	for _, f := range []struct {
		dst **uint256.Int
		raw string
	}{
		{&state.FreePrincipal, freePrincipal},
		{&state.TotalUSD, totalUSD},
		{&state.TotalShares, totalShares},
		{&state.FeeBalance, feeBalance},
		{&state.EpochStartingUSD, epochStartingUSD},
		{&state.EpochLoss, epochLoss},
	} {
		v, err := uint256.FromDecimal(f.raw)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse vault numeric %q: %w", f.raw, err)
		}
		*f.dst = v
	}

	var assetValues map[string]assetValueRow
	if err := json.Unmarshal(assetJSON, &assetValues); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal asset values: %w", err)
	}
	for raw, row := range assetValues {
		key, err := domain.ParseAssetKey(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres: asset values: %w", err)
		}
		usd, err := uint256.FromDecimal(row.USD)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse asset value %q: %w", row.USD, err)
		}
		state.AssetValues[key] = domain.AssetValue{Key: key, USD: usd, UpdatedAt: row.UpdatedAt}
	}

	return state, nil
}
