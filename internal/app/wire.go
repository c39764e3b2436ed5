package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	s3blob "github.com/harborfi/vaultd/internal/blob/s3"
	"github.com/harborfi/vaultd/internal/adaptor"
	"github.com/harborfi/vaultd/internal/cache/redis"
	"github.com/harborfi/vaultd/internal/config"
	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/oracle"
	"github.com/harborfi/vaultd/internal/service"
	"github.com/harborfi/vaultd/internal/store/postgres"
	"github.com/harborfi/vaultd/internal/vault"
)

// Dependencies bundles everything the daemon needs to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	VaultStore   domain.VaultStore
	ReceiptStore domain.ReceiptStore
	RequestStore domain.RequestStore
	AuditStore   domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	LockManager domain.LockManager

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.SnapshotArchiver

	// Core
	Oracle *oracle.Aggregator
	Engine *vault.Engine

	// Services
	Vault     *service.VaultService
	Operation *service.OperationService
}

// bpsToFraction converts basis points to a 9dp fraction. One basis point is
// 1/10000, i.e. 100_000 at 9dp.
func bpsToFraction(bps int) *uint256.Int {
	return uint256.NewInt(uint64(bps) * 100_000)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.VaultStore = postgres.NewVaultStore(pool)
	deps.ReceiptStore = postgres.NewReceiptStore(pool)
	deps.RequestStore = postgres.NewRequestStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- S3 snapshot archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewSnapshotArchiver(deps.BlobWriter, cfg.S3.SnapshotPrefix)
	}

	// --- Oracle ---
	agg, err := oracle.New(deps.PriceCache, cfg.Oracle.UpdateInterval.Duration, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: oracle: %w", err)
	}
	deps.Oracle = agg

	// --- Engine ---
	valuators := adaptor.NewRegistry(
		adaptor.LendingValuator{},
		adaptor.CLMMValuator{Tolerance: bpsToFraction(cfg.Vault.CLMMToleranceBps)},
		adaptor.StakingValuator{},
	)

	admin := common.HexToAddress(cfg.Vault.Admin)
	engine, err := vault.New(vault.Params{
		LossTolerance:  bpsToFraction(cfg.Vault.LossToleranceBps),
		DepositFee:     bpsToFraction(cfg.Vault.DepositFeeBps),
		WithdrawFee:    bpsToFraction(cfg.Vault.WithdrawFeeBps),
		CancelCooldown: cfg.Vault.CancelCooldown.Duration,
		MinHolding:     cfg.Vault.MinHolding.Duration,
		MaxStaleness:   cfg.Vault.MaxStaleness.Duration,
		EpochLength:    cfg.Vault.EpochLength.Duration,
	}, admin, agg, valuators, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}
	deps.Engine = engine

	for _, op := range cfg.Vault.Operators {
		if err := engine.AddOperator(ctx, admin, common.HexToAddress(op)); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: add operator %s: %w", op, err)
		}
	}

	if err := restoreState(ctx, deps); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore: %w", err)
	}

	// --- Services ---
	deps.Vault = service.NewVaultService(
		engine, deps.VaultStore, deps.ReceiptStore, deps.RequestStore, deps.AuditStore, logger,
	)
	deps.Operation = service.NewOperationService(
		engine, deps.LockManager, deps.VaultStore, deps.Archiver, deps.AuditStore,
		cfg.Vault.OperationLockTTL.Duration, logger,
	)

	return deps, cleanup, nil
}

// restoreState reloads the persisted vault record, receipts, and open
// requests into the engine. A missing vault row means first boot.
func restoreState(ctx context.Context, deps *Dependencies) error {
	state, err := deps.VaultStore.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	receipts, err := deps.ReceiptStore.ListActive(ctx)
	if err != nil {
		return err
	}
	depositReqs, err := deps.RequestStore.ListDeposits(ctx)
	if err != nil {
		return err
	}
	withdrawReqs, err := deps.RequestStore.ListWithdraws(ctx)
	if err != nil {
		return err
	}

	return deps.Engine.Restore(state, receipts, depositReqs, withdrawReqs)
}
