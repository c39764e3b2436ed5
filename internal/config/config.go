// Package config defines the top-level configuration for the vault daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VAULTD_* environment variables.
type Config struct {
	Vault    VaultConfig    `toml:"vault"`
	Oracle   OracleConfig   `toml:"oracle"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	LogLevel string         `toml:"log_level"`
}

// VaultConfig holds engine parameters and the access-control roster.
// Fractional parameters are expressed in basis points.
type VaultConfig struct {
	Admin     string   `toml:"admin"`
	Operators []string `toml:"operators"`

	LossToleranceBps int `toml:"loss_tolerance_bps"`
	DepositFeeBps    int `toml:"deposit_fee_bps"`
	WithdrawFeeBps   int `toml:"withdraw_fee_bps"`

	CancelCooldown duration `toml:"cancel_cooldown"`
	MinHolding     duration `toml:"min_holding"`
	MaxStaleness   duration `toml:"max_staleness"`
	EpochLength    duration `toml:"epoch_length"`

	// OperationLockTTL bounds how long a crashed operator can hold the
	// cross-process operation lock.
	OperationLockTTL duration `toml:"operation_lock_ttl"`

	// CLMMToleranceBps is the allowed deviation between a pool's spot price
	// and the oracle ratio when valuing concentrated-liquidity positions.
	CLMMToleranceBps int `toml:"clmm_tolerance_bps"`
}

// OracleConfig holds price aggregation parameters.
type OracleConfig struct {
	UpdateInterval duration `toml:"update_interval"`
}

// FeedConfig holds the price-stream WebSocket parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds snapshot-archive object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	SnapshotPrefix string `toml:"snapshot_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Vault: VaultConfig{
			LossToleranceBps: 100, // 1% per epoch
			DepositFeeBps:    0,
			WithdrawFeeBps:   10,
			CancelCooldown:   duration{10 * time.Minute},
			MinHolding:       duration{24 * time.Hour},
			MaxStaleness:     duration{5 * time.Minute},
			EpochLength:      duration{24 * time.Hour},
			OperationLockTTL: duration{30 * time.Minute},
			CLMMToleranceBps: 50,
		},
		Oracle: OracleConfig{
			UpdateInterval: duration{60 * time.Second},
		},
		Feed: FeedConfig{
			Enabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 20,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultd-snapshots",
			ForcePathStyle: true,
			SnapshotPrefix: "snapshots",
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Vault roster
	if c.Vault.Admin == "" {
		errs = append(errs, "vault: admin address must not be empty")
	} else if !common.IsHexAddress(c.Vault.Admin) {
		errs = append(errs, fmt.Sprintf("vault: admin %q is not a hex address", c.Vault.Admin))
	}
	for _, op := range c.Vault.Operators {
		if !common.IsHexAddress(op) {
			errs = append(errs, fmt.Sprintf("vault: operator %q is not a hex address", op))
		}
	}

	// Vault parameters. Loss tolerance caps at 50%, fees at 10%.
	if c.Vault.LossToleranceBps <= 0 || c.Vault.LossToleranceBps > 5000 {
		errs = append(errs, fmt.Sprintf("vault: loss_tolerance_bps must be 1-5000, got %d", c.Vault.LossToleranceBps))
	}
	if c.Vault.DepositFeeBps < 0 || c.Vault.DepositFeeBps > 1000 {
		errs = append(errs, fmt.Sprintf("vault: deposit_fee_bps must be 0-1000, got %d", c.Vault.DepositFeeBps))
	}
	if c.Vault.WithdrawFeeBps < 0 || c.Vault.WithdrawFeeBps > 1000 {
		errs = append(errs, fmt.Sprintf("vault: withdraw_fee_bps must be 0-1000, got %d", c.Vault.WithdrawFeeBps))
	}
	if c.Vault.CancelCooldown.Duration <= 0 {
		errs = append(errs, "vault: cancel_cooldown must be positive")
	}
	if c.Vault.MinHolding.Duration < 0 {
		errs = append(errs, "vault: min_holding must not be negative")
	}
	if c.Vault.MaxStaleness.Duration <= 0 {
		errs = append(errs, "vault: max_staleness must be positive")
	}
	if c.Vault.EpochLength.Duration <= 0 {
		errs = append(errs, "vault: epoch_length must be positive")
	}
	if c.Vault.OperationLockTTL.Duration <= 0 {
		errs = append(errs, "vault: operation_lock_ttl must be positive")
	}
	if c.Vault.CLMMToleranceBps <= 0 || c.Vault.CLMMToleranceBps > 10000 {
		errs = append(errs, fmt.Sprintf("vault: clmm_tolerance_bps must be 1-10000, got %d", c.Vault.CLMMToleranceBps))
	}

	// Oracle
	if c.Oracle.UpdateInterval.Duration < time.Second {
		errs = append(errs, "oracle: update_interval must be at least 1s")
	}

	// Feed
	if c.Feed.Enabled {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty when enabled")
		}
		if len(c.Feed.Symbols) == 0 {
			errs = append(errs, "feed: symbols must not be empty when enabled")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
