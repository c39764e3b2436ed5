package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Vault ──
	setStr(&cfg.Vault.Admin, "VAULTD_VAULT_ADMIN")
	setStringSlice(&cfg.Vault.Operators, "VAULTD_VAULT_OPERATORS")
	setInt(&cfg.Vault.LossToleranceBps, "VAULTD_VAULT_LOSS_TOLERANCE_BPS")
	setInt(&cfg.Vault.DepositFeeBps, "VAULTD_VAULT_DEPOSIT_FEE_BPS")
	setInt(&cfg.Vault.WithdrawFeeBps, "VAULTD_VAULT_WITHDRAW_FEE_BPS")
	setDuration(&cfg.Vault.CancelCooldown, "VAULTD_VAULT_CANCEL_COOLDOWN")
	setDuration(&cfg.Vault.MinHolding, "VAULTD_VAULT_MIN_HOLDING")
	setDuration(&cfg.Vault.MaxStaleness, "VAULTD_VAULT_MAX_STALENESS")
	setDuration(&cfg.Vault.EpochLength, "VAULTD_VAULT_EPOCH_LENGTH")
	setDuration(&cfg.Vault.OperationLockTTL, "VAULTD_VAULT_OPERATION_LOCK_TTL")
	setInt(&cfg.Vault.CLMMToleranceBps, "VAULTD_VAULT_CLMM_TOLERANCE_BPS")

	// ── Oracle ──
	setDuration(&cfg.Oracle.UpdateInterval, "VAULTD_ORACLE_UPDATE_INTERVAL")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "VAULTD_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "VAULTD_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "VAULTD_FEED_SYMBOLS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VAULTD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VAULTD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAULTD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTD_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "VAULTD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VAULTD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VAULTD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTD_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAULTD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.SnapshotPrefix, "VAULTD_S3_SNAPSHOT_PREFIX")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "VAULTD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
