package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Vault.Admin = "0x00000000000000000000000000000000000000a1"
	return cfg
}

func TestDefaultsValidateWithAdmin(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresAdmin(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "admin address")
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.Vault.Admin = "not-an-address"
	cfg.Vault.Operators = []string{"0xzz"}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a hex address")
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"loss tolerance zero", func(c *Config) { c.Vault.LossToleranceBps = 0 }, "loss_tolerance_bps"},
		{"loss tolerance over cap", func(c *Config) { c.Vault.LossToleranceBps = 5001 }, "loss_tolerance_bps"},
		{"deposit fee over cap", func(c *Config) { c.Vault.DepositFeeBps = 1001 }, "deposit_fee_bps"},
		{"withdraw fee negative", func(c *Config) { c.Vault.WithdrawFeeBps = -1 }, "withdraw_fee_bps"},
		{"cooldown zero", func(c *Config) { c.Vault.CancelCooldown = duration{} }, "cancel_cooldown"},
		{"staleness zero", func(c *Config) { c.Vault.MaxStaleness = duration{} }, "max_staleness"},
		{"epoch zero", func(c *Config) { c.Vault.EpochLength = duration{} }, "epoch_length"},
		{"oracle sub-second", func(c *Config) { c.Oracle.UpdateInterval = duration{500 * time.Millisecond} }, "update_interval"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"postgres pool inverted", func(c *Config) { c.Postgres.PoolMinConns = 20 }, "pool_min_conns"},
		{"redis addr empty", func(c *Config) { c.Redis.Addr = "" }, "redis"},
		{"feed enabled without url", func(c *Config) { c.Feed.Enabled = true; c.Feed.Symbols = []string{"SUI"} }, "ws_url"},
		{"s3 enabled without bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }, "bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[vault]
admin = "0x00000000000000000000000000000000000000a1"
loss_tolerance_bps = 250
cancel_cooldown = "15m"

[postgres]
host = "db.internal"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 250, cfg.Vault.LossToleranceBps)
	require.Equal(t, 15*time.Minute, cfg.Vault.CancelCooldown.Duration)
	require.Equal(t, "db.internal", cfg.Postgres.Host)

	// Untouched fields keep their defaults.
	require.Equal(t, 24*time.Hour, cfg.Vault.EpochLength.Duration)
	require.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[vault]
admin = "0x00000000000000000000000000000000000000a1"

[redis]
addr = "file:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("VAULTD_REDIS_ADDR", "env:6379")
	t.Setenv("VAULTD_VAULT_MIN_HOLDING", "48h")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env:6379", cfg.Redis.Addr)
	require.Equal(t, 48*time.Hour, cfg.Vault.MinHolding.Duration)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	require.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(out))
}
