package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("BackupInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{BackupIntervalSeconds: 300}
		assert.Equal(t, 300*time.Second, cfg.BackupInterval())
	})

	t.Run("BackupEnabled follows BackupPath", func(t *testing.T) {
		assert.False(t, (&Config{}).BackupEnabled())
		assert.True(t, (&Config{BackupPath: "backup.json"}).BackupEnabled())
	})
}

// unsetEnv clears keys for the duration of the test and restores them after.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		unsetEnv(t, "PORT", "STORE_BACKEND", "STORE_PATH", "REDIS_SNAPSHOT_KEY",
			"DEFAULT_TOKEN_LIMIT", "BACKUP_INTERVAL_SECONDS", "LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, StoreBackendFile, cfg.StoreBackend)
		assert.Equal(t, "tokens.json", cfg.StorePath)
		assert.Equal(t, "ledger:snapshot", cfg.RedisSnapshotKey)
		assert.Equal(t, int64(100000), cfg.DefaultTokenLimit)
		assert.Equal(t, 300, cfg.BackupIntervalSeconds)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		t.Setenv("PORT", "3000")
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
		t.Setenv("DEFAULT_TOKEN_LIMIT", "50000")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
		assert.Equal(t, "postgres://localhost/ledger", cfg.DatabaseURL)
		assert.Equal(t, int64(50000), cfg.DefaultTokenLimit)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails on malformed integer", func(t *testing.T) {
		t.Setenv("DEFAULT_TOKEN_LIMIT", "lots")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreBackend:          StoreBackendFile,
			StorePath:             "tokens.json",
			RedisURL:              "redis://localhost:6379",
			DefaultTokenLimit:     100000,
			BackupIntervalSeconds: 300,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "file backend is valid", mutate: func(c *Config) {}},
		{name: "postgres requires DATABASE_URL", mutate: func(c *Config) { c.StoreBackend = StoreBackendPostgres }, wantErr: "DATABASE_URL"},
		{name: "redis requires REDIS_URL", mutate: func(c *Config) { c.StoreBackend = StoreBackendRedis; c.RedisURL = "" }, wantErr: "REDIS_URL"},
		{name: "unknown backend rejected", mutate: func(c *Config) { c.StoreBackend = "s3" }, wantErr: "unknown STORE_BACKEND"},
		{name: "file backend requires path", mutate: func(c *Config) { c.StorePath = "" }, wantErr: "STORE_PATH"},
		{name: "negative default limit rejected", mutate: func(c *Config) { c.DefaultTokenLimit = -1 }, wantErr: "DEFAULT_TOKEN_LIMIT"},
		{name: "backup path must differ from store path", mutate: func(c *Config) { c.BackupPath = "tokens.json" }, wantErr: "BACKUP_PATH"},
		{name: "backup path differing only in spelling is the store path", mutate: func(c *Config) { c.BackupPath = "./tokens.json" }, wantErr: "BACKUP_PATH"},
		{name: "backup path with redundant segments is the store path", mutate: func(c *Config) { c.BackupPath = "data/../tokens.json" }, wantErr: "BACKUP_PATH"},
		{name: "backup path elsewhere is valid", mutate: func(c *Config) { c.BackupPath = "backups/tokens.json" }},
		{name: "backup interval must be positive", mutate: func(c *Config) { c.BackupPath = "b.json"; c.BackupIntervalSeconds = 0 }, wantErr: "BACKUP_INTERVAL_SECONDS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
