package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// Supported snapshot backends.
const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
)

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	StoreBackend          string `env:"STORE_BACKEND" envDefault:"file"`
	StorePath             string `env:"STORE_PATH" envDefault:"tokens.json"`
	DatabaseURL           string `env:"DATABASE_URL"`
	RedisURL              string `env:"REDIS_URL"`
	RedisSnapshotKey      string `env:"REDIS_SNAPSHOT_KEY" envDefault:"ledger:snapshot"`
	DefaultTokenLimit     int64  `env:"DEFAULT_TOKEN_LIMIT" envDefault:"100000"`
	BackupPath            string `env:"BACKUP_PATH"`
	BackupIntervalSeconds int    `env:"BACKUP_INTERVAL_SECONDS" envDefault:"300"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.BackupIntervalSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) BackupEnabled() bool {
	return c.BackupPath != ""
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendFile:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required for the file store backend")
		}
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store backend")
		}
	case StoreBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want file, postgres or redis)", c.StoreBackend)
	}

	if c.DefaultTokenLimit < 0 {
		return fmt.Errorf("DEFAULT_TOKEN_LIMIT must not be negative")
	}

	if c.BackupEnabled() {
		if c.BackupIntervalSeconds <= 0 {
			return fmt.Errorf("BACKUP_INTERVAL_SECONDS must be positive when BACKUP_PATH is set")
		}
		if c.StoreBackend == StoreBackendFile && samePath(c.BackupPath, c.StorePath) {
			return fmt.Errorf("BACKUP_PATH must differ from STORE_PATH")
		}
	}

	if c.RedisURL == "" {
		log.Warn().Msg("REDIS_URL is empty: usage event streaming disabled")
	}

	return nil
}

// samePath compares two paths after resolving them against the working directory.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
