/*
config.go - Process configuration

PURPOSE:
  Reads server settings from the environment, after loading an optional
  .env file. Command-line flags in cmd/server override PORT and
  DATABASE_URL.

VARIABLES:
  PORT                  HTTP port (8080)
  DATABASE_DRIVER       sqlite3 | postgres (sqlite3)
  DATABASE_URL          DSN or SQLite path (redemptions.db)
  ENCRYPTION_KEY        64 hex chars, required
  LOG_LEVEL             logrus level (info)
  LOG_FORMAT            text | json (text)
  ACTIVATION_SCHEDULE   cron expression for the activation runner (@hourly)
  ACTIVATION_ENABLED    start the cron at boot (true)
  CLIENT_IDS            tenants the cron sweeps, separated by ";"
  CATALOG_PATH          optional YAML catalog seeded at boot
  CLAIM_RATE_LIMIT      claims per second per creator (1)
  CLAIM_RATE_BURST      claim burst per creator (5)
  CORS_ALLOWED_ORIGINS  allowed origins, separated by ";" (*)

SEE ALSO:
  - cmd/server/main.go: consumer
  - vault/vault.go: ENCRYPTION_KEY format
*/
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config is the full set of server settings.
type Config struct {
	Port int `env:"PORT,default=8080"`

	DatabaseDriver string `env:"DATABASE_DRIVER,default=sqlite3"`
	DatabaseURL    string `env:"DATABASE_URL,default=redemptions.db"`

	EncryptionKey string `env:"ENCRYPTION_KEY"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	ActivationSchedule string   `env:"ACTIVATION_SCHEDULE,default=@hourly"`
	ActivationEnabled  bool     `env:"ACTIVATION_ENABLED,default=true"`
	ClientIDs          []string `env:"CLIENT_IDS"`

	CatalogPath string `env:"CATALOG_PATH"`

	ClaimRateLimit float64 `env:"CLAIM_RATE_LIMIT,default=1"`
	ClaimRateBurst int     `env:"CLAIM_RATE_BURST,default=5"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// Load reads the given .env files (".env" when none are named), then the
// environment, and validates the result. Missing .env files are skipped;
// variables already set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envdecode cannot check by itself.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite3 or postgres, got %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if key, err := hex.DecodeString(c.EncryptionKey); err != nil || len(key) != 32 {
		return errors.New("ENCRYPTION_KEY must be 64 hex characters")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if _, err := cron.ParseStandard(c.ActivationSchedule); err != nil {
		return fmt.Errorf("ACTIVATION_SCHEDULE: %w", err)
	}
	if c.ClaimRateLimit <= 0 || c.ClaimRateBurst <= 0 {
		return errors.New("CLAIM_RATE_LIMIT and CLAIM_RATE_BURST must be positive")
	}
	return nil
}
