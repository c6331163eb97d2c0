/*
Package config loads server configuration from the environment.

PURPOSE:
  All deployment-specific settings (ports, database coordinates,
  credentials) come from environment variables. Nothing here is ever
  committed to the repository; secrets live in the deployment
  environment only.

VARIABLES (prefix LEDGER_):
  LEDGER_PORT                   HTTP listen port          (default 8080)
  LEDGER_DB_DRIVER              "sqlite" or "postgres"    (default sqlite)
  LEDGER_DB_PATH                sqlite file path          (default ledger.db)
  LEDGER_DATABASE_URL           postgres DSN, wins over discrete vars
  LEDGER_DB_HOST / DB_PORT / DB_USER / DB_PASSWORD / DB_NAME / DB_SSLMODE
  LEDGER_LOG_LEVEL              logrus level              (default info)
  LEDGER_INITIAL_GRANT_HOURS    signup balance grant      (default 40)
  LEDGER_BONUS_POLICY           "standard" or "none"      (default standard)
  LEDGER_SETTLEMENT_SWEEP_SPEC  cron spec for the sweep   (default @every 1m)
  LEDGER_SETTLEMENT_GRACE       sweep grace period        (default 30s)
*/
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the complete server configuration.
type Config struct {
	Port int `envconfig:"PORT" default:"8080"`

	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath      string `envconfig:"DB_PATH" default:"ledger.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"postgres"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME" default:"ledger"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	InitialGrantHours   int           `envconfig:"INITIAL_GRANT_HOURS" default:"40"`
	BonusPolicy         string        `envconfig:"BONUS_POLICY" default:"standard"`
	SettlementSweepSpec string        `envconfig:"SETTLEMENT_SWEEP_SPEC" default:"@every 1m"`
	SettlementGrace     time.Duration `envconfig:"SETTLEMENT_GRACE" default:"30s"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LEDGER", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for settings that would fail at runtime.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or postgres)", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.DatabaseURL == "" && c.DBPassword == "" {
		return fmt.Errorf("postgres driver needs DATABASE_URL or DB_PASSWORD set")
	}
	if c.InitialGrantHours < 0 {
		return fmt.Errorf("INITIAL_GRANT_HOURS must not be negative")
	}
	if c.SettlementGrace < 0 {
		return fmt.Errorf("SETTLEMENT_GRACE must not be negative")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DSN builds the postgres connection string. An explicit DATABASE_URL
// wins over the discrete host/port/user variables.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}
