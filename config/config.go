// Package config loads the e-library settings from defaults, an optional YAML
// file and ELIBRARY_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ELIBRARY_"

var (
	// ErrInvalidConfig is returned by Validate for unusable settings.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the complete runtime configuration.
type Config struct {
	Backend     string      `yaml:"backend" env:"BACKEND"`
	DataDir     string      `yaml:"data_dir" env:"DATA_DIR"`
	SQLitePath  string      `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string      `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	LenientLoad bool        `yaml:"lenient_load" env:"LENIENT_LOAD"`
	Circulation Circulation `yaml:"circulation" envPrefix:"CIRCULATION_"`
	Log         Log         `yaml:"log" envPrefix:"LOG_"`
	Admins      []Admin     `yaml:"admins"`
}

// Circulation holds the lending rules.
type Circulation struct {
	MaxActiveLoans int `yaml:"max_active_loans" env:"MAX_ACTIVE_LOANS"`
	LoanPeriodDays int `yaml:"loan_period_days" env:"LOAN_PERIOD_DAYS"`
}

// Log selects logrus level and formatter.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Admin is a reserved username that always authenticates as an administrator.
type Admin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Backend: "json",
		DataDir: "data",
		Circulation: Circulation{
			MaxActiveLoans: 3,
			LoanPeriodDays: 14,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Admins: []Admin{
			{Username: "admin", Password: "admin123"},
			{Username: "1", Password: "1"},
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch c.Backend {
	case "json":
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("%w: data_dir must not be empty", ErrInvalidConfig)
		}
	case "sqlite":
		if strings.TrimSpace(c.DataDir) == "" && c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite backend needs data_dir or sqlite_path", ErrInvalidConfig)
		}
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%w: postgres backend needs postgres_dsn", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.LenientLoad && c.Backend != "json" {
		return fmt.Errorf("%w: lenient_load only applies to the json backend", ErrInvalidConfig)
	}

	if c.Circulation.MaxActiveLoans <= 0 {
		return fmt.Errorf("%w: max_active_loans must be positive", ErrInvalidConfig)
	}
	if c.Circulation.LoanPeriodDays <= 0 {
		return fmt.Errorf("%w: loan_period_days must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Admins))
	for _, a := range c.Admins {
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("%w: admin aliases need a username and a password", ErrInvalidConfig)
		}
		if seen[a.Username] {
			return fmt.Errorf("%w: duplicate admin alias %q", ErrInvalidConfig, a.Username)
		}
		seen[a.Username] = true
	}
	return nil
}

// SQLiteFile is the database path for the sqlite backend.
func (c Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "library.db")
}
