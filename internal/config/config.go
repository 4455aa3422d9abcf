// Package config reads process configuration from the environment, with an
// optional .env file overlaid first.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v6"
	"github.com/jacksonlee411/crm-pep/pkg/authz"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	CatalogPath   string `env:"PEP_CATALOG_PATH" envDefault:"config/pep/catalog.yaml"`
	AllowlistPath string `env:"PEP_ALLOWLIST_PATH" envDefault:"config/routing/allowlist.yaml"`
	MaxLimit      int    `env:"PEP_MAX_LIMIT" envDefault:"0"`

	StoreDriver  string        `env:"PEP_STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	SQLitePath   string        `env:"PEP_SQLITE_PATH" envDefault:"file:pep.db"`
	StoreTimeout time.Duration `env:"PEP_STORE_TIMEOUT" envDefault:"5s"`

	LogLevel  string `env:"PEP_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PEP_LOG_FORMAT" envDefault:"json"`
	Timezone  string `env:"PEP_TIMEZONE" envDefault:"UTC"`

	ExecutorEnabled bool `env:"PEP_EXECUTOR_ENABLED" envDefault:"false"`

	AuthzModelPath     string `env:"AUTHZ_MODEL_PATH" envDefault:"config/access/model.conf"`
	AuthzPolicyPath    string `env:"AUTHZ_POLICY_PATH" envDefault:"config/access/policy.csv"`
	AuthzMode          string `env:"AUTHZ_MODE" envDefault:"enforce"`
	AuthzAllowDisabled bool   `env:"AUTHZ_UNSAFE_ALLOW_DISABLED" envDefault:"false"`
}

// Load overlays envfile (when it exists) onto the process environment and
// parses Config from it.
func Load(envfile string) (Config, error) {
	if envfile != "" {
		if _, err := os.Stat(envfile); err == nil {
			if err := godotenv.Overload(envfile); err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", envfile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", envfile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config: DATABASE_URL is required for PEP_STORE_DRIVER=postgres")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("config: PEP_SQLITE_PATH is required for PEP_STORE_DRIVER=sqlite")
		}
		if c.ExecutorEnabled {
			return errors.New("config: PEP_EXECUTOR_ENABLED needs PEP_STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: invalid PEP_STORE_DRIVER %q (expected postgres|sqlite)", c.StoreDriver)
	}
	if c.MaxLimit < 0 {
		return errors.New("config: PEP_MAX_LIMIT must be >= 0")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("config: PEP_STORE_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("config: invalid PEP_LOG_FORMAT %q (expected json|console)", c.LogFormat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.AuthzModeValue(); err != nil {
		return err
	}
	return nil
}

func (c Config) Driver() string {
	return strings.ToLower(strings.TrimSpace(c.StoreDriver))
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return nil, fmt.Errorf("config: PEP_TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c Config) AuthzModeValue() (authz.Mode, error) {
	return authz.ParseMode(c.AuthzMode, c.AuthzAllowDisabled)
}

// ResolvePath finds a repo-relative file from the working directory or any
// of its parents, so binaries and tests started below the root still find
// config/. Absolute paths are returned unchanged.
func ResolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	p := path
	for range 8 {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		p = filepath.Join("..", p)
	}
	return "", fmt.Errorf("config: %s not found", path)
}
