// Package daemon holds the service configuration: a TOML file with sane
// defaults, plus environment overrides for the secrets that deployments
// inject (gateway HMAC key, database DSN).
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Store     StoreConfig     `toml:"store"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Pricing   PricingConfig   `toml:"pricing"`
	Operators OperatorsConfig `toml:"operators"`
	Notify    NotifyConfig    `toml:"notify"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// Addr returns the listen address.
func (c APIConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	Dir    string `toml:"dir"`    // sqlite database directory
	DSN    string `toml:"dsn"`    // postgres connection string
}

// GatewayConfig holds the shared secret for webhook authentication.
type GatewayConfig struct {
	Secret string `toml:"secret"`
}

// PricingConfig freezes the storefront rates applied at order creation.
type PricingConfig struct {
	UnitPrice      float64 `toml:"unit_price"`
	CreditsPerUnit int64   `toml:"credits_per_unit"`
	MinQuantity    int64   `toml:"min_quantity"`
}

// OperatorsConfig is the static allow-list for manual decisions.
type OperatorsConfig struct {
	Allowed []string `toml:"allowed"`
}

// NotifyConfig controls settlement notice delivery.
type NotifyConfig struct {
	RelayURL  string `toml:"relay_url"` // empty means log-only
	QueueSize int    `toml:"queue_size"`
}

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8880,
			Metrics: true,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Dir:    defaultDataDir(),
		},
		Pricing: PricingConfig{
			UnitPrice:      25.0,
			CreditsPerUnit: 1,
			MinQuantity:    1,
		},
		Notify: NotifyConfig{
			QueueSize: 64,
		},
	}
}

// DefaultPath returns the expected config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".topup", "config.toml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".topup")
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Secrets come from the environment in deployments.
	if v := os.Getenv("TOPUP_GATEWAY_SECRET"); v != "" {
		cfg.Gateway.Secret = v
	}
	if v := os.Getenv("TOPUP_STORE_DSN"); v != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.DSN = v
	}

	return cfg, nil
}

// Validate checks the loaded configuration for startup.
func (c Config) Validate() error {
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("postgres driver requires store.dsn or TOPUP_STORE_DSN")
	}
	if c.Gateway.Secret == "" {
		return fmt.Errorf("gateway.secret or TOPUP_GATEWAY_SECRET is required; unsigned notifications are rejected")
	}
	if c.Pricing.UnitPrice <= 0 {
		return fmt.Errorf("pricing.unit_price must be positive")
	}
	return nil
}
