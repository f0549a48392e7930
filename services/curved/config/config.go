package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"launchpad/storage"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses durations from TOML strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// State backends.
const (
	BackendMemory  = storage.BackendMemory
	BackendLevelDB = storage.BackendLevelDB
	BackendBolt    = storage.BackendBolt
)

// Config captures runtime configuration for curved.
type Config struct {
	ListenAddress   string          `yaml:"listen" toml:"listen"`
	Environment     string          `yaml:"environment" toml:"environment"`
	State           StateConfig     `yaml:"state" toml:"state"`
	Index           IndexConfig     `yaml:"index" toml:"index"`
	Auth            AuthConfig      `yaml:"auth" toml:"auth"`
	Admin           AdminConfig     `yaml:"admin" toml:"admin"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Export          ExportConfig    `yaml:"export" toml:"export"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// StateConfig selects the ledger database.
type StateConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// IndexConfig points at the trade history database.
type IndexConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig verifies trader JWTs.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer     string   `yaml:"issuer" toml:"issuer"`
	Audience   string   `yaml:"audience" toml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// AdminConfig guards the operator endpoints.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token" toml:"bearer_token"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int `yaml:"burst" toml:"burst"`
}

// ExportConfig controls parquet exports.
type ExportConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns a configuration suitable for local development.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.Environment == "" {
		cfg.Environment = os.Getenv("CURVED_ENV")
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendMemory
	}
	cfg.State.Backend = strings.ToLower(strings.TrimSpace(cfg.State.Backend))
	if cfg.Index.DSN == "" {
		cfg.Index.DSN = "file:curved-index?mode=memory&cache=shared"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "launchpad"
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = "curved"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 60
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
}

func validate(cfg Config) error {
	switch cfg.State.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendBolt:
		if strings.TrimSpace(cfg.State.Path) == "" {
			return fmt.Errorf("state.path must be configured for the %s backend", cfg.State.Backend)
		}
	default:
		return fmt.Errorf("unsupported state.backend %q", cfg.State.Backend)
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth.hmac_secret must be at least 32 bytes")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return nil
}
