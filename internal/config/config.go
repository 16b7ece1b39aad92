// ABOUTME: Configuration loading and parsing for pulsar-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and validation

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/pulsar-gateway/internal/keys"
)

// Config represents the complete pulsar-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Program  ProgramConfig  `yaml:"program" toml:"program"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Limits   LimitsConfig   `yaml:"limits" toml:"limits"`
	Events   EventsConfig   `yaml:"events" toml:"events"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig selects and locates the store
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (default) or "postgres"
	Path   string `yaml:"path" toml:"path"`     // sqlite file
	DSN    string `yaml:"dsn" toml:"dsn"`       // postgres connection string
}

// ProgramConfig identifies the gateway and where payments land
type ProgramConfig struct {
	ID       keys.PublicKey `yaml:"-" toml:"-"`
	Treasury keys.PublicKey `yaml:"-" toml:"-"`
	Mint     keys.PublicKey `yaml:"-" toml:"-"`

	// Raw hex values for unmarshaling
	IDRaw       string `yaml:"id" toml:"id"`
	TreasuryRaw string `yaml:"treasury" toml:"treasury"`
	MintRaw     string `yaml:"mint" toml:"mint"`

	// AdminAPI exposes token account management over HTTP
	AdminAPI bool `yaml:"admin_api" toml:"admin_api"`
}

// AuthConfig holds request signature configuration
type AuthConfig struct {
	MaxAge    time.Duration `yaml:"-" toml:"-"`
	MaxAgeRaw string        `yaml:"max_age" toml:"max_age"`

	// ReplayCacheSize bounds the signatures remembered within max_age.
	// Requests beyond it are refused with 503 until older signatures expire.
	ReplayCacheSize int `yaml:"replay_cache_size" toml:"replay_cache_size"`
}

// LimitsConfig holds per-client and per-identity rate limits for signed
// requests. A zero rate disables that limit.
type LimitsConfig struct {
	ClientRPS     float64 `yaml:"client_rps" toml:"client_rps"` // per remote address, checked before signatures
	ClientBurst   int     `yaml:"client_burst" toml:"client_burst"`
	IdentityRPS   float64 `yaml:"identity_rps" toml:"identity_rps"` // per verified signer
	IdentityBurst int     `yaml:"identity_burst" toml:"identity_burst"`
}

// EventsConfig holds event sink configuration
type EventsConfig struct {
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"` // empty disables the Redis stream
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	RedisStream   string `yaml:"redis_stream" toml:"redis_stream"`
	MaxLen        int64  `yaml:"max_len" toml:"max_len"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultHTTPAddr    = "localhost:8080"
	DefaultRedisStream = "pulsar:events"
	DefaultMaxLen      = 100000
	DefaultMaxAge      = 5 * time.Minute

	DefaultReplayCacheSize = 100000
	DefaultClientRPS       = 50
	DefaultClientBurst     = 100
	DefaultIdentityRPS     = 5
	DefaultIdentityBurst   = 20
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first, and
// PULSAR_DB_PATH overrides database.path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if dbPath := os.Getenv("PULSAR_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	cfg.applyDefaults()

	if err := parseRaw(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Events.RedisStream == "" {
		c.Events.RedisStream = DefaultRedisStream
	}
	if c.Events.MaxLen == 0 {
		c.Events.MaxLen = DefaultMaxLen
	}
	if c.Auth.ReplayCacheSize == 0 {
		c.Auth.ReplayCacheSize = DefaultReplayCacheSize
	}
	if c.Limits == (LimitsConfig{}) {
		c.Limits = LimitsConfig{
			ClientRPS:     DefaultClientRPS,
			ClientBurst:   DefaultClientBurst,
			IdentityRPS:   DefaultIdentityRPS,
			IdentityBurst: DefaultIdentityBurst,
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseRaw converts raw strings into typed values
func parseRaw(cfg *Config) error {
	var err error

	if cfg.Program.IDRaw != "" {
		if cfg.Program.ID, err = keys.ParsePublicKey(cfg.Program.IDRaw); err != nil {
			return fmt.Errorf("parsing program.id: %w", err)
		}
	}
	if cfg.Program.TreasuryRaw != "" {
		if cfg.Program.Treasury, err = keys.ParsePublicKey(cfg.Program.TreasuryRaw); err != nil {
			return fmt.Errorf("parsing program.treasury: %w", err)
		}
	}
	if cfg.Program.MintRaw != "" {
		if cfg.Program.Mint, err = keys.ParsePublicKey(cfg.Program.MintRaw); err != nil {
			return fmt.Errorf("parsing program.mint: %w", err)
		}
	}

	cfg.Auth.MaxAge = DefaultMaxAge
	if cfg.Auth.MaxAgeRaw != "" {
		if cfg.Auth.MaxAge, err = time.ParseDuration(cfg.Auth.MaxAgeRaw); err != nil {
			return fmt.Errorf("parsing auth.max_age %q: %w", cfg.Auth.MaxAgeRaw, err)
		}
	}

	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Auth.MaxAge <= 0 {
		return fmt.Errorf("auth.max_age must be positive")
	}

	if c.Auth.ReplayCacheSize < 0 {
		return fmt.Errorf("auth.replay_cache_size must not be negative")
	}

	if c.Limits.ClientRPS < 0 || c.Limits.IdentityRPS < 0 {
		return fmt.Errorf("limits rates must not be negative")
	}
	if c.Limits.ClientBurst < 0 || c.Limits.IdentityBurst < 0 {
		return fmt.Errorf("limits bursts must not be negative")
	}

	if c.Events.MaxLen < 0 {
		return fmt.Errorf("events.max_len must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}
