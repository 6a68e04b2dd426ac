// Package config loads seqkeeper settings from a TOML file and the environment.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config is the full application configuration.
type Config struct {
	Env         string            `toml:"-"`
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Log         LogConfig         `toml:"log"`
	Auth        AuthConfig        `toml:"auth"`
	Reset       ResetConfig       `toml:"reset"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
	Audit       AuditConfig       `toml:"audit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `toml:"port"`
	Debug        bool          `toml:"debug"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	IdleTimeout  time.Duration `toml:"idle_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL              string        `toml:"url"`
	MaxConns         int32         `toml:"max_conns"`
	MinConns         int32         `toml:"min_conns"`
	StatementTimeout time.Duration `toml:"statement_timeout"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// AuthConfig contains JWT settings.
type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl"`
}

// ResetConfig controls the daily sequence reset job.
type ResetConfig struct {
	Enabled  bool   `toml:"enabled"`
	At       string `toml:"at"`
	Timezone string `toml:"timezone"`
}

// IdempotencyConfig controls Idempotency-Key handling.
type IdempotencyConfig struct {
	Enabled bool          `toml:"enabled"`
	TTL     time.Duration `toml:"ttl"`
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	CompressThreshold int `toml:"compress_threshold"`
}

// Default returns the configuration embedded in the binary.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	cfg.Env = "development"
	return &cfg
}

// Example returns the embedded example file.
func Example() []byte {
	return exampleConf
}

// Load builds the configuration: embedded defaults, then the file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("APP_ENV", c.Env)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Reset.At = getEnv("RESET_AT", c.Reset.At)
	c.Reset.Timezone = getEnv("RESET_TIMEZONE", c.Reset.Timezone)

	if v := os.Getenv("APP_ENV"); v != "" {
		c.Log.Development = v == "development"
	}

	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("APP_PORT: %w", err)
		}
		c.Server.Port = port
	}

	for key, dst := range map[string]*bool{
		"RESET_ENABLED":       &c.Reset.Enabled,
		"IDEMPOTENCY_ENABLED": &c.Idempotency.Enabled,
	} {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required in production")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns exceeds max_conns")
	}
	if _, _, err := c.Reset.TimeOfDay(); err != nil {
		return err
	}
	if _, err := c.Reset.Location(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TimeOfDay parses At as HH:MM.
func (r ResetConfig) TimeOfDay() (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(r.At), ":")
	if ok {
		hour, err = strconv.Atoi(h)
		if err == nil {
			minute, err = strconv.Atoi(m)
		}
	}
	if !ok || err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("reset.at must be HH:MM, got %q", r.At)
	}
	return hour, minute, nil
}

// Location loads Timezone. Empty means UTC.
func (r ResetConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reset.timezone: %w", err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
