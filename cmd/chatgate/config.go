package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Chat     ChatConfig     `yaml:"chat"`
	Reset    ResetConfig    `yaml:"reset"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddress     string        `yaml:"listen_address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// TenantHeader and SessionHeader carry the identity established by the
	// trusted edge in front of this service.
	TenantHeader  string `yaml:"tenant_header"`
	SessionHeader string `yaml:"session_header"`
}

// StoreConfig selects and configures the subscription store.
type StoreConfig struct {
	// Backend is one of "memory", "redis" or "postgres".
	Backend string `yaml:"backend"`

	// DefaultTimezone applies to subscriptions without one of their own.
	DefaultTimezone string `yaml:"default_timezone"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds redis backend settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig holds postgres backend settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// UpstreamConfig holds completion-service settings. An empty APIKey leaves
// the service in fallback-only mode.
type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ChatConfig holds proxy behavior settings.
type ChatConfig struct {
	HistoryWindow      int     `yaml:"history_window"`
	Temperature        float64 `yaml:"temperature"`
	SkipChargeOnCancel bool    `yaml:"skip_charge_on_cancel"`
}

// ResetConfig holds the periodic monthly-reset sweep settings.
type ResetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	CronSpec    string `yaml:"cron_spec"`
	Concurrency int    `yaml:"concurrency"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:     ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			TenantHeader:      "X-Tenant-ID",
			SessionHeader:     "X-Session-ID",
		},
		Store: StoreConfig{
			Backend:         "memory",
			DefaultTimezone: "UTC",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "chatgate:",
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			RetryBackoff: time.Second,
		},
		Chat: ChatConfig{
			HistoryWindow: 25,
			Temperature:   0.7,
		},
		Reset: ResetConfig{
			Enabled:     true,
			CronSpec:    "17 2 * * *",
			Concurrency: 8,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file, fills unset fields with
// defaults, applies CHATGATE_* environment overrides and validates the
// result. An empty path skips the file step.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse configuration file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if c.Upstream.APIKey != "" && c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required when an api key is set")
	}
	return nil
}

// applyEnvOverrides applies CHATGATE_SECTION_FIELD environment variables on
// top of the loaded configuration. Environment always wins over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATGATE_SERVER_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("CHATGATE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("CHATGATE_STORE_DEFAULT_TIMEZONE"); v != "" {
		cfg.Store.DefaultTimezone = v
	}
	if v := os.Getenv("CHATGATE_STORE_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("CHATGATE_STORE_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("CHATGATE_STORE_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Store.Redis.DB = i
		}
	}
	if v := os.Getenv("CHATGATE_STORE_POSTGRES_DSN"); v != "" {
		cfg.Store.Postgres.DSN = v
	}
	if v := os.Getenv("CHATGATE_UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("CHATGATE_UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("CHATGATE_UPSTREAM_MODEL"); v != "" {
		cfg.Upstream.Model = v
	}
	if v := os.Getenv("CHATGATE_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.Timeout = d
		}
	}
	if v := os.Getenv("CHATGATE_UPSTREAM_MAX_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Upstream.MaxRetries = i
		}
	}
	if v := os.Getenv("CHATGATE_RESET_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reset.Enabled = b
		}
	}
	if v := os.Getenv("CHATGATE_RESET_CRON_SPEC"); v != "" {
		cfg.Reset.CronSpec = v
	}
	if v := os.Getenv("CHATGATE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
