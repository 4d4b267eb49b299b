package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the activity service.
// Environment variables are parsed from the ACTIVITY_ prefix,
// e.g. ACTIVITY_HTTP_PORT, ACTIVITY_POSTGRES_DSN.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Store Configuration
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`

	// Access guard (admission control in front of the store)
	GuardMaxConcurrent   int `envconfig:"GUARD_MAX_CONCURRENT" default:"8"`
	GuardMaxQueue        int `envconfig:"GUARD_MAX_QUEUE" default:"32"`
	GuardAcquireTimeout  int `envconfig:"GUARD_ACQUIRE_TIMEOUT_MS" default:"2000"`
	GuardDedupeWindowMS  int `envconfig:"GUARD_DEDUPE_WINDOW_MS" default:"300"`
	GuardRetryMax        int `envconfig:"GUARD_RETRY_MAX" default:"3"`

	// Live feed
	FeedReconcileIntervalMS int `envconfig:"FEED_RECONCILE_INTERVAL_MS" default:"1500"`
	FeedReconcileBatch      int `envconfig:"FEED_RECONCILE_BATCH" default:"200"`
	FeedKeepAliveSeconds    int `envconfig:"FEED_KEEPALIVE_SECONDS" default:"20"`
	FeedBusBuffer           int `envconfig:"FEED_BUS_BUFFER" default:"256"`

	// Listing
	PageSizeMin     int `envconfig:"PAGE_SIZE_MIN" default:"1"`
	PageSizeMax     int `envconfig:"PAGE_SIZE_MAX" default:"100"`
	PageSizeDefault int `envconfig:"PAGE_SIZE_DEFAULT" default:"20"`
	MaxOffset       int `envconfig:"MAX_OFFSET" default:"10000"`
	QueryMaxLen     int `envconfig:"QUERY_MAX_LEN" default:"120"`
	SmartCandidates int `envconfig:"SMART_CANDIDATES" default:"500"`
	SmartTopK       int `envconfig:"SMART_TOP_K" default:"25"`

	// Auth: "static" resolves bearer tokens against StaticTokens,
	// "none" maps every request to DevOwner (local development only).
	AuthMode     string            `envconfig:"AUTH_MODE" default:"static"`
	StaticTokens map[string]string `envconfig:"STATIC_TOKENS"`
	DevOwner     string            `envconfig:"DEV_OWNER" default:"dev"`
}

// ResolveDefaults validates the driver selection and derives dependent values.
func (c *Config) ResolveDefaults() error {
	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	switch c.AuthMode {
	case "static", "none":
	default:
		return fmt.Errorf("unsupported AUTH_MODE: %s", c.AuthMode)
	}
	if c.PageSizeMin < 1 {
		c.PageSizeMin = 1
	}
	if c.PageSizeMax < c.PageSizeMin {
		return fmt.Errorf("PAGE_SIZE_MAX (%d) below PAGE_SIZE_MIN (%d)", c.PageSizeMax, c.PageSizeMin)
	}
	if c.PageSizeDefault < c.PageSizeMin || c.PageSizeDefault > c.PageSizeMax {
		c.PageSizeDefault = c.PageSizeMin
	}
	if c.GuardMaxConcurrent < 1 {
		return fmt.Errorf("GUARD_MAX_CONCURRENT must be >= 1")
	}
	return nil
}

// New creates a new Config by parsing ACTIVITY_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("ACTIVITY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Int("guard_max_concurrent", cfg.GuardMaxConcurrent).
		Int("guard_max_queue", cfg.GuardMaxQueue).
		Str("auth_mode", cfg.AuthMode).
		Str("postgres_dsn_present", func() string {
			if cfg.PostgresDSN != "" {
				return "true"
			}
			return "false"
		}()).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		HTTPPort:    8080,
		DBDriver:    "sqlite",
		SQLitePath:  ":memory:",

		GuardMaxConcurrent:  4,
		GuardMaxQueue:       8,
		GuardAcquireTimeout: 500,
		GuardDedupeWindowMS: 300,
		GuardRetryMax:       3,

		FeedReconcileIntervalMS: 50,
		FeedReconcileBatch:      100,
		FeedKeepAliveSeconds:    20,
		FeedBusBuffer:           64,

		PageSizeMin:     1,
		PageSizeMax:     100,
		PageSizeDefault: 20,
		MaxOffset:       10000,
		QueryMaxLen:     120,
		SmartCandidates: 500,
		SmartTopK:       25,

		AuthMode:     "static",
		StaticTokens: map[string]string{"test-token": "owner-1"},
		DevOwner:     "dev",
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GuardAcquireTimeoutDuration returns the permit acquire timeout.
func (c *Config) GuardAcquireTimeoutDuration() time.Duration {
	return time.Duration(c.GuardAcquireTimeout) * time.Millisecond
}

// FeedReconcileInterval returns the watcher reconciliation cadence.
func (c *Config) FeedReconcileInterval() time.Duration {
	return time.Duration(c.FeedReconcileIntervalMS) * time.Millisecond
}

// FeedKeepAlive returns the SSE keep-alive cadence.
func (c *Config) FeedKeepAlive() time.Duration {
	return time.Duration(c.FeedKeepAliveSeconds) * time.Second
}

// GuardDedupeWindow returns the identical-query collapse window.
func (c *Config) GuardDedupeWindow() time.Duration {
	return time.Duration(c.GuardDedupeWindowMS) * time.Millisecond
}
