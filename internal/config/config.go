// Package config defines the top-level configuration for the signaldesk
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIGNALDESK_* environment variables.
type Config struct {
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Provider    ProviderConfig    `toml:"provider"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for ledger archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ProviderConfig holds the external identity/credit platform parameters.
// Driver "http" talks to a real platform deployment; "memory" runs the
// embedded in-process provider with seed fixtures, for demos and tests.
type ProviderConfig struct {
	Driver         string   `toml:"driver"`
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	AppID          string   `toml:"app_id"`
	RequestTimeout duration `toml:"request_timeout"`
	SeedDemoData   bool     `toml:"seed_demo_data"`
}

// MarketplaceConfig holds signal marketplace tuning parameters.
type MarketplaceConfig struct {
	// MaxBatchSize caps the number of signals accepted in one batch post.
	MaxBatchSize int `toml:"max_batch_size"`
	// LockTTL bounds how long a per-user or per-signal lock may be held.
	LockTTL duration `toml:"lock_ttl"`
	// RecentWinWindow is the lookback for the "Recent Wins" buyer segment.
	RecentWinWindow duration `toml:"recent_win_window"`
	// HighLTVThreshold is the lifetime spend (USD) for the "High LTV" segment.
	HighLTVThreshold string `toml:"high_ltv_threshold"`
	// StatsCacheTTL bounds staleness of cached creator analytics.
	StatsCacheTTL duration `toml:"stats_cache_ttl"`
	// PostRateLimit / PostRateWindow throttle signal posting per creator.
	PostRateLimit  int      `toml:"post_rate_limit"`
	PostRateWindow duration `toml:"post_rate_window"`
}

// HighLTV returns the parsed lifetime-spend threshold. Validate guarantees
// the string parses, so an unparseable value here degrades to zero.
func (m MarketplaceConfig) HighLTV() decimal.Decimal {
	v, err := decimal.NewFromString(m.HighLTVThreshold)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// ArchiveConfig holds ledger archival parameters.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Lookback duration `toml:"lookback"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit / RateWindow throttle requests per client IP. Zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds operator notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "signaldesk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "signaldesk-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Provider: ProviderConfig{
			Driver:         "memory",
			BaseURL:        "https://api.whop.com/api/v2",
			RequestTimeout: duration{5 * time.Second},
			SeedDemoData:   true,
		},
		Marketplace: MarketplaceConfig{
			MaxBatchSize:     25,
			LockTTL:          duration{10 * time.Second},
			RecentWinWindow:  duration{7 * 24 * time.Hour},
			HighLTVThreshold: "100",
			StatsCacheTTL:    duration{5 * time.Minute},
			PostRateLimit:    30,
			PostRateWindow:   duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{24 * time.Hour},
			Lookback: duration{31 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   300,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement_failed", "credit_retry_needed", "error"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
	"demo":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validProviderDrivers enumerates the accepted values for Provider.Driver.
var validProviderDrivers = map[string]bool{
	"http":   true,
	"memory": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor, demo)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.Lookback.Duration <= 0 {
			errs = append(errs, "archive: lookback must be > 0")
		}
	}

	// Provider
	if !validProviderDrivers[strings.ToLower(c.Provider.Driver)] {
		errs = append(errs, fmt.Sprintf("provider: unknown driver %q (valid: http, memory)", c.Provider.Driver))
	}
	if strings.ToLower(c.Provider.Driver) == "http" {
		if c.Provider.BaseURL == "" {
			errs = append(errs, "provider: base_url is required for the http driver")
		}
		if c.Provider.APIKey == "" {
			errs = append(errs, "provider: api_key is required for the http driver")
		}
	}
	if c.Provider.RequestTimeout.Duration <= 0 {
		errs = append(errs, "provider: request_timeout must be > 0")
	}

	// Marketplace
	if c.Marketplace.MaxBatchSize < 1 {
		errs = append(errs, "marketplace: max_batch_size must be >= 1")
	}
	if c.Marketplace.LockTTL.Duration <= 0 {
		errs = append(errs, "marketplace: lock_ttl must be > 0")
	}
	if c.Marketplace.RecentWinWindow.Duration <= 0 {
		errs = append(errs, "marketplace: recent_win_window must be > 0")
	}
	if ltv, err := decimal.NewFromString(c.Marketplace.HighLTVThreshold); err != nil {
		errs = append(errs, fmt.Sprintf("marketplace: high_ltv_threshold %q is not a number", c.Marketplace.HighLTVThreshold))
	} else if ltv.IsNegative() {
		errs = append(errs, "marketplace: high_ltv_threshold must be >= 0")
	}
	if c.Marketplace.PostRateLimit < 1 {
		errs = append(errs, "marketplace: post_rate_limit must be >= 1")
	}
	if c.Marketplace.PostRateWindow.Duration <= 0 {
		errs = append(errs, "marketplace: post_rate_window must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
