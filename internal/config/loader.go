package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIGNALDESK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIGNALDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SIGNALDESK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "SIGNALDESK_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SIGNALDESK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGNALDESK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGNALDESK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGNALDESK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGNALDESK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGNALDESK_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIGNALDESK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIGNALDESK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGNALDESK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIGNALDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGNALDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGNALDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALDESK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SIGNALDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIGNALDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIGNALDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIGNALDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIGNALDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SIGNALDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SIGNALDESK_S3_FORCE_PATH_STYLE")

	// ── Provider ──
	setStr(&cfg.Provider.Driver, "SIGNALDESK_PROVIDER_DRIVER")
	setStr(&cfg.Provider.BaseURL, "SIGNALDESK_PROVIDER_BASE_URL")
	setStr(&cfg.Provider.APIKey, "SIGNALDESK_PROVIDER_API_KEY")
	setStr(&cfg.Provider.AppID, "SIGNALDESK_PROVIDER_APP_ID")
	setDuration(&cfg.Provider.RequestTimeout, "SIGNALDESK_PROVIDER_REQUEST_TIMEOUT")
	setBool(&cfg.Provider.SeedDemoData, "SIGNALDESK_PROVIDER_SEED_DEMO_DATA")

	// ── Marketplace ──
	setInt(&cfg.Marketplace.MaxBatchSize, "SIGNALDESK_MARKETPLACE_MAX_BATCH_SIZE")
	setDuration(&cfg.Marketplace.LockTTL, "SIGNALDESK_MARKETPLACE_LOCK_TTL")
	setDuration(&cfg.Marketplace.RecentWinWindow, "SIGNALDESK_MARKETPLACE_RECENT_WIN_WINDOW")
	setStr(&cfg.Marketplace.HighLTVThreshold, "SIGNALDESK_MARKETPLACE_HIGH_LTV_THRESHOLD")
	setDuration(&cfg.Marketplace.StatsCacheTTL, "SIGNALDESK_MARKETPLACE_STATS_CACHE_TTL")
	setInt(&cfg.Marketplace.PostRateLimit, "SIGNALDESK_MARKETPLACE_POST_RATE_LIMIT")
	setDuration(&cfg.Marketplace.PostRateWindow, "SIGNALDESK_MARKETPLACE_POST_RATE_WINDOW")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SIGNALDESK_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "SIGNALDESK_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Lookback, "SIGNALDESK_ARCHIVE_LOOKBACK")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIGNALDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIGNALDESK_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SIGNALDESK_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SIGNALDESK_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGNALDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGNALDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGNALDESK_MODE")
	setStr(&cfg.LogLevel, "SIGNALDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
