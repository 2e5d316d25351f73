package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/oddslab/signaldesk/internal/blob/s3"
	"github.com/oddslab/signaldesk/internal/cache/redis"
	"github.com/oddslab/signaldesk/internal/config"
	"github.com/oddslab/signaldesk/internal/domain"
	"github.com/oddslab/signaldesk/internal/notify"
	"github.com/oddslab/signaldesk/internal/provider/memory"
	"github.com/oddslab/signaldesk/internal/provider/whop"
	"github.com/oddslab/signaldesk/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	SignalStore     domain.SignalStore
	PurchaseStore   domain.PurchaseStore
	UserStore       domain.UserStore
	SettlementStore domain.SettlementStore
	StatsStore      domain.StatsStore
	AuditStore      domain.AuditStore

	// Caches and coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    domain.EventBus
	StatsCache  domain.StatsCache

	// Platform provider (identity, credits, checkout, notifications)
	Provider domain.Provider

	// Blob storage for ledger archives
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Operator notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.SignalStore = postgres.NewSignalStore(pool)
	deps.PurchaseStore = postgres.NewPurchaseStore(pool)
	deps.UserStore = postgres.NewUserStore(pool)
	deps.SettlementStore = postgres.NewSettlementStore(pool)
	deps.StatsStore = postgres.NewStatsStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)
	deps.StatsCache = redis.NewStatsCache(redisClient, cfg.Marketplace.StatsCacheTTL.Duration)

	// --- Platform provider ---
	provider, err := newProvider(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := provider.Initialize(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: provider: %w", err)
	}
	deps.Provider = provider

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.SignalStore,
			deps.PurchaseStore,
			deps.AuditStore,
		)
	}

	// --- Operator notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// newProvider selects the platform provider implementation. Driver "http"
// talks to a hosted platform deployment over REST; "memory" runs the embedded
// in-process provider used by demo mode and local development.
func newProvider(cfg *config.Config) (domain.Provider, error) {
	switch strings.ToLower(cfg.Provider.Driver) {
	case "http":
		return whop.NewClient(whop.Config{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
			AppID:   cfg.Provider.AppID,
			Timeout: cfg.Provider.RequestTimeout.Duration,
		}), nil
	case "memory", "":
		if cfg.Provider.SeedDemoData {
			return memory.NewSeeded(), nil
		}
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("wire: unknown provider driver %q", cfg.Provider.Driver)
	}
}
