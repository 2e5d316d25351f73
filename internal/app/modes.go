package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddslab/signaldesk/internal/domain"
	"github.com/oddslab/signaldesk/internal/notify"
	"github.com/oddslab/signaldesk/internal/server"
	"github.com/oddslab/signaldesk/internal/server/handler"
	"github.com/oddslab/signaldesk/internal/server/ws"
	"github.com/oddslab/signaldesk/internal/service"
)

// services bundles the domain services built on top of wired dependencies.
type services struct {
	signals     *service.SignalService
	purchases   *service.PurchaseService
	settlements *service.SettlementService
	analytics   *service.AnalyticsService
	engagement  *service.EngagementService
	users       *service.UserService
}

func (a *App) buildServices(deps *Dependencies) *services {
	mk := a.cfg.Marketplace

	analytics := service.NewAnalyticsService(deps.StatsStore, deps.StatsCache, a.logger)
	return &services{
		signals: service.NewSignalService(
			deps.SignalStore, deps.PurchaseStore, deps.RateLimiter,
			deps.EventBus, deps.AuditStore,
			service.SignalServiceConfig{
				MaxBatchSize:   mk.MaxBatchSize,
				PostRateLimit:  mk.PostRateLimit,
				PostRateWindow: mk.PostRateWindow.Duration,
			},
			a.logger,
		),
		purchases: service.NewPurchaseService(
			deps.SignalStore, deps.PurchaseStore, deps.UserStore,
			deps.LockManager, deps.Provider, deps.EventBus, deps.AuditStore,
			mk.LockTTL.Duration, a.logger,
		),
		settlements: service.NewSettlementService(
			deps.SignalStore, deps.PurchaseStore, deps.SettlementStore,
			deps.LockManager, deps.Provider, deps.EventBus, deps.AuditStore,
			mk.LockTTL.Duration, a.logger,
		).WithAnalytics(analytics),
		analytics: analytics,
		engagement: service.NewEngagementService(
			deps.PurchaseStore, deps.Provider, deps.AuditStore,
			mk.RecentWinWindow.Duration, mk.HighLTV(), a.logger,
		),
		users: service.NewUserService(deps.UserStore, deps.Provider, a.logger),
	}
}

// ServerMode starts the HTTP + WebSocket API server, the event hub, and the
// archive loop when archival is enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svcs := a.buildServices(deps)

	// Mirror the provider roster up front so read-side joins have usernames.
	if n, err := svcs.users.Sync(ctx); err != nil {
		a.logger.WarnContext(ctx, "server mode: initial roster sync failed",
			slog.String("error", err.Error()),
		)
	} else {
		a.logger.InfoContext(ctx, "server mode: roster synced", slog.Int("users", n))
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, svcs, hub)

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// MonitorMode runs without the HTTP server: it keeps the user mirror fresh
// and tails the ledger stream, forwarding settlement activity to the
// operator notification channels.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	svcs := a.buildServices(deps)

	g, ctx := errgroup.WithContext(ctx)

	// Periodic roster sync.
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			if n, err := svcs.users.Sync(ctx); err != nil {
				a.logger.WarnContext(ctx, "monitor mode: roster sync failed",
					slog.String("error", err.Error()),
				)
			} else {
				a.logger.InfoContext(ctx, "monitor mode: roster synced", slog.Int("users", n))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	// Ledger stream tail.
	g.Go(func() error {
		return a.tailLedgerStream(ctx, deps)
	})

	// Audit scan for interrupted credit fan-outs.
	g.Go(func() error {
		return a.watchCreditFanouts(ctx, deps)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// DemoMode seeds the marketplace with the demo roster and a scripted set of
// signals, purchases, and settlements, then serves the API so the result can
// be explored. It requires the in-memory provider.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting demo mode")

	svcs := a.buildServices(deps)

	if _, err := svcs.users.Sync(ctx); err != nil {
		return fmt.Errorf("demo mode: roster sync: %w", err)
	}

	count, err := deps.SignalStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("demo mode: count signals: %w", err)
	}
	if count == 0 {
		if err := a.seedDemoLedger(ctx, svcs); err != nil {
			return fmt.Errorf("demo mode: %w", err)
		}
	} else {
		a.logger.InfoContext(ctx, "demo mode: ledger already populated, skipping seed",
			slog.Int64("signals", count),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, svcs, hub)

	return g.Wait()
}

// seedDemoLedger walks the marketplace through a small scripted session: the
// demo creator posts three signals, two buyers unlock them (one on credit,
// one through checkout), and two signals settle so analytics, segments, and
// the credit ledger all have data.
func (a *App) seedDemoLedger(ctx context.Context, svcs *services) error {
	const creator = "u_creator_1"

	type demoSignal struct {
		content  string
		category string
		price    string
	}
	posts := []demoSignal{
		{"BTC breaks 70k before Friday, size in on the dip", "crypto", "25.00"},
		{"Lakers -4.5 is free money tonight, their bench is cooking", "sports", "15.00"},
		{"SPY puts printing into CPI, hedge by Wednesday", "stocks", "40.00"},
	}

	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		sig, err := svcs.signals.PostSignal(ctx, creator, p.content, p.category, p.price)
		if err != nil {
			return fmt.Errorf("seed: post signal: %w", err)
		}
		ids = append(ids, sig.ID)
	}

	// u_buyer_1 holds a loss-protection credit; this unlock consumes it.
	if _, err := svcs.purchases.Purchase(ctx, ids[0], "u_buyer_1"); err != nil {
		return fmt.Errorf("seed: credit purchase: %w", err)
	}
	if _, err := svcs.purchases.Purchase(ctx, ids[1], "u_buyer_2"); err != nil {
		return fmt.Errorf("seed: checkout purchase: %w", err)
	}

	if _, err := svcs.settlements.Settle(ctx, ids[0], creator, domain.OutcomeWin); err != nil {
		return fmt.Errorf("seed: settle win: %w", err)
	}
	// LOSS settlement fans a credit back out to u_buyer_2.
	if _, err := svcs.settlements.Settle(ctx, ids[1], creator, domain.OutcomeLoss); err != nil {
		return fmt.Errorf("seed: settle loss: %w", err)
	}

	a.logger.InfoContext(ctx, "demo mode: seeded ledger",
		slog.Int("signals", len(ids)),
		slog.Int("purchases", 2),
		slog.Int("settled", 2),
	)
	return nil
}

// startHTTPServer adds the API server and its graceful shutdown to the given
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, hub *ws.Hub) {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Signals:    handler.NewSignalHandler(svcs.signals, svcs.settlements, svcs.users, a.logger),
		Purchases:  handler.NewPurchaseHandler(svcs.purchases, svcs.users, a.logger),
		Analytics:  handler.NewAnalyticsHandler(svcs.analytics, a.logger),
		Engagement: handler.NewEngagementHandler(svcs.engagement, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveLoop periodically exports settled ledger history and the audit
// log to blob storage.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	lookback := a.cfg.Archive.Lookback.Duration
	if lookback <= 0 {
		lookback = 31 * 24 * time.Hour
	}

	runOnce := func() {
		now := time.Now().UTC()
		from := now.Add(-lookback)

		signals, err := deps.Archiver.ArchiveLedger(ctx, from, now)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: ledger export failed",
				slog.String("error", err.Error()),
			)
			_ = deps.Notifier.Notify(ctx, notify.EventError,
				"Ledger archive failed", err.Error())
			return
		}

		entries, err := deps.Archiver.ArchiveAudit(ctx, from, now)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: audit export failed",
				slog.String("error", err.Error()),
			)
			_ = deps.Notifier.Notify(ctx, notify.EventError,
				"Audit archive failed", err.Error())
			return
		}

		a.logger.InfoContext(ctx, "archive: export complete",
			slog.Int64("signals", signals),
			slog.Int64("audit_entries", entries),
			slog.Time("from", from),
			slog.Time("to", now),
		)
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce()
		}
	}
}

// tailLedgerStream polls the durable ledger stream and forwards settlement
// and credit events to the operator notification channels.
func (a *App) tailLedgerStream(ctx context.Context, deps *Dependencies) error {
	lastID := "$"
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		msgs, err := deps.EventBus.StreamRead(ctx, domain.ChannelLedger, lastID, 100)
		if err != nil {
			a.logger.WarnContext(ctx, "monitor mode: stream read failed",
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, msg := range msgs {
			lastID = msg.ID
			a.forwardLedgerEvent(ctx, msg.Payload)
		}
	}
}

// watchCreditFanouts polls the audit log for interrupted credit fan-outs and
// alerts the operator, who resolves them via the settle retry endpoint.
func (a *App) watchCreditFanouts(ctx context.Context, deps *Dependencies) error {
	lastCheck := time.Now().UTC()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now().UTC()
		entries, err := deps.AuditStore.ListBetween(ctx, lastCheck, now)
		if err != nil {
			a.logger.WarnContext(ctx, "monitor mode: audit scan failed",
				slog.String("error", err.Error()),
			)
			continue
		}
		lastCheck = now

		for _, e := range entries {
			if e.Event != "credit_fanout_interrupted" {
				continue
			}
			signalID, _ := e.Detail["signal_id"].(string)
			a.logger.WarnContext(ctx, "monitor mode: credit fan-out needs retry",
				slog.String("signal_id", signalID),
				slog.Any("detail", e.Detail),
			)
			_ = deps.Notifier.Notify(ctx, notify.EventCreditRetryNeeded,
				"Credit fan-out interrupted",
				fmt.Sprintf("Signal %s has uncredited purchasers; POST /api/signals/%s/settle/retry to resume.", signalID, signalID),
			)
		}
	}
}

func (a *App) forwardLedgerEvent(ctx context.Context, payload []byte) {
	var evt domain.LedgerEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		a.logger.WarnContext(ctx, "monitor mode: undecodable ledger event",
			slog.String("error", err.Error()),
		)
		return
	}

	switch evt.Type {
	case domain.EventSignalSettled:
		a.logger.InfoContext(ctx, "ledger: signal settled",
			slog.String("signal_id", evt.SignalID),
			slog.Any("detail", evt.Detail),
		)
	case domain.EventCreditIssued:
		a.logger.InfoContext(ctx, "ledger: credit issued",
			slog.String("signal_id", evt.SignalID),
			slog.String("user_id", evt.UserID),
		)
	default:
		// Posting and purchase events are high volume; log at debug only.
		a.logger.DebugContext(ctx, "ledger: event",
			slog.String("type", evt.Type),
			slog.String("signal_id", evt.SignalID),
		)
	}
}
