package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddslab/signaldesk/internal/domain"
	"github.com/oddslab/signaldesk/internal/server/handler"
	"github.com/oddslab/signaldesk/internal/server/middleware"
	"github.com/oddslab/signaldesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Limiter backs the per-IP request throttle. Nil or a zero RateLimit
	// disables throttling.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Signals    *handler.SignalHandler
	Purchases  *handler.PurchaseHandler
	Analytics  *handler.AnalyticsHandler
	Engagement *handler.EngagementHandler
}

// Server is the HTTP + WebSocket API server for the signal marketplace.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Ledger and signal endpoints.
	mux.HandleFunc("GET /api/ledger", handlers.Signals.ListLedger)
	mux.HandleFunc("GET /api/signals", handlers.Signals.ListAvailable)
	mux.HandleFunc("GET /api/signals/pending", handlers.Signals.ListPending)
	mux.HandleFunc("GET /api/signals/{id}", handlers.Signals.GetSignal)
	mux.HandleFunc("POST /api/signals", handlers.Signals.PostSignal)
	mux.HandleFunc("POST /api/signals/batch", handlers.Signals.PostBatch)

	// Settlement endpoints.
	mux.HandleFunc("POST /api/signals/{id}/settle", handlers.Signals.Settle)
	mux.HandleFunc("POST /api/signals/{id}/settle/retry", handlers.Signals.RetryCredits)

	// Purchase endpoints.
	mux.HandleFunc("GET /api/purchases", handlers.Purchases.ListPurchases)
	mux.HandleFunc("POST /api/purchases", handlers.Purchases.CreatePurchase)

	// Analytics endpoints.
	mux.HandleFunc("GET /api/creators/stats", handlers.Analytics.ListCreatorStats)
	mux.HandleFunc("GET /api/creators/{id}/analytics", handlers.Analytics.GetCreatorAnalytics)

	// Segment and notification endpoints.
	mux.HandleFunc("GET /api/segments", handlers.Engagement.ListSegments)
	mux.HandleFunc("GET /api/segments/{name}/members", handlers.Engagement.GetSegmentMembers)
	mux.HandleFunc("POST /api/notify", handlers.Engagement.Notify)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
