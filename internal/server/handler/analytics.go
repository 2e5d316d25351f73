package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oddslab/signaldesk/internal/domain"
)

// AnalyticsService defines the analytics methods the handler depends on.
type AnalyticsService interface {
	CreatorAnalytics(ctx context.Context, creatorID string) (domain.CreatorAnalytics, error)
	RosterStats(ctx context.Context) ([]domain.CreatorAnalytics, error)
}

// AnalyticsHandler serves derived creator performance figures.
type AnalyticsHandler struct {
	analytics AnalyticsService
	logger    *slog.Logger
}

// NewAnalyticsHandler creates an AnalyticsHandler with the given service and
// logger.
func NewAnalyticsHandler(analytics AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		logger:    logger,
	}
}

// analyticsView is the JSON shape of creator analytics. WinRate is null until
// the creator has at least one settled signal.
type analyticsView struct {
	CreatorID     string   `json:"creator_id"`
	TotalRevenue  string   `json:"total_revenue"`
	SignalsPosted int      `json:"signals_posted"`
	SignalsSold   int      `json:"signals_sold"`
	Wins          int      `json:"wins"`
	Losses        int      `json:"losses"`
	WinRate       *float64 `json:"win_rate"`
	Reputation    int      `json:"reputation"`
	Tier          string   `json:"tier"`
}

func toAnalyticsView(a domain.CreatorAnalytics) analyticsView {
	return analyticsView{
		CreatorID:     a.CreatorID,
		TotalRevenue:  a.TotalRevenue.StringFixed(2),
		SignalsPosted: a.SignalsPosted,
		SignalsSold:   a.SignalsSold,
		Wins:          a.Wins,
		Losses:        a.Losses,
		WinRate:       a.WinRate,
		Reputation:    a.Reputation,
		Tier:          string(a.Tier),
	}
}

// GetCreatorAnalytics returns one creator's revenue, win rate, reputation,
// and tier.
// GET /api/creators/{id}/analytics
func (h *AnalyticsHandler) GetCreatorAnalytics(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing creator id")
		return
	}

	a, err := h.analytics.CreatorAnalytics(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get creator analytics", err)
		return
	}

	writeJSON(w, http.StatusOK, toAnalyticsView(a))
}

// rosterResponse wraps the all-creators roster output.
type rosterResponse struct {
	Creators []analyticsView `json:"creators"`
}

// ListCreatorStats returns derived analytics for every creator.
// GET /api/creators/stats
func (h *AnalyticsHandler) ListCreatorStats(w http.ResponseWriter, r *http.Request) {
	roster, err := h.analytics.RosterStats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list creator stats", err)
		return
	}

	views := make([]analyticsView, 0, len(roster))
	for _, a := range roster {
		views = append(views, toAnalyticsView(a))
	}
	writeJSON(w, http.StatusOK, rosterResponse{Creators: views})
}
