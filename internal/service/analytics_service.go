package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oddslab/signaldesk/internal/domain"
)

// AnalyticsService derives creator performance figures from the ledger.
// Derived values change only on settlement, so they are cached and the
// settlement path invalidates.
type AnalyticsService struct {
	stats  domain.StatsStore
	cache  domain.StatsCache
	logger *slog.Logger
}

// NewAnalyticsService creates an AnalyticsService with all required
// dependencies.
func NewAnalyticsService(stats domain.StatsStore, cache domain.StatsCache, logger *slog.Logger) *AnalyticsService {
	return &AnalyticsService{stats: stats, cache: cache, logger: logger}
}

// CreatorAnalytics returns revenue, sales, win rate, reputation, and tier for
// one creator.
func (s *AnalyticsService) CreatorAnalytics(ctx context.Context, creatorID string) (domain.CreatorAnalytics, error) {
	if cached, err := s.cache.Get(ctx, creatorID); err == nil {
		return cached, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "analytics_service: cache read failed",
			slog.String("creator", creatorID),
			slog.String("error", err.Error()),
		)
	}

	stats, err := s.stats.CreatorStats(ctx, creatorID)
	if err != nil {
		return domain.CreatorAnalytics{}, fmt.Errorf("analytics_service: creator stats: %w", err)
	}

	a := domain.ComputeAnalytics(stats)

	if err := s.cache.Set(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "analytics_service: cache write failed",
			slog.String("creator", creatorID),
			slog.String("error", err.Error()),
		)
	}
	return a, nil
}

// RosterStats returns derived analytics for every creator, for the buyer-side
// roster view.
func (s *AnalyticsService) RosterStats(ctx context.Context) ([]domain.CreatorAnalytics, error) {
	stats, err := s.stats.AllCreatorStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics_service: all creator stats: %w", err)
	}

	out := make([]domain.CreatorAnalytics, 0, len(stats))
	for _, st := range stats {
		out = append(out, domain.ComputeAnalytics(st))
	}
	return out, nil
}

// InvalidateCreator drops the cached analytics after a settlement.
func (s *AnalyticsService) InvalidateCreator(ctx context.Context, creatorID string) {
	if err := s.cache.Invalidate(ctx, creatorID); err != nil {
		s.logger.WarnContext(ctx, "analytics_service: cache invalidate failed",
			slog.String("creator", creatorID),
			slog.String("error", err.Error()),
		)
	}
}
