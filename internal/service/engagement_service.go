package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// EngagementService evaluates buyer segments and pushes targeted
// notifications through the provider.
//
// Segment membership is defined here, not by the provider:
//
//	Never Purchased - zero purchases
//	Tried & Credited - purchased at least one signal that settled LOSS
//	Recent Wins - purchased a signal that settled WIN inside the window
//	High LTV - lifetime paid spend at or above the threshold
type EngagementService struct {
	purchases domain.PurchaseStore
	provider  domain.Provider
	audit     domain.AuditStore
	logger    *slog.Logger

	winWindow    time.Duration
	ltvThreshold decimal.Decimal
}

// NewEngagementService creates an EngagementService with all required
// dependencies.
func NewEngagementService(
	purchases domain.PurchaseStore,
	provider domain.Provider,
	audit domain.AuditStore,
	winWindow time.Duration,
	ltvThreshold decimal.Decimal,
	logger *slog.Logger,
) *EngagementService {
	return &EngagementService{
		purchases:    purchases,
		provider:     provider,
		audit:        audit,
		logger:       logger,
		winWindow:    winWindow,
		ltvThreshold: ltvThreshold,
	}
}

// inSegment applies the membership predicate for one segment to one buyer's
// activity aggregate.
func (s *EngagementService) inSegment(a domain.BuyerActivity, seg domain.BuyerSegment) bool {
	switch seg {
	case domain.SegmentNeverPurchased:
		return a.Purchases == 0
	case domain.SegmentTriedCredited:
		return a.CreditedLosses > 0
	case domain.SegmentRecentWins:
		return a.LastWinAt != nil
	case domain.SegmentHighLTV:
		return a.LifetimeSpend.GreaterThanOrEqual(s.ltvThreshold)
	default:
		return false
	}
}

// SegmentSummary pairs a segment with its current member count.
type SegmentSummary struct {
	Segment domain.BuyerSegment
	Members int
}

// Segments returns every segment with a live member count. A buyer can
// belong to several segments at once.
func (s *EngagementService) Segments(ctx context.Context) ([]SegmentSummary, error) {
	activity, err := s.purchases.BuyerActivity(ctx, s.winWindow)
	if err != nil {
		return nil, fmt.Errorf("engagement_service: buyer activity: %w", err)
	}

	out := make([]SegmentSummary, 0, 4)
	for _, seg := range domain.Segments() {
		n := 0
		for _, a := range activity {
			if s.inSegment(a, seg) {
				n++
			}
		}
		out = append(out, SegmentSummary{Segment: seg, Members: n})
	}
	return out, nil
}

// Members returns the buyer IDs currently in a segment.
func (s *EngagementService) Members(ctx context.Context, seg domain.BuyerSegment) ([]string, error) {
	if !seg.Valid() {
		return nil, fmt.Errorf("engagement_service: %w: %q", domain.ErrInvalidSegment, seg)
	}

	activity, err := s.purchases.BuyerActivity(ctx, s.winWindow)
	if err != nil {
		return nil, fmt.Errorf("engagement_service: buyer activity: %w", err)
	}

	var ids []string
	for _, a := range activity {
		if s.inSegment(a, seg) {
			ids = append(ids, a.BuyerID)
		}
	}
	return ids, nil
}

// Notify pushes a message to a segment through the provider and audits the
// send.
func (s *EngagementService) Notify(ctx context.Context, seg domain.BuyerSegment, message string) error {
	if !seg.Valid() {
		return fmt.Errorf("engagement_service: %w: %q", domain.ErrInvalidSegment, seg)
	}
	if message == "" {
		return fmt.Errorf("engagement_service: %w: empty message", domain.ErrEmptyContent)
	}

	if err := s.provider.SendNotification(ctx, seg, message); err != nil {
		return fmt.Errorf("engagement_service: send notification: %w", err)
	}

	if err := s.audit.Log(ctx, "segment_notified", map[string]any{
		"segment": string(seg),
		"message": message,
	}); err != nil {
		s.logger.WarnContext(ctx, "engagement_service: audit log failed",
			slog.String("segment", string(seg)),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "engagement_service: segment notified",
		slog.String("segment", string(seg)),
	)
	return nil
}
