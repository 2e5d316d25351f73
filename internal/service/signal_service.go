// Package service implements the marketplace use cases on top of the domain
// store and cache interfaces.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oddslab/signaldesk/internal/domain"
)

// SignalService handles posting and browsing signals.
type SignalService struct {
	signals   domain.SignalStore
	purchases domain.PurchaseStore
	limiter   domain.RateLimiter
	bus       domain.EventBus
	audit     domain.AuditStore
	logger    *slog.Logger

	maxBatchSize   int
	postRateLimit  int
	postRateWindow time.Duration
}

// SignalServiceConfig holds tuning parameters for SignalService.
type SignalServiceConfig struct {
	MaxBatchSize   int
	PostRateLimit  int
	PostRateWindow time.Duration
}

// NewSignalService creates a SignalService with all required dependencies.
func NewSignalService(
	signals domain.SignalStore,
	purchases domain.PurchaseStore,
	limiter domain.RateLimiter,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg SignalServiceConfig,
	logger *slog.Logger,
) *SignalService {
	return &SignalService{
		signals:        signals,
		purchases:      purchases,
		limiter:        limiter,
		bus:            bus,
		audit:          audit,
		logger:         logger,
		maxBatchSize:   cfg.MaxBatchSize,
		postRateLimit:  cfg.PostRateLimit,
		postRateWindow: cfg.PostRateWindow,
	}
}

// PostSignal validates and persists a new signal for the creator. The commit
// hash binds the content to the posting timestamp; both are immutable from
// here on.
func (s *SignalService) PostSignal(ctx context.Context, creatorID, content, category, price string) (domain.Signal, error) {
	sig, err := buildSignal(creatorID, content, category, price)
	if err != nil {
		return domain.Signal{}, err
	}

	allowed, err := s.limiter.Allow(ctx, "post:"+creatorID, s.postRateLimit, s.postRateWindow)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("signal_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Signal{}, domain.ErrRateLimited
	}

	if err := s.signals.Create(ctx, sig); err != nil {
		return domain.Signal{}, fmt.Errorf("signal_service: create signal: %w", err)
	}

	s.publishEvent(ctx, domain.LedgerEvent{
		Type:     domain.EventSignalPosted,
		SignalID: sig.ID,
		UserID:   creatorID,
		Detail: map[string]any{
			"category": sig.Category,
			"price":    sig.Price.String(),
			"hash":     sig.Hash,
		},
		Timestamp: sig.CreatedAt,
	})

	if err := s.audit.Log(ctx, "signal_posted", map[string]any{
		"signal_id": sig.ID,
		"creator":   creatorID,
		"category":  sig.Category,
		"price":     sig.Price.String(),
		"hash":      sig.Hash,
	}); err != nil {
		s.logger.WarnContext(ctx, "signal_service: audit log failed",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "signal_service: signal posted",
		slog.String("signal_id", sig.ID),
		slog.String("creator", creatorID),
		slog.String("category", sig.Category),
		slog.String("price", sig.Price.String()),
	)

	return sig, nil
}

// BatchInput is one signal in a batch post request.
type BatchInput struct {
	Content  string
	Category string
	Price    string
}

// PostBatch validates every entry first and then persists them atomically.
// One invalid entry rejects the whole batch.
func (s *SignalService) PostBatch(ctx context.Context, creatorID string, inputs []BatchInput) ([]domain.Signal, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("signal_service: %w: empty batch", domain.ErrEmptyContent)
	}
	if len(inputs) > s.maxBatchSize {
		return nil, fmt.Errorf("signal_service: batch of %d exceeds limit %d", len(inputs), s.maxBatchSize)
	}

	allowed, err := s.limiter.Allow(ctx, "post:"+creatorID, s.postRateLimit, s.postRateWindow)
	if err != nil {
		return nil, fmt.Errorf("signal_service: rate limiter: %w", err)
	}
	if !allowed {
		return nil, domain.ErrRateLimited
	}

	sigs := make([]domain.Signal, 0, len(inputs))
	for i, in := range inputs {
		sig, err := buildSignal(creatorID, in.Content, in.Category, in.Price)
		if err != nil {
			return nil, fmt.Errorf("signal_service: batch entry %d: %w", i, err)
		}
		sigs = append(sigs, sig)
	}

	if err := s.signals.CreateBatch(ctx, sigs); err != nil {
		return nil, fmt.Errorf("signal_service: create batch: %w", err)
	}

	for _, sig := range sigs {
		s.publishEvent(ctx, domain.LedgerEvent{
			Type:      domain.EventSignalPosted,
			SignalID:  sig.ID,
			UserID:    creatorID,
			Detail:    map[string]any{"category": sig.Category, "price": sig.Price.String()},
			Timestamp: sig.CreatedAt,
		})
	}

	if err := s.audit.Log(ctx, "signal_batch_posted", map[string]any{
		"creator": creatorID,
		"count":   len(sigs),
	}); err != nil {
		s.logger.WarnContext(ctx, "signal_service: audit log failed",
			slog.String("creator", creatorID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "signal_service: batch posted",
		slog.String("creator", creatorID),
		slog.Int("count", len(sigs)),
	)

	return sigs, nil
}

// buildSignal validates the raw input and assembles a pending signal with its
// commit hash.
func buildSignal(creatorID, content, category, price string) (domain.Signal, error) {
	content = strings.TrimSpace(content)
	category = strings.TrimSpace(category)

	if content == "" {
		return domain.Signal{}, domain.ErrEmptyContent
	}
	if category == "" {
		return domain.Signal{}, domain.ErrEmptyCategory
	}

	p, err := parsePrice(price)
	if err != nil {
		return domain.Signal{}, err
	}

	now := time.Now().UTC()
	return domain.Signal{
		ID:        uuid.New().String(),
		CreatorID: creatorID,
		Content:   content,
		Category:  category,
		Price:     p,
		Hash:      domain.CommitHash(content, now),
		Outcome:   domain.OutcomePending,
		CreatedAt: now,
	}, nil
}

// GetSignal returns one signal with its content redacted unless the viewer
// posted it, unlocked it, or the signal has settled.
func (s *SignalService) GetSignal(ctx context.Context, id, viewerID string) (domain.Signal, error) {
	sig, err := s.signals.GetByID(ctx, id)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("signal_service: get signal: %w", err)
	}

	unlocked := false
	if viewerID != "" && viewerID != sig.CreatorID {
		unlocked, err = s.purchases.Exists(ctx, id, viewerID)
		if err != nil {
			return domain.Signal{}, fmt.Errorf("signal_service: check unlock: %w", err)
		}
	}
	return redactSignal(sig, viewerID, unlocked), nil
}

// ListLedger returns the public ledger. Pending content is redacted for
// everyone except the creator.
func (s *SignalService) ListLedger(ctx context.Context, viewerID string, opts domain.ListOpts) ([]domain.Signal, error) {
	sigs, err := s.signals.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("signal_service: list ledger: %w", err)
	}
	return s.redactAll(ctx, sigs, viewerID)
}

// ListAvailable returns the pending signals a buyer can still unlock. Content
// is always redacted here; the buyer has not paid yet.
func (s *SignalService) ListAvailable(ctx context.Context, buyerID string, opts domain.ListOpts) ([]domain.Signal, error) {
	sigs, err := s.signals.ListAvailable(ctx, buyerID, opts)
	if err != nil {
		return nil, fmt.Errorf("signal_service: list available: %w", err)
	}
	for i := range sigs {
		sigs[i] = redactSignal(sigs[i], buyerID, false)
	}
	return sigs, nil
}

// ListPending returns the creator's unsettled signals awaiting a result.
func (s *SignalService) ListPending(ctx context.Context, creatorID string) ([]domain.Signal, error) {
	sigs, err := s.signals.ListPendingByCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("signal_service: list pending: %w", err)
	}
	return sigs, nil
}

// redactAll applies per-signal redaction using the viewer's unlock records.
func (s *SignalService) redactAll(ctx context.Context, sigs []domain.Signal, viewerID string) ([]domain.Signal, error) {
	for i := range sigs {
		unlocked := false
		if viewerID != "" && viewerID != sigs[i].CreatorID && sigs[i].Outcome == domain.OutcomePending {
			var err error
			unlocked, err = s.purchases.Exists(ctx, sigs[i].ID, viewerID)
			if err != nil {
				return nil, fmt.Errorf("signal_service: check unlock: %w", err)
			}
		}
		sigs[i] = redactSignal(sigs[i], viewerID, unlocked)
	}
	return sigs, nil
}

// lockedPlaceholder replaces unsettled content the viewer has not paid for.
const lockedPlaceholder = "Signal Locked"

func redactSignal(sig domain.Signal, viewerID string, unlocked bool) domain.Signal {
	if sig.Locked(viewerID, unlocked) {
		sig.Content = lockedPlaceholder
	}
	return sig
}

func (s *SignalService) publishEvent(ctx context.Context, evt domain.LedgerEvent) {
	publishLedgerEvent(ctx, s.bus, s.logger, evt)
}
