package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslab/signaldesk/internal/domain"
)

// SettlementService drives the one-shot PENDING to WIN/LOSS transition and
// the loss-protection credit fan-out.
//
// A LOSS settlement is a saga: the full set of purchasers owed a credit is
// persisted before any provider call, then credits are issued one at a time
// and durably marked as they land. A provider failure mid-fan-out leaves the
// outcome settled and the remainder resumable via RetryCredits.
type SettlementService struct {
	signals   domain.SignalStore
	purchases domain.PurchaseStore
	ledger    domain.SettlementStore
	locks     domain.LockManager
	provider  domain.Provider
	bus       domain.EventBus
	audit     domain.AuditStore
	logger    *slog.Logger

	lockTTL   time.Duration
	analytics *AnalyticsService
}

// NewSettlementService creates a SettlementService with all required
// dependencies.
func NewSettlementService(
	signals domain.SignalStore,
	purchases domain.PurchaseStore,
	ledger domain.SettlementStore,
	locks domain.LockManager,
	provider domain.Provider,
	bus domain.EventBus,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		signals:   signals,
		purchases: purchases,
		ledger:    ledger,
		locks:     locks,
		provider:  provider,
		bus:       bus,
		audit:     audit,
		logger:    logger,
		lockTTL:   lockTTL,
	}
}

// WithAnalytics attaches the analytics service so settlements invalidate the
// creator's cached figures. Without it, stale entries age out via TTL.
func (s *SettlementService) WithAnalytics(a *AnalyticsService) *SettlementService {
	s.analytics = a
	return s
}

// Settle records the final outcome for a pending signal. Only the creator may
// settle, each signal settles exactly once, and a second attempt returns
// ErrAlreadySettled rather than silently overwriting history.
//
// On LOSS, every purchaser receives one credit per purchase. The returned
// result reports how many credits landed; Pending > 0 with a non-nil error
// means the provider failed partway and RetryCredits should be called.
func (s *SettlementService) Settle(ctx context.Context, signalID, callerID string, outcome domain.Outcome) (domain.SettlementResult, error) {
	if !outcome.Settled() {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: %w: %q", domain.ErrInvalidOutcome, outcome)
	}

	unlock, err := s.locks.Acquire(ctx, "settle:"+signalID, s.lockTTL)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: lock signal %s: %w", signalID, err)
	}
	defer unlock()

	sig, err := s.signals.GetByID(ctx, signalID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: get signal: %w", err)
	}
	if callerID != "" && sig.CreatorID != callerID {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: %w: not the creator", domain.ErrUnauthorized)
	}

	settledAt := time.Now().UTC()
	if err := s.signals.Settle(ctx, signalID, outcome, settledAt); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: settle signal: %w", err)
	}

	s.publishEvent(ctx, domain.LedgerEvent{
		Type:      domain.EventSignalSettled,
		SignalID:  signalID,
		UserID:    sig.CreatorID,
		Detail:    map[string]any{"outcome": string(outcome)},
		Timestamp: settledAt,
	})

	if err := s.audit.Log(ctx, "signal_settled", map[string]any{
		"signal_id": signalID,
		"creator":   sig.CreatorID,
		"outcome":   string(outcome),
	}); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("signal_id", signalID),
			slog.String("error", err.Error()),
		)
	}

	if s.analytics != nil {
		s.analytics.InvalidateCreator(ctx, sig.CreatorID)
	}

	result := domain.SettlementResult{SignalID: signalID, Outcome: outcome}

	if outcome == domain.OutcomeWin {
		s.logger.InfoContext(ctx, "settlement_service: settled WIN",
			slog.String("signal_id", signalID),
			slog.String("creator", sig.CreatorID),
		)
		return result, nil
	}

	// LOSS: persist the fan-out set first, then credit purchasers one by
	// one. The purchase list is fixed at settlement time because the signal
	// is no longer purchasable.
	purchases, err := s.purchases.ListBySignal(ctx, signalID)
	if err != nil {
		return result, fmt.Errorf("settlement_service: list purchases: %w", err)
	}

	credits := make([]domain.SettlementCredit, 0, len(purchases))
	for _, p := range purchases {
		credits = append(credits, domain.SettlementCredit{
			SignalID:   signalID,
			PurchaseID: p.ID,
			BuyerID:    p.BuyerID,
		})
	}
	if err := s.ledger.InsertPending(ctx, credits); err != nil {
		return result, fmt.Errorf("settlement_service: record credit ledger: %w", err)
	}

	return s.fanOut(ctx, signalID)
}

// RetryCredits re-drives the credit fan-out for a LOSS-settled signal,
// touching only purchasers whose credit has not landed yet.
func (s *SettlementService) RetryCredits(ctx context.Context, signalID string) (domain.SettlementResult, error) {
	unlock, err := s.locks.Acquire(ctx, "settle:"+signalID, s.lockTTL)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: lock signal %s: %w", signalID, err)
	}
	defer unlock()

	sig, err := s.signals.GetByID(ctx, signalID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: get signal: %w", err)
	}
	if sig.Outcome != domain.OutcomeLoss {
		return domain.SettlementResult{}, fmt.Errorf("settlement_service: %w: retry only applies to LOSS", domain.ErrInvalidOutcome)
	}

	return s.fanOut(ctx, signalID)
}

// fanOut issues a provider credit for every uncredited ledger row, marking
// each row durably as it lands. It stops at the first provider failure so the
// remainder stays retryable.
func (s *SettlementService) fanOut(ctx context.Context, signalID string) (domain.SettlementResult, error) {
	result := domain.SettlementResult{SignalID: signalID, Outcome: domain.OutcomeLoss}

	pending, err := s.ledger.ListUncredited(ctx, signalID)
	if err != nil {
		return result, fmt.Errorf("settlement_service: list uncredited: %w", err)
	}

	var failErr error
	for _, c := range pending {
		if _, err := s.provider.AddCredit(ctx, c.BuyerID); err != nil {
			failErr = fmt.Errorf("settlement_service: credit buyer %s: %w", c.BuyerID, err)
			break
		}
		if err := s.ledger.MarkCredited(ctx, signalID, c.PurchaseID, time.Now().UTC()); err != nil {
			// The provider call landed but the mark did not. Stop here; the
			// row stays uncredited and a retry will re-issue, which the
			// operator resolves from the audit trail.
			failErr = fmt.Errorf("settlement_service: mark credited %s: %w", c.PurchaseID, err)
			break
		}
		result.Credited++

		s.publishEvent(ctx, domain.LedgerEvent{
			Type:      domain.EventCreditIssued,
			SignalID:  signalID,
			UserID:    c.BuyerID,
			Timestamp: time.Now().UTC(),
		})
	}

	credited, stillPending, err := s.ledger.CountBySignal(ctx, signalID)
	if err != nil {
		if failErr != nil {
			return result, failErr
		}
		return result, fmt.Errorf("settlement_service: count credits: %w", err)
	}
	result.TotalCredited = credited
	result.Pending = stillPending

	if failErr != nil {
		s.logger.ErrorContext(ctx, "settlement_service: credit fan-out interrupted",
			slog.String("signal_id", signalID),
			slog.Int("credited", result.Credited),
			slog.Int("pending", result.Pending),
			slog.String("error", failErr.Error()),
		)
		if err := s.audit.Log(ctx, "credit_fanout_interrupted", map[string]any{
			"signal_id": signalID,
			"credited":  result.Credited,
			"pending":   result.Pending,
		}); err != nil {
			s.logger.WarnContext(ctx, "settlement_service: audit log failed",
				slog.String("signal_id", signalID),
				slog.String("error", err.Error()),
			)
		}
		return result, failErr
	}

	s.logger.InfoContext(ctx, "settlement_service: credits fanned out",
		slog.String("signal_id", signalID),
		slog.Int("credited", result.Credited),
		slog.Int("total_credited", result.TotalCredited),
	)
	return result, nil
}

func (s *SettlementService) publishEvent(ctx context.Context, evt domain.LedgerEvent) {
	publishLedgerEvent(ctx, s.bus, s.logger, evt)
}
