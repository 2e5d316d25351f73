package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// PurchaseService handles the unlock flow. Credits strictly precede payment:
// a buyer holding at least one loss-protection credit can never reach
// checkout.
type PurchaseService struct {
	signals   domain.SignalStore
	purchases domain.PurchaseStore
	users     domain.UserStore
	locks     domain.LockManager
	provider  domain.Provider
	bus       domain.EventBus
	audit     domain.AuditStore
	logger    *slog.Logger

	lockTTL time.Duration
}

// NewPurchaseService creates a PurchaseService with all required dependencies.
func NewPurchaseService(
	signals domain.SignalStore,
	purchases domain.PurchaseStore,
	users domain.UserStore,
	locks domain.LockManager,
	provider domain.Provider,
	bus domain.EventBus,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *PurchaseService {
	return &PurchaseService{
		signals:   signals,
		purchases: purchases,
		users:     users,
		locks:     locks,
		provider:  provider,
		bus:       bus,
		audit:     audit,
		logger:    logger,
		lockTTL:   lockTTL,
	}
}

// Purchase unlocks a signal for the buyer. Only buyer-role accounts may
// unlock. The per-buyer lock serializes the credit check and spend, so two
// concurrent purchases cannot both consume the same credit.
//
// A failed or declined checkout records nothing; the buyer can simply retry.
func (s *PurchaseService) Purchase(ctx context.Context, signalID, buyerID string) (domain.Purchase, error) {
	unlock, err := s.locks.Acquire(ctx, "buyer:"+buyerID, s.lockTTL)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase_service: lock buyer %s: %w", buyerID, err)
	}
	defer unlock()

	sig, err := s.signals.GetByID(ctx, signalID)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase_service: get signal: %w", err)
	}
	if sig.CreatorID == buyerID {
		return domain.Purchase{}, domain.ErrOwnSignal
	}
	if sig.Outcome != domain.OutcomePending {
		return domain.Purchase{}, fmt.Errorf("purchase_service: %w: outcome %s", domain.ErrNotPending, sig.Outcome)
	}

	exists, err := s.purchases.Exists(ctx, signalID, buyerID)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase_service: check duplicate: %w", err)
	}
	if exists {
		return domain.Purchase{}, domain.ErrAlreadyUnlocked
	}

	buyer, err := s.provider.GetCurrentUser(ctx)
	if err != nil || buyer.ID != buyerID {
		// The caller may act on behalf of a user the provider session does
		// not match (e.g. server-side jobs).
		buyer, err = s.lookupBuyer(ctx, buyerID)
		if err != nil {
			return domain.Purchase{}, fmt.Errorf("purchase_service: get buyer: %w", err)
		}
	}
	if buyer.Role != domain.RoleBuyer {
		return domain.Purchase{}, fmt.Errorf("purchase_service: %w: role %s", domain.ErrNotBuyer, buyer.Role)
	}

	pricePaid := sig.Price
	usedCredit := false

	if buyer.Credits > 0 {
		// Credit path: consume exactly one credit, pay nothing.
		refreshed, err := s.provider.UseCredit(ctx, buyerID)
		if err != nil {
			return domain.Purchase{}, fmt.Errorf("purchase_service: use credit: %w", err)
		}
		pricePaid = decimal.Zero
		usedCredit = true
		buyer = refreshed
	} else {
		// Payment path. A decline is a normal outcome and leaves no trace.
		res, err := s.provider.CreateCheckout(ctx, sig.Price)
		if err != nil {
			return domain.Purchase{}, fmt.Errorf("purchase_service: checkout: %w", err)
		}
		if !res.Success {
			s.logger.InfoContext(ctx, "purchase_service: checkout declined",
				slog.String("signal_id", signalID),
				slog.String("buyer", buyerID),
			)
			return domain.Purchase{}, domain.ErrCheckoutDeclined
		}
	}

	p := domain.Purchase{
		ID:         uuid.New().String(),
		SignalID:   signalID,
		BuyerID:    buyerID,
		PricePaid:  pricePaid,
		UsedCredit: usedCredit,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.purchases.Create(ctx, p); err != nil {
		// The credit is already spent if we took the credit path; surface
		// that loudly for the operator.
		if usedCredit {
			s.logger.ErrorContext(ctx, "purchase_service: record failed after credit spend",
				slog.String("signal_id", signalID),
				slog.String("buyer", buyerID),
				slog.String("error", err.Error()),
			)
		}
		return domain.Purchase{}, fmt.Errorf("purchase_service: create purchase: %w", err)
	}

	// Keep the mirror fresh for segment queries.
	if err := s.users.Upsert(ctx, buyer); err != nil {
		s.logger.WarnContext(ctx, "purchase_service: mirror refresh failed",
			slog.String("buyer", buyerID),
			slog.String("error", err.Error()),
		)
	}

	s.publishEvent(ctx, domain.LedgerEvent{
		Type:     domain.EventSignalPurchased,
		SignalID: signalID,
		UserID:   buyerID,
		Detail: map[string]any{
			"price_paid":  p.PricePaid.String(),
			"used_credit": usedCredit,
		},
		Timestamp: p.CreatedAt,
	})

	if err := s.audit.Log(ctx, "signal_purchased", map[string]any{
		"signal_id":   signalID,
		"purchase_id": p.ID,
		"buyer":       buyerID,
		"price_paid":  p.PricePaid.String(),
		"used_credit": usedCredit,
	}); err != nil {
		s.logger.WarnContext(ctx, "purchase_service: audit log failed",
			slog.String("purchase_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "purchase_service: signal unlocked",
		slog.String("signal_id", signalID),
		slog.String("buyer", buyerID),
		slog.Bool("used_credit", usedCredit),
		slog.String("price_paid", p.PricePaid.String()),
	)

	return p, nil
}

// lookupBuyer resolves a buyer the provider session does not cover. The
// roster is authoritative for the credit balance; the Postgres mirror only
// backstops a provider outage and may lag it by one sync.
func (s *PurchaseService) lookupBuyer(ctx context.Context, buyerID string) (domain.User, error) {
	roster, err := s.provider.GetAllUsers(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "purchase_service: roster fetch failed, using mirror",
			slog.String("buyer", buyerID),
			slog.String("error", err.Error()),
		)
		return s.users.GetByID(ctx, buyerID)
	}
	for _, u := range roster {
		if u.ID == buyerID {
			return u, nil
		}
	}
	return s.users.GetByID(ctx, buyerID)
}

// History returns the buyer's purchases, newest first.
func (s *PurchaseService) History(ctx context.Context, buyerID string, opts domain.ListOpts) ([]domain.Purchase, error) {
	purchases, err := s.purchases.ListByBuyer(ctx, buyerID, opts)
	if err != nil {
		return nil, fmt.Errorf("purchase_service: history: %w", err)
	}
	return purchases, nil
}

func (s *PurchaseService) publishEvent(ctx context.Context, evt domain.LedgerEvent) {
	publishLedgerEvent(ctx, s.bus, s.logger, evt)
}
