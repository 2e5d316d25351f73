package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/signaldesk/internal/domain"
)

type settlementFixture struct {
	svc       *SettlementService
	signals   *fakeSignalStore
	purchases *fakePurchaseStore
	ledger    *fakeSettlementStore
	provider  *fakeProvider
	audit     *fakeAuditStore
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()

	signals := newFakeSignalStore()
	purchases := &fakePurchaseStore{}
	ledger := &fakeSettlementStore{}
	provider := newFakeProvider(
		domain.User{ID: "u_creator_1", Role: domain.RoleCreator},
		domain.User{ID: "u_buyer_1", Role: domain.RoleBuyer},
		domain.User{ID: "u_buyer_2", Role: domain.RoleBuyer},
		domain.User{ID: "u_buyer_3", Role: domain.RoleBuyer},
	)
	audit := &fakeAuditStore{}

	svc := NewSettlementService(signals, purchases, ledger, &fakeLockManager{}, provider, &fakeBus{}, audit, 10*time.Second, testLogger())
	return &settlementFixture{svc: svc, signals: signals, purchases: purchases, ledger: ledger, provider: provider, audit: audit}
}

func (fx *settlementFixture) seedSignal(t *testing.T, id string, buyers ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.signals.Create(ctx, pendingSignal(id, "u_creator_1", "25")))
	for i, buyer := range buyers {
		require.NoError(t, fx.purchases.Create(ctx, domain.Purchase{
			ID:        id + "-p" + string(rune('1'+i)),
			SignalID:  id,
			BuyerID:   buyer,
			PricePaid: decimal.RequireFromString("25"),
			CreatedAt: time.Now().UTC(),
		}))
	}
}

func TestSettleWin(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1", "u_buyer_1", "u_buyer_2")

	res, err := fx.svc.Settle(context.Background(), "sig1", "u_creator_1", domain.OutcomeWin)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeWin, res.Outcome)
	assert.Zero(t, res.Credited, "WIN pays nobody")
	assert.Zero(t, fx.provider.addCreditCalls)
	assert.True(t, fx.audit.has("signal_settled"))

	sig, err := fx.signals.GetByID(context.Background(), "sig1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWin, sig.Outcome)
	assert.NotNil(t, sig.SettledAt)
}

func TestSettleLossCreditsEveryPurchaser(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1", "u_buyer_1", "u_buyer_2", "u_buyer_3")

	res, err := fx.svc.Settle(context.Background(), "sig1", "u_creator_1", domain.OutcomeLoss)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Credited)
	assert.Equal(t, 3, res.TotalCredited)
	assert.Zero(t, res.Pending)
	assert.True(t, res.Complete())
	assert.Equal(t, 3, fx.provider.addCreditCalls)

	for _, buyer := range []string{"u_buyer_1", "u_buyer_2", "u_buyer_3"} {
		u, err := fx.provider.AddCredit(context.Background(), buyer)
		require.NoError(t, err)
		assert.Equal(t, 2, u.Credits, "one credit from settlement, one from this probe")
	}
}

func TestSettleLossNoPurchasers(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1")

	res, err := fx.svc.Settle(context.Background(), "sig1", "u_creator_1", domain.OutcomeLoss)
	require.NoError(t, err)
	assert.Zero(t, res.Credited)
	assert.True(t, res.Complete())
}

func TestSettleTwiceFails(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1", "u_buyer_1")

	_, err := fx.svc.Settle(context.Background(), "sig1", "u_creator_1", domain.OutcomeWin)
	require.NoError(t, err)

	_, err = fx.svc.Settle(context.Background(), "sig1", "u_creator_1", domain.OutcomeLoss)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	sig, _ := fx.signals.GetByID(context.Background(), "sig1")
	assert.Equal(t, domain.OutcomeWin, sig.Outcome, "the recorded outcome must not change")
}

func TestSettleOnlyCreator(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1")

	_, err := fx.svc.Settle(context.Background(), "sig1", "u_buyer_1", domain.OutcomeWin)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	sig, _ := fx.signals.GetByID(context.Background(), "sig1")
	assert.Equal(t, domain.OutcomePending, sig.Outcome)
}

func TestSettleInvalidOutcome(t *testing.T) {
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1")

	for _, outcome := range []domain.Outcome{domain.OutcomePending, "PUSH", ""} {
		_, err := fx.svc.Settle(context.Background(), "sig1", "u_creator_1", outcome)
		assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	}
}

func TestSettleMissingSignal(t *testing.T) {
	fx := newSettlementFixture(t)
	_, err := fx.svc.Settle(context.Background(), "missing", "u_creator_1", domain.OutcomeWin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettleLossPartialFailureAndRetry(t *testing.T) {
	ctx := context.Background()
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1", "u_buyer_1", "u_buyer_2", "u_buyer_3")

	// Second AddCredit call fails: one buyer credited, two left pending.
	fx.provider.addCreditFailAt = 2

	res, err := fx.svc.Settle(ctx, "sig1", "u_creator_1", domain.OutcomeLoss)
	require.Error(t, err)

	assert.Equal(t, 1, res.Credited)
	assert.Equal(t, 1, res.TotalCredited)
	assert.Equal(t, 2, res.Pending)
	assert.False(t, res.Complete())
	assert.True(t, fx.audit.has("credit_fanout_interrupted"))

	// The outcome itself is settled; only credits remain outstanding.
	sig, _ := fx.signals.GetByID(ctx, "sig1")
	assert.Equal(t, domain.OutcomeLoss, sig.Outcome)

	// Retry drives the remaining two credits and touches nobody twice.
	fx.provider.addCreditFailAt = 0
	callsBefore := fx.provider.addCreditCalls

	res, err = fx.svc.RetryCredits(ctx, "sig1")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Credited)
	assert.Equal(t, 3, res.TotalCredited)
	assert.Zero(t, res.Pending)
	assert.True(t, res.Complete())
	assert.Equal(t, callsBefore+2, fx.provider.addCreditCalls, "already-credited buyers are skipped")
}

func TestRetryCreditsRequiresLoss(t *testing.T) {
	ctx := context.Background()
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1", "u_buyer_1")
	fx.seedSignal(t, "sig2", "u_buyer_1")

	_, err := fx.svc.RetryCredits(ctx, "sig1")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome, "pending signals have no credits to retry")

	_, err = fx.svc.Settle(ctx, "sig2", "u_creator_1", domain.OutcomeWin)
	require.NoError(t, err)
	_, err = fx.svc.RetryCredits(ctx, "sig2")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestRetryCreditsIdempotentWhenComplete(t *testing.T) {
	ctx := context.Background()
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1", "u_buyer_1")

	_, err := fx.svc.Settle(ctx, "sig1", "u_creator_1", domain.OutcomeLoss)
	require.NoError(t, err)
	callsBefore := fx.provider.addCreditCalls

	res, err := fx.svc.RetryCredits(ctx, "sig1")
	require.NoError(t, err)
	assert.Zero(t, res.Credited)
	assert.Equal(t, 1, res.TotalCredited)
	assert.Equal(t, callsBefore, fx.provider.addCreditCalls, "a complete fan-out must not re-credit")
}

func TestSettleInvalidatesAnalyticsCache(t *testing.T) {
	ctx := context.Background()
	fx := newSettlementFixture(t)
	fx.seedSignal(t, "sig1")

	cache := newFakeStatsCache()
	require.NoError(t, cache.Set(ctx, domain.CreatorAnalytics{CreatorStats: domain.CreatorStats{CreatorID: "u_creator_1"}}))
	fx.svc.WithAnalytics(NewAnalyticsService(&fakeStatsStore{}, cache, testLogger()))

	_, err := fx.svc.Settle(ctx, "sig1", "u_creator_1", domain.OutcomeWin)
	require.NoError(t, err)

	_, err = cache.Get(ctx, "u_creator_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
