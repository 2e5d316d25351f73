package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/signaldesk/internal/domain"
)

func newTestSignalService(signals *fakeSignalStore, purchases *fakePurchaseStore, limiter *fakeLimiter) (*SignalService, *fakeAuditStore, *fakeBus) {
	audit := &fakeAuditStore{}
	bus := &fakeBus{}
	svc := NewSignalService(signals, purchases, limiter, bus, audit, SignalServiceConfig{
		MaxBatchSize:   5,
		PostRateLimit:  10,
		PostRateWindow: time.Minute,
	}, testLogger())
	return svc, audit, bus
}

func TestPostSignal(t *testing.T) {
	signals := newFakeSignalStore()
	svc, audit, bus := newTestSignalService(signals, &fakePurchaseStore{}, &fakeLimiter{allow: true})

	sig, err := svc.PostSignal(context.Background(), "u_creator_1", "Lakers -4.5 vs Celtics", "NBA", "29.99")
	require.NoError(t, err)

	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, "u_creator_1", sig.CreatorID)
	assert.Equal(t, "Lakers -4.5 vs Celtics", sig.Content)
	assert.Equal(t, domain.OutcomePending, sig.Outcome)
	assert.Equal(t, "29.99", sig.Price.String())
	assert.Equal(t, domain.CommitHash(sig.Content, sig.CreatedAt), sig.Hash)
	assert.Nil(t, sig.SettledAt)

	stored, err := signals.GetByID(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, sig.Hash, stored.Hash)

	assert.True(t, audit.has("signal_posted"))
	assert.Contains(t, bus.published, domain.ChannelLedger)
}

func TestPostSignalValidation(t *testing.T) {
	svc, _, _ := newTestSignalService(newFakeSignalStore(), &fakePurchaseStore{}, &fakeLimiter{allow: true})

	tests := []struct {
		name     string
		content  string
		category string
		price    string
		wantErr  error
	}{
		{"empty content", "", "NBA", "10", domain.ErrEmptyContent},
		{"whitespace content", "   ", "NBA", "10", domain.ErrEmptyContent},
		{"empty category", "pick", "", "10", domain.ErrEmptyCategory},
		{"negative price", "pick", "NBA", "-5", domain.ErrNegativePrice},
		{"garbage price", "pick", "NBA", "ten bucks", domain.ErrNegativePrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PostSignal(context.Background(), "u_creator_1", tt.content, tt.category, tt.price)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPostSignalRateLimited(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	signals := newFakeSignalStore()
	svc, _, _ := newTestSignalService(signals, &fakePurchaseStore{}, limiter)

	_, err := svc.PostSignal(context.Background(), "u_creator_1", "pick", "NBA", "10")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	n, _ := signals.Count(context.Background())
	assert.Zero(t, n)
}

func TestPostSignalFreePriceAllowed(t *testing.T) {
	svc, _, _ := newTestSignalService(newFakeSignalStore(), &fakePurchaseStore{}, &fakeLimiter{allow: true})

	sig, err := svc.PostSignal(context.Background(), "u_creator_1", "free pick", "NFL", "0")
	require.NoError(t, err)
	assert.True(t, sig.Price.IsZero())
}

func TestPostBatch(t *testing.T) {
	signals := newFakeSignalStore()
	svc, audit, _ := newTestSignalService(signals, &fakePurchaseStore{}, &fakeLimiter{allow: true})

	out, err := svc.PostBatch(context.Background(), "u_creator_1", []BatchInput{
		{Content: "pick one", Category: "NBA", Price: "10"},
		{Content: "pick two", Category: "NFL", Price: "25.50"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	n, _ := signals.Count(context.Background())
	assert.EqualValues(t, 2, n)
	assert.True(t, audit.has("signal_batch_posted"))
}

func TestPostBatchOneInvalidRejectsAll(t *testing.T) {
	signals := newFakeSignalStore()
	svc, _, _ := newTestSignalService(signals, &fakePurchaseStore{}, &fakeLimiter{allow: true})

	_, err := svc.PostBatch(context.Background(), "u_creator_1", []BatchInput{
		{Content: "pick one", Category: "NBA", Price: "10"},
		{Content: "", Category: "NFL", Price: "25.50"},
	})
	assert.ErrorIs(t, err, domain.ErrEmptyContent)

	n, _ := signals.Count(context.Background())
	assert.Zero(t, n, "an invalid entry must reject the whole batch")
}

func TestPostBatchSizeLimit(t *testing.T) {
	svc, _, _ := newTestSignalService(newFakeSignalStore(), &fakePurchaseStore{}, &fakeLimiter{allow: true})

	inputs := make([]BatchInput, 6)
	for i := range inputs {
		inputs[i] = BatchInput{Content: "pick", Category: "NBA", Price: "10"}
	}
	_, err := svc.PostBatch(context.Background(), "u_creator_1", inputs)
	assert.Error(t, err)

	_, err = svc.PostBatch(context.Background(), "u_creator_1", nil)
	assert.Error(t, err)
}

func TestGetSignalRedaction(t *testing.T) {
	ctx := context.Background()
	signals := newFakeSignalStore()
	purchases := &fakePurchaseStore{}
	svc, _, _ := newTestSignalService(signals, purchases, &fakeLimiter{allow: true})

	sig, err := svc.PostSignal(ctx, "u_creator_1", "the real pick", "NBA", "10")
	require.NoError(t, err)

	t.Run("creator sees content", func(t *testing.T) {
		got, err := svc.GetSignal(ctx, sig.ID, "u_creator_1")
		require.NoError(t, err)
		assert.Equal(t, "the real pick", got.Content)
	})

	t.Run("stranger sees placeholder", func(t *testing.T) {
		got, err := svc.GetSignal(ctx, sig.ID, "u_buyer_1")
		require.NoError(t, err)
		assert.Equal(t, "Signal Locked", got.Content)
	})

	t.Run("purchaser sees content", func(t *testing.T) {
		require.NoError(t, purchases.Create(ctx, domain.Purchase{
			ID: "p1", SignalID: sig.ID, BuyerID: "u_buyer_1", CreatedAt: time.Now(),
		}))
		got, err := svc.GetSignal(ctx, sig.ID, "u_buyer_1")
		require.NoError(t, err)
		assert.Equal(t, "the real pick", got.Content)
	})

	t.Run("settled signal is public", func(t *testing.T) {
		require.NoError(t, signals.Settle(ctx, sig.ID, domain.OutcomeWin, time.Now()))
		got, err := svc.GetSignal(ctx, sig.ID, "u_buyer_2")
		require.NoError(t, err)
		assert.Equal(t, "the real pick", got.Content)
	})
}

func TestGetSignalNotFound(t *testing.T) {
	svc, _, _ := newTestSignalService(newFakeSignalStore(), &fakePurchaseStore{}, &fakeLimiter{allow: true})
	_, err := svc.GetSignal(context.Background(), "missing", "u_buyer_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAvailableAlwaysRedacted(t *testing.T) {
	ctx := context.Background()
	signals := newFakeSignalStore()
	svc, _, _ := newTestSignalService(signals, &fakePurchaseStore{}, &fakeLimiter{allow: true})

	_, err := svc.PostSignal(ctx, "u_creator_1", "hidden pick", "NBA", "10")
	require.NoError(t, err)

	out, err := svc.ListAvailable(ctx, "u_buyer_1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Signal Locked", out[0].Content)
}
