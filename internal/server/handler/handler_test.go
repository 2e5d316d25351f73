package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/signaldesk/internal/domain"
	"github.com/oddslab/signaldesk/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubIdentity struct {
	user domain.User
	err  error
}

func (s stubIdentity) Current(context.Context) (domain.User, error) { return s.user, s.err }

type stubSignals struct {
	signal  domain.Signal
	signals []domain.Signal
	err     error
}

func (s stubSignals) PostSignal(_ context.Context, creatorID, content, category, price string) (domain.Signal, error) {
	if s.err != nil {
		return domain.Signal{}, s.err
	}
	p, _ := decimal.NewFromString(price)
	return domain.Signal{
		ID:        "sig_new",
		CreatorID: creatorID,
		Content:   content,
		Category:  category,
		Price:     p,
		Hash:      "5c30710b",
		Outcome:   domain.OutcomePending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s stubSignals) PostBatch(_ context.Context, creatorID string, inputs []service.BatchInput) ([]domain.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Signal, 0, len(inputs))
	for i, in := range inputs {
		out = append(out, domain.Signal{
			ID:        "sig_" + string(rune('a'+i)),
			CreatorID: creatorID,
			Content:   in.Content,
			Category:  in.Category,
			Outcome:   domain.OutcomePending,
		})
	}
	return out, nil
}

func (s stubSignals) GetSignal(context.Context, string, string) (domain.Signal, error) {
	return s.signal, s.err
}

func (s stubSignals) ListLedger(context.Context, string, domain.ListOpts) ([]domain.Signal, error) {
	return s.signals, s.err
}

func (s stubSignals) ListAvailable(context.Context, string, domain.ListOpts) ([]domain.Signal, error) {
	return s.signals, s.err
}

func (s stubSignals) ListPending(context.Context, string) ([]domain.Signal, error) {
	return s.signals, s.err
}

type stubSettlements struct {
	result domain.SettlementResult
	err    error
}

func (s stubSettlements) Settle(context.Context, string, string, domain.Outcome) (domain.SettlementResult, error) {
	return s.result, s.err
}

func (s stubSettlements) RetryCredits(context.Context, string) (domain.SettlementResult, error) {
	return s.result, s.err
}

func newSignalMux(signals SignalService, settlements SettlementService, identity IdentityService) *http.ServeMux {
	h := NewSignalHandler(signals, settlements, identity, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ledger", h.ListLedger)
	mux.HandleFunc("GET /api/signals/{id}", h.GetSignal)
	mux.HandleFunc("POST /api/signals", h.PostSignal)
	mux.HandleFunc("POST /api/signals/batch", h.PostBatch)
	mux.HandleFunc("POST /api/signals/{id}/settle", h.Settle)
	mux.HandleFunc("POST /api/signals/{id}/settle/retry", h.RetryCredits)
	return mux
}

func TestPostSignalHandler(t *testing.T) {
	mux := newSignalMux(stubSignals{}, stubSettlements{}, stubIdentity{})

	body := `{"creator_id":"u_creator_1","content":"BTC over 100k","category":"crypto","price":"49.99"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var got signalView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u_creator_1", got.CreatorID)
	assert.Equal(t, "49.99", got.Price)
	assert.Equal(t, "PENDING", got.Outcome)
	assert.NotEmpty(t, got.Hash)
}

func TestPostSignalHandlerIdentityFallback(t *testing.T) {
	mux := newSignalMux(stubSignals{}, stubSettlements{}, stubIdentity{user: domain.User{ID: "u_session"}})

	body := `{"content":"pick","category":"NBA","price":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var got signalView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u_session", got.CreatorID)
}

func TestPostSignalHandlerValidationError(t *testing.T) {
	mux := newSignalMux(stubSignals{err: domain.ErrEmptyContent}, stubSettlements{}, stubIdentity{})

	body := `{"creator_id":"c1","content":"","category":"NBA","price":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostSignalHandlerBadBody(t *testing.T) {
	mux := newSignalMux(stubSignals{}, stubSettlements{}, stubIdentity{})

	req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSignalHandlerNotFound(t *testing.T) {
	mux := newSignalMux(stubSignals{err: domain.ErrNotFound}, stubSettlements{}, stubIdentity{})

	req := httptest.NewRequest(http.MethodGet, "/api/signals/ghost", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLedgerHandler(t *testing.T) {
	sigs := []domain.Signal{
		{ID: "s1", CreatorID: "c1", Content: "Signal Locked", Price: decimal.RequireFromString("10"), Outcome: domain.OutcomePending},
		{ID: "s2", CreatorID: "c1", Content: "settled pick", Price: decimal.RequireFromString("20"), Outcome: domain.OutcomeWin},
	}
	mux := newSignalMux(stubSignals{signals: sigs}, stubSettlements{}, stubIdentity{})

	req := httptest.NewRequest(http.MethodGet, "/api/ledger?limit=10&sort=price_desc", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got listSignalsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Signals, 2)
	assert.Equal(t, "Signal Locked", got.Signals[0].Content)
	assert.Equal(t, 10, got.Limit)
}

func TestSettleHandler(t *testing.T) {
	res := domain.SettlementResult{SignalID: "s1", Outcome: domain.OutcomeLoss, Credited: 2, TotalCredited: 2}
	mux := newSignalMux(stubSignals{}, stubSettlements{result: res}, stubIdentity{})

	body := `{"caller_id":"c1","outcome":"LOSS"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signals/s1/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got settlementView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Credited)
	assert.True(t, got.Complete)
}

func TestSettleHandlerConflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already settled", domain.ErrAlreadySettled, http.StatusConflict},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"not creator", domain.ErrUnauthorized, http.StatusForbidden},
		{"bad outcome", domain.ErrInvalidOutcome, http.StatusBadRequest},
		{"lock held", domain.ErrLockHeld, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newSignalMux(stubSignals{}, stubSettlements{err: tt.err}, stubIdentity{})

			body := `{"caller_id":"c1","outcome":"WIN"}`
			req := httptest.NewRequest(http.MethodPost, "/api/signals/s1/settle", strings.NewReader(body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSettleHandlerPartialCredits(t *testing.T) {
	res := domain.SettlementResult{SignalID: "s1", Outcome: domain.OutcomeLoss, Credited: 1, TotalCredited: 1, Pending: 2}
	mux := newSignalMux(stubSignals{}, stubSettlements{result: res, err: domain.ErrProvider}, stubIdentity{})

	body := `{"caller_id":"c1","outcome":"LOSS"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signals/s1/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, "partial fan-out reports accepted, not failed")

	var got settlementView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Pending)
	assert.False(t, got.Complete)
}

type stubPurchases struct {
	purchase  domain.Purchase
	purchases []domain.Purchase
	err       error
}

func (s stubPurchases) Purchase(context.Context, string, string) (domain.Purchase, error) {
	return s.purchase, s.err
}

func (s stubPurchases) History(context.Context, string, domain.ListOpts) ([]domain.Purchase, error) {
	return s.purchases, s.err
}

func newPurchaseMux(purchases PurchaseService, identity IdentityService) *http.ServeMux {
	h := NewPurchaseHandler(purchases, identity, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/purchases", h.ListPurchases)
	mux.HandleFunc("POST /api/purchases", h.CreatePurchase)
	return mux
}

func TestCreatePurchaseHandler(t *testing.T) {
	p := domain.Purchase{ID: "p1", SignalID: "s1", BuyerID: "b1", PricePaid: decimal.Zero, UsedCredit: true}
	mux := newPurchaseMux(stubPurchases{purchase: p}, stubIdentity{})

	body := `{"signal_id":"s1","buyer_id":"b1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/purchases", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var got purchaseView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.UsedCredit)
	assert.Equal(t, "0.00", got.PricePaid)
}

func TestCreatePurchaseHandlerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"declined", domain.ErrCheckoutDeclined, http.StatusPaymentRequired},
		{"duplicate", domain.ErrAlreadyUnlocked, http.StatusConflict},
		{"own signal", domain.ErrOwnSignal, http.StatusConflict},
		{"settled", domain.ErrNotPending, http.StatusConflict},
		{"not a buyer", domain.ErrNotBuyer, http.StatusForbidden},
		{"provider down", domain.ErrProvider, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newPurchaseMux(stubPurchases{err: tt.err}, stubIdentity{})

			body := `{"signal_id":"s1","buyer_id":"b1"}`
			req := httptest.NewRequest(http.MethodPost, "/api/purchases", strings.NewReader(body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

type stubAnalytics struct {
	analytics domain.CreatorAnalytics
	roster    []domain.CreatorAnalytics
	err       error
}

func (s stubAnalytics) CreatorAnalytics(context.Context, string) (domain.CreatorAnalytics, error) {
	return s.analytics, s.err
}

func (s stubAnalytics) RosterStats(context.Context) ([]domain.CreatorAnalytics, error) {
	return s.roster, s.err
}

func TestGetCreatorAnalyticsHandler(t *testing.T) {
	rate := 0.75
	a := domain.CreatorAnalytics{
		CreatorStats: domain.CreatorStats{
			CreatorID:    "c1",
			TotalRevenue: decimal.RequireFromString("150"),
			Wins:         3,
			Losses:       1,
		},
		WinRate:    &rate,
		Reputation: 56,
		Tier:       domain.TierElite,
	}
	h := NewAnalyticsHandler(stubAnalytics{analytics: a}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/creators/{id}/analytics", h.GetCreatorAnalytics)

	req := httptest.NewRequest(http.MethodGet, "/api/creators/c1/analytics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got analyticsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "150.00", got.TotalRevenue)
	require.NotNil(t, got.WinRate)
	assert.InDelta(t, 0.75, *got.WinRate, 1e-9)
	assert.Equal(t, "Elite", got.Tier)
}

func TestGetCreatorAnalyticsHandlerNullWinRate(t *testing.T) {
	a := domain.CreatorAnalytics{
		CreatorStats: domain.CreatorStats{CreatorID: "c1", TotalRevenue: decimal.Zero},
		Tier:         domain.TierRookie,
	}
	h := NewAnalyticsHandler(stubAnalytics{analytics: a}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/creators/{id}/analytics", h.GetCreatorAnalytics)

	req := httptest.NewRequest(http.MethodGet, "/api/creators/c1/analytics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"win_rate":null`)
}

type stubEngagement struct {
	summaries []service.SegmentSummary
	members   []string
	err       error
	notified  []domain.BuyerSegment
}

func (s *stubEngagement) Segments(context.Context) ([]service.SegmentSummary, error) {
	return s.summaries, s.err
}

func (s *stubEngagement) Members(context.Context, domain.BuyerSegment) ([]string, error) {
	return s.members, s.err
}

func (s *stubEngagement) Notify(_ context.Context, seg domain.BuyerSegment, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.notified = append(s.notified, seg)
	return nil
}

func TestListSegmentsHandler(t *testing.T) {
	stub := &stubEngagement{summaries: []service.SegmentSummary{
		{Segment: domain.SegmentNeverPurchased, Members: 3},
		{Segment: domain.SegmentHighLTV, Members: 1},
	}}
	h := NewEngagementHandler(stub, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/segments", nil)
	rec := httptest.NewRecorder()
	h.ListSegments(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got listSegmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "Never Purchased", got.Segments[0].Segment)
	assert.Equal(t, 3, got.Segments[0].Members)
}

func TestNotifyHandler(t *testing.T) {
	stub := &stubEngagement{}
	h := NewEngagementHandler(stub, testLogger())

	body := `{"segment":"High LTV","message":"VIP picks inside"}`
	req := httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Notify(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stub.notified, 1)
	assert.Equal(t, domain.SegmentHighLTV, stub.notified[0])
}

func TestNotifyHandlerInvalidSegment(t *testing.T) {
	h := NewEngagementHandler(&stubEngagement{err: domain.ErrInvalidSegment}, testLogger())

	body := `{"segment":"Whales","message":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Notify(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
