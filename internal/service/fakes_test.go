package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSignalStore struct {
	mu      sync.Mutex
	signals map[string]domain.Signal
}

func newFakeSignalStore() *fakeSignalStore {
	return &fakeSignalStore{signals: make(map[string]domain.Signal)}
}

func (f *fakeSignalStore) Create(_ context.Context, sig domain.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.signals[sig.ID]; ok {
		return domain.ErrAlreadyExists
	}
	f.signals[sig.ID] = sig
	return nil
}

func (f *fakeSignalStore) CreateBatch(ctx context.Context, sigs []domain.Signal) error {
	for _, sig := range sigs {
		if err := f.Create(ctx, sig); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSignalStore) GetByID(_ context.Context, id string) (domain.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sig, ok := f.signals[id]
	if !ok {
		return domain.Signal{}, domain.ErrNotFound
	}
	return sig, nil
}

func (f *fakeSignalStore) Settle(_ context.Context, id string, outcome domain.Outcome, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sig, ok := f.signals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if sig.Outcome != domain.OutcomePending {
		return domain.ErrAlreadySettled
	}
	sig.Outcome = outcome
	sig.SettledAt = &at
	f.signals[id] = sig
	return nil
}

func (f *fakeSignalStore) all() []domain.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Signal, 0, len(f.signals))
	for _, sig := range f.signals {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeSignalStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Signal, error) {
	return f.all(), nil
}

func (f *fakeSignalStore) ListByCreator(_ context.Context, creatorID string, _ domain.ListOpts) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, sig := range f.all() {
		if sig.CreatorID == creatorID {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (f *fakeSignalStore) ListPendingByCreator(_ context.Context, creatorID string) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, sig := range f.all() {
		if sig.CreatorID == creatorID && sig.Outcome == domain.OutcomePending {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (f *fakeSignalStore) ListAvailable(_ context.Context, buyerID string, _ domain.ListOpts) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, sig := range f.all() {
		if sig.CreatorID != buyerID && sig.Outcome == domain.OutcomePending {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (f *fakeSignalStore) ListSettledBetween(_ context.Context, from, to time.Time) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, sig := range f.all() {
		if sig.SettledAt != nil && !sig.SettledAt.Before(from) && sig.SettledAt.Before(to) {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (f *fakeSignalStore) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.signals)), nil
}

type fakePurchaseStore struct {
	mu        sync.Mutex
	purchases []domain.Purchase
	activity  []domain.BuyerActivity
	createErr error

	// signals, when set, mirrors the conditional insert: Create fails with
	// ErrNotPending once the signal is settled.
	signals *fakeSignalStore
}

func (f *fakePurchaseStore) Create(ctx context.Context, p domain.Purchase) error {
	if f.signals != nil {
		sig, err := f.signals.GetByID(ctx, p.SignalID)
		if err != nil {
			return err
		}
		if sig.Outcome != domain.OutcomePending {
			return domain.ErrNotPending
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.purchases {
		if existing.SignalID == p.SignalID && existing.BuyerID == p.BuyerID {
			return domain.ErrAlreadyUnlocked
		}
	}
	f.purchases = append(f.purchases, p)
	return nil
}

func (f *fakePurchaseStore) GetByID(_ context.Context, id string) (domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.purchases {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Purchase{}, domain.ErrNotFound
}

func (f *fakePurchaseStore) Exists(_ context.Context, signalID, buyerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.purchases {
		if p.SignalID == signalID && p.BuyerID == buyerID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePurchaseStore) ListBySignal(_ context.Context, signalID string) ([]domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Purchase
	for _, p := range f.purchases {
		if p.SignalID == signalID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePurchaseStore) ListByBuyer(_ context.Context, buyerID string, _ domain.ListOpts) ([]domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Purchase
	for _, p := range f.purchases {
		if p.BuyerID == buyerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePurchaseStore) BuyerActivity(_ context.Context, _ time.Duration) ([]domain.BuyerActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activity, nil
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserStore(users ...domain.User) *fakeUserStore {
	f := &fakeUserStore{users: make(map[string]domain.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserStore) Upsert(_ context.Context, u domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserStore) UpsertBatch(ctx context.Context, users []domain.User) error {
	for _, u := range users {
		if err := f.Upsert(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) List(_ context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

type fakeSettlementStore struct {
	mu      sync.Mutex
	credits []domain.SettlementCredit
}

func (f *fakeSettlementStore) InsertPending(_ context.Context, credits []domain.SettlementCredit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range credits {
		dup := false
		for _, existing := range f.credits {
			if existing.SignalID == c.SignalID && existing.PurchaseID == c.PurchaseID {
				dup = true
				break
			}
		}
		if !dup {
			f.credits = append(f.credits, c)
		}
	}
	return nil
}

func (f *fakeSettlementStore) MarkCredited(_ context.Context, signalID, purchaseID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.credits {
		if c.SignalID == signalID && c.PurchaseID == purchaseID && !c.Credited {
			f.credits[i].Credited = true
			f.credits[i].CreditedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeSettlementStore) ListUncredited(_ context.Context, signalID string) ([]domain.SettlementCredit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SettlementCredit
	for _, c := range f.credits {
		if c.SignalID == signalID && !c.Credited {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSettlementStore) CountBySignal(_ context.Context, signalID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var credited, pending int
	for _, c := range f.credits {
		if c.SignalID != signalID {
			continue
		}
		if c.Credited {
			credited++
		} else {
			pending++
		}
	}
	return credited, pending, nil
}

type fakeStatsStore struct {
	stats map[string]domain.CreatorStats
	calls int
}

func (f *fakeStatsStore) CreatorStats(_ context.Context, creatorID string) (domain.CreatorStats, error) {
	f.calls++
	if st, ok := f.stats[creatorID]; ok {
		return st, nil
	}
	return domain.CreatorStats{CreatorID: creatorID, TotalRevenue: decimal.Zero}, nil
}

func (f *fakeStatsStore) AllCreatorStats(_ context.Context) ([]domain.CreatorStats, error) {
	out := make([]domain.CreatorStats, 0, len(f.stats))
	for _, st := range f.stats {
		out = append(out, st)
	}
	return out, nil
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditStore) ListBetween(_ context.Context, _, _ time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditStore) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeStatsCache struct {
	mu      sync.Mutex
	entries map[string]domain.CreatorAnalytics
}

func newFakeStatsCache() *fakeStatsCache {
	return &fakeStatsCache{entries: make(map[string]domain.CreatorAnalytics)}
}

func (f *fakeStatsCache) Set(_ context.Context, a domain.CreatorAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[a.CreatorID] = a
	return nil
}

func (f *fakeStatsCache) Get(_ context.Context, creatorID string) (domain.CreatorAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.entries[creatorID]
	if !ok {
		return domain.CreatorAnalytics{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeStatsCache) Invalidate(_ context.Context, creatorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, creatorID)
	return nil
}

type fakeLimiter struct {
	allow bool
	calls int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	f.calls++
	return f.allow, nil
}

type fakeLockManager struct {
	err   error
	held  []string
	freed int
}

func (f *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.held = append(f.held, key)
	return func() { f.freed++ }, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
	streamed  []string
}

func (f *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channel)
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed = append(f.streamed, stream)
	return nil
}

func (f *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeProvider is a scriptable provider double. Credit mutations run against
// the users map; checkout outcomes and per-call failures are configurable.
type fakeProvider struct {
	mu sync.Mutex

	current       domain.User
	users         map[string]domain.User
	checkout      domain.CheckoutResult
	checkoutErr   error
	checkoutCalls int
	checkoutHook  func() // runs inside CreateCheckout, for interleaving tests

	addCreditCalls   int
	addCreditFailAt  int // fail the Nth AddCredit call (1-based); 0 disables
	useCreditCalls   int
	notified         []domain.BuyerSegment
	notificationBody string
}

func newFakeProvider(current domain.User, others ...domain.User) *fakeProvider {
	f := &fakeProvider{
		current:  current,
		users:    map[string]domain.User{current.ID: current},
		checkout: domain.CheckoutResult{Success: true, SessionID: "sess_1"},
	}
	for _, u := range others {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeProvider) Initialize(_ context.Context) error { return nil }

func (f *fakeProvider) GetCurrentUser(_ context.Context) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[f.current.ID], nil
}

func (f *fakeProvider) GetAllUsers(_ context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeProvider) CreateCheckout(_ context.Context, _ decimal.Decimal) (domain.CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutCalls++
	if f.checkoutHook != nil {
		f.checkoutHook()
	}
	if f.checkoutErr != nil {
		return domain.CheckoutResult{}, f.checkoutErr
	}
	return f.checkout, nil
}

func (f *fakeProvider) SendNotification(_ context.Context, segment domain.BuyerSegment, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, segment)
	f.notificationBody = message
	return nil
}

func (f *fakeProvider) AddCredit(_ context.Context, userID string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCreditCalls++
	if f.addCreditFailAt > 0 && f.addCreditCalls == f.addCreditFailAt {
		return domain.User{}, domain.ErrProvider
	}
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	u.Credits++
	f.users[userID] = u
	return u, nil
}

func (f *fakeProvider) UseCredit(_ context.Context, userID string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.useCreditCalls++
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if u.Credits <= 0 {
		return domain.User{}, domain.ErrProvider
	}
	u.Credits--
	f.users[userID] = u
	return u, nil
}
