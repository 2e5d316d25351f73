package domain

import (
	"context"
	"time"
)

// SignalSort selects the ordering for signal list queries.
type SignalSort string

const (
	SortNewest    SignalSort = "newest"
	SortOldest    SignalSort = "oldest"
	SortPriceAsc  SignalSort = "price_asc"
	SortPriceDesc SignalSort = "price_desc"
	SortOutcome   SignalSort = "outcome"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit    int
	Offset   int
	Search   string // matches content, category, and creator username
	Category string
	Sort     SignalSort
	Since    *time.Time
	Until    *time.Time
}

// SignalStore persists signals. Outcome is the only mutable column and may
// transition exactly once, from PENDING to a terminal value.
type SignalStore interface {
	Create(ctx context.Context, sig Signal) error
	CreateBatch(ctx context.Context, sigs []Signal) error
	GetByID(ctx context.Context, id string) (Signal, error)
	// Settle performs the conditional PENDING -> outcome transition. It
	// returns ErrAlreadySettled when the signal exists but is no longer
	// pending, and ErrNotFound when it does not exist.
	Settle(ctx context.Context, id string, outcome Outcome, at time.Time) error
	List(ctx context.Context, opts ListOpts) ([]Signal, error)
	ListByCreator(ctx context.Context, creatorID string, opts ListOpts) ([]Signal, error)
	ListPendingByCreator(ctx context.Context, creatorID string) ([]Signal, error)
	ListAvailable(ctx context.Context, buyerID string, opts ListOpts) ([]Signal, error)
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]Signal, error)
	Count(ctx context.Context) (int64, error)
}

// PurchaseStore persists unlock records. A (signal, buyer) pair is unique;
// Create returns ErrAlreadyUnlocked on a duplicate.
type PurchaseStore interface {
	Create(ctx context.Context, p Purchase) error
	GetByID(ctx context.Context, id string) (Purchase, error)
	Exists(ctx context.Context, signalID, buyerID string) (bool, error)
	ListBySignal(ctx context.Context, signalID string) ([]Purchase, error)
	ListByBuyer(ctx context.Context, buyerID string, opts ListOpts) ([]Purchase, error)
	BuyerActivity(ctx context.Context, winWindow time.Duration) ([]BuyerActivity, error)
}

// UserStore mirrors provider accounts for read-side joins.
type UserStore interface {
	Upsert(ctx context.Context, u User) error
	UpsertBatch(ctx context.Context, users []User) error
	GetByID(ctx context.Context, id string) (User, error)
	List(ctx context.Context) ([]User, error)
}

// SettlementStore persists the credit fan-out ledger for LOSS settlements.
// Rows are inserted when the settlement begins and flipped to credited one by
// one, so a partial provider failure can be resumed without double-crediting.
type SettlementStore interface {
	InsertPending(ctx context.Context, credits []SettlementCredit) error
	MarkCredited(ctx context.Context, signalID, purchaseID string, at time.Time) error
	ListUncredited(ctx context.Context, signalID string) ([]SettlementCredit, error)
	CountBySignal(ctx context.Context, signalID string) (credited, pending int, err error)
}

// StatsStore computes analytics aggregates in the database.
type StatsStore interface {
	CreatorStats(ctx context.Context, creatorID string) (CreatorStats, error)
	AllCreatorStats(ctx context.Context) ([]CreatorStats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]AuditEntry, error)
}
