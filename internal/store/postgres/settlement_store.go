package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslab/signaldesk/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given
// connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// InsertPending records the full set of purchasers owed a credit, in one
// transaction, before any provider call is made. ON CONFLICT DO NOTHING makes
// the insert idempotent for retried settlements.
func (s *SettlementStore) InsertPending(ctx context.Context, credits []domain.SettlementCredit) error {
	if len(credits) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin credit insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO settlement_credits (signal_id, purchase_id, buyer_id, credited)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (signal_id, purchase_id) DO NOTHING`

	for _, c := range credits {
		if _, err := tx.Exec(ctx, query, c.SignalID, c.PurchaseID, c.BuyerID); err != nil {
			return fmt.Errorf("postgres: insert pending credit %s/%s: %w", c.SignalID, c.PurchaseID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit credit insert: %w", err)
	}
	return nil
}

// MarkCredited flips one fan-out row to credited.
func (s *SettlementStore) MarkCredited(ctx context.Context, signalID, purchaseID string, at time.Time) error {
	const query = `
		UPDATE settlement_credits SET
			credited    = TRUE,
			credited_at = $3
		WHERE signal_id = $1 AND purchase_id = $2 AND NOT credited`

	tag, err := s.pool.Exec(ctx, query, signalID, purchaseID, at)
	if err != nil {
		return fmt.Errorf("postgres: mark credited %s/%s: %w", signalID, purchaseID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUncredited returns the fan-out rows still awaiting a provider credit,
// in purchase order.
func (s *SettlementStore) ListUncredited(ctx context.Context, signalID string) ([]domain.SettlementCredit, error) {
	const query = `
		SELECT sc.signal_id, sc.purchase_id, sc.buyer_id, sc.credited, sc.credited_at
		FROM settlement_credits sc
		JOIN purchases p ON p.id = sc.purchase_id
		WHERE sc.signal_id = $1 AND NOT sc.credited
		ORDER BY p.created_at ASC`

	rows, err := s.pool.Query(ctx, query, signalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list uncredited %s: %w", signalID, err)
	}
	defer rows.Close()

	var credits []domain.SettlementCredit
	for rows.Next() {
		var c domain.SettlementCredit
		if err := rows.Scan(&c.SignalID, &c.PurchaseID, &c.BuyerID, &c.Credited, &c.CreditedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan uncredited credit: %w", err)
		}
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: uncredited rows: %w", err)
	}
	return credits, nil
}

// CountBySignal reports how many fan-out rows have landed and how many are
// still pending for a signal.
func (s *SettlementStore) CountBySignal(ctx context.Context, signalID string) (credited, pending int, err error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE credited),
			COUNT(*) FILTER (WHERE NOT credited)
		FROM settlement_credits
		WHERE signal_id = $1`

	if err := s.pool.QueryRow(ctx, query, signalID).Scan(&credited, &pending); err != nil {
		return 0, 0, fmt.Errorf("postgres: count credits %s: %w", signalID, err)
	}
	return credited, pending, nil
}
