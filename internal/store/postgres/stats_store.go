package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL aggregate queries.
type StatsStore struct {
	pool *pgxpool.Pool
}

// NewStatsStore creates a new StatsStore backed by the given connection pool.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// statsSelect aggregates revenue and settlement counts per creator. Revenue
// sums what buyers actually paid, so credit-funded unlocks contribute zero.
const statsSelect = `
	SELECT
		s.creator_id,
		COALESCE(SUM(p.price_paid), 0)::text,
		COUNT(DISTINCT s.id),
		COUNT(p.id),
		COUNT(DISTINCT s.id) FILTER (WHERE s.outcome = 'WIN'),
		COUNT(DISTINCT s.id) FILTER (WHERE s.outcome = 'LOSS')
	FROM signals s
	LEFT JOIN purchases p ON p.signal_id = s.id`

// CreatorStats returns aggregates for one creator. A creator with no signals
// gets zero-valued stats rather than ErrNotFound.
func (s *StatsStore) CreatorStats(ctx context.Context, creatorID string) (domain.CreatorStats, error) {
	query := statsSelect + " WHERE s.creator_id = $1 GROUP BY s.creator_id"

	rows, err := s.pool.Query(ctx, query, creatorID)
	if err != nil {
		return domain.CreatorStats{}, fmt.Errorf("postgres: creator stats %s: %w", creatorID, err)
	}
	defer rows.Close()

	stats, err := scanStatsRows(rows)
	if err != nil {
		return domain.CreatorStats{}, fmt.Errorf("postgres: scan creator stats %s: %w", creatorID, err)
	}
	if len(stats) == 0 {
		return domain.CreatorStats{CreatorID: creatorID, TotalRevenue: decimal.Zero}, nil
	}
	return stats[0], nil
}

// AllCreatorStats returns aggregates for every creator with at least one
// signal.
func (s *StatsStore) AllCreatorStats(ctx context.Context) ([]domain.CreatorStats, error) {
	query := statsSelect + " GROUP BY s.creator_id"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: all creator stats: %w", err)
	}
	defer rows.Close()

	stats, err := scanStatsRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan all creator stats: %w", err)
	}
	return stats, nil
}

func scanStatsRows(rows pgx.Rows) ([]domain.CreatorStats, error) {
	var out []domain.CreatorStats
	for rows.Next() {
		var st domain.CreatorStats
		var revenue string

		if err := rows.Scan(
			&st.CreatorID, &revenue,
			&st.SignalsPosted, &st.SignalsSold,
			&st.Wins, &st.Losses,
		); err != nil {
			return nil, err
		}

		var err error
		st.TotalRevenue, err = decimal.NewFromString(revenue)
		if err != nil {
			return nil, fmt.Errorf("parse revenue %q: %w", revenue, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
