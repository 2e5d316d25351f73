package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oddslab/signaldesk/internal/domain"
)

// PurchaseStore implements domain.PurchaseStore using PostgreSQL.
type PurchaseStore struct {
	pool *pgxpool.Pool
}

// NewPurchaseStore creates a new PurchaseStore backed by the given connection pool.
func NewPurchaseStore(pool *pgxpool.Pool) *PurchaseStore {
	return &PurchaseStore{pool: pool}
}

const purchaseSelectCols = `id, signal_id, buyer_id, price_paid::text, used_credit, created_at`

func scanPurchaseRow(row pgx.Row) (domain.Purchase, error) {
	var p domain.Purchase
	var paid string

	err := row.Scan(&p.ID, &p.SignalID, &p.BuyerID, &paid, &p.UsedCredit, &p.CreatedAt)
	if err != nil {
		return domain.Purchase{}, err
	}
	p.PricePaid, err = decimal.NewFromString(paid)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("parse price_paid %q: %w", paid, err)
	}
	return p, nil
}

func scanPurchaseRows(rows pgx.Rows) ([]domain.Purchase, error) {
	var purchases []domain.Purchase
	for rows.Next() {
		p, err := scanPurchaseRow(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// Create inserts a new purchase. The (signal_id, buyer_id) unique constraint
// turns a duplicate unlock into ErrAlreadyUnlocked. The insert is conditional
// on the signal still being PENDING, so a purchase racing a settlement cannot
// land after the outcome is fixed; that case returns ErrNotPending.
func (s *PurchaseStore) Create(ctx context.Context, p domain.Purchase) error {
	const query = `
		INSERT INTO purchases (id, signal_id, buyer_id, price_paid, used_credit, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM signals WHERE id = $2 AND outcome = 'PENDING')`

	ct, err := s.pool.Exec(ctx, query,
		p.ID, p.SignalID, p.BuyerID, p.PricePaid.String(), p.UsedCredit, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "purchases_signal_buyer_key") {
			return domain.ErrAlreadyUnlocked
		}
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create purchase %s: %w", p.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create purchase %s: %w", p.ID, domain.ErrNotPending)
	}
	return nil
}

// GetByID retrieves a single purchase by its ID.
func (s *PurchaseStore) GetByID(ctx context.Context, id string) (domain.Purchase, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+purchaseSelectCols+` FROM purchases WHERE id = $1`, id)

	p, err := scanPurchaseRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Purchase{}, domain.ErrNotFound
		}
		return domain.Purchase{}, fmt.Errorf("postgres: get purchase %s: %w", id, err)
	}
	return p, nil
}

// Exists reports whether the buyer has already unlocked the signal.
func (s *PurchaseStore) Exists(ctx context.Context, signalID, buyerID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM purchases WHERE signal_id = $1 AND buyer_id = $2)",
		signalID, buyerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: purchase exists: %w", err)
	}
	return exists, nil
}

// ListBySignal returns every purchase of a signal, oldest first. Settlement
// fans credits out in this order.
func (s *PurchaseStore) ListBySignal(ctx context.Context, signalID string) ([]domain.Purchase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+purchaseSelectCols+` FROM purchases
		 WHERE signal_id = $1 ORDER BY created_at ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list purchases by signal: %w", err)
	}
	defer rows.Close()

	purchases, err := scanPurchaseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan purchases by signal: %w", err)
	}
	return purchases, nil
}

// ListByBuyer returns the buyer's purchase history, newest first.
func (s *PurchaseStore) ListByBuyer(ctx context.Context, buyerID string, opts domain.ListOpts) ([]domain.Purchase, error) {
	query := `SELECT ` + purchaseSelectCols + ` FROM purchases WHERE buyer_id = $1`
	args := []any{buyerID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list purchases by buyer: %w", err)
	}
	defer rows.Close()

	purchases, err := scanPurchaseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan purchases by buyer: %w", err)
	}
	return purchases, nil
}

// BuyerActivity aggregates per-buyer purchase behavior for segment
// evaluation. Buyers with zero purchases are included via the users table.
func (s *PurchaseStore) BuyerActivity(ctx context.Context, winWindow time.Duration) ([]domain.BuyerActivity, error) {
	const query = `
		SELECT
			u.id,
			COUNT(p.id),
			COUNT(p.id) FILTER (WHERE sg.outcome = 'LOSS'),
			MAX(sg.settled_at) FILTER (WHERE sg.outcome = 'WIN'),
			COALESCE(SUM(p.price_paid), 0)::text
		FROM users u
		LEFT JOIN purchases p ON p.buyer_id = u.id
		LEFT JOIN signals sg ON sg.id = p.signal_id
		WHERE u.role = 'buyer'
		GROUP BY u.id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: buyer activity: %w", err)
	}
	defer rows.Close()

	cutoff := time.Now().Add(-winWindow)

	var out []domain.BuyerActivity
	for rows.Next() {
		var a domain.BuyerActivity
		var spend string
		var lastWin *time.Time

		if err := rows.Scan(&a.BuyerID, &a.Purchases, &a.CreditedLosses, &lastWin, &spend); err != nil {
			return nil, fmt.Errorf("postgres: scan buyer activity: %w", err)
		}
		// Only surface wins inside the lookback window; older wins do not
		// qualify a buyer for the recent-wins segment.
		if lastWin != nil && lastWin.After(cutoff) {
			a.LastWinAt = lastWin
		}
		a.LifetimeSpend, err = decimal.NewFromString(spend)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse lifetime spend %q: %w", spend, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: buyer activity rows: %w", err)
	}
	return out, nil
}
