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

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Price columns are scanned as text and parsed with shopspring/decimal so no
// float conversion ever touches a money amount.
const signalSelectCols = `id, creator_id, content, category, price::text,
	commit_hash, outcome, settled_at, created_at`

func scanSignalRow(row pgx.Row) (domain.Signal, error) {
	var sig domain.Signal
	var price, outcome string

	err := row.Scan(
		&sig.ID, &sig.CreatorID, &sig.Content, &sig.Category, &price,
		&sig.Hash, &outcome, &sig.SettledAt, &sig.CreatedAt,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Outcome = domain.Outcome(outcome)
	sig.Price, err = decimal.NewFromString(price)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	return sig, nil
}

func scanSignalRows(rows pgx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal
	for rows.Next() {
		sig, err := scanSignalRow(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// Create inserts a new signal.
func (s *SignalStore) Create(ctx context.Context, sig domain.Signal) error {
	const query = `
		INSERT INTO signals (
			id, creator_id, content, category, price,
			commit_hash, outcome, settled_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.CreatorID, sig.Content, sig.Category, sig.Price.String(),
		sig.Hash, string(sig.Outcome), sig.SettledAt, sig.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create signal %s: %w", sig.ID, err)
	}
	return nil
}

// CreateBatch inserts several signals in one transaction. Either every signal
// lands or none do.
func (s *SignalStore) CreateBatch(ctx context.Context, sigs []domain.Signal) error {
	if len(sigs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin batch insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO signals (
			id, creator_id, content, category, price,
			commit_hash, outcome, settled_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, sig := range sigs {
		if _, err := tx.Exec(ctx, query,
			sig.ID, sig.CreatorID, sig.Content, sig.Category, sig.Price.String(),
			sig.Hash, string(sig.Outcome), sig.SettledAt, sig.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: batch insert signal %s: %w", sig.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch insert: %w", err)
	}
	return nil
}

// GetByID retrieves a single signal by its ID.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+signalSelectCols+` FROM signals WHERE id = $1`, id)

	sig, err := scanSignalRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

// Settle flips a pending signal to its terminal outcome. The WHERE clause
// guards the one-shot transition: a second settlement attempt matches zero
// rows and is reported as ErrAlreadySettled.
func (s *SignalStore) Settle(ctx context.Context, id string, outcome domain.Outcome, at time.Time) error {
	const query = `
		UPDATE signals SET
			outcome    = $2,
			settled_at = $3
		WHERE id = $1 AND outcome = 'PENDING'`

	tag, err := s.pool.Exec(ctx, query, id, string(outcome), at)
	if err != nil {
		return fmt.Errorf("postgres: settle signal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing signal from one already settled.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM signals WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: settle signal %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadySettled
	}
	return nil
}

// sortClause maps a SignalSort onto an ORDER BY expression. Unknown values
// fall back to newest-first.
func sortClause(sort domain.SignalSort) string {
	switch sort {
	case domain.SortOldest:
		return "created_at ASC"
	case domain.SortPriceAsc:
		return "price ASC, created_at DESC"
	case domain.SortPriceDesc:
		return "price DESC, created_at DESC"
	case domain.SortOutcome:
		return "outcome ASC, created_at DESC"
	default:
		return "created_at DESC"
	}
}

// List returns signals for the public ledger. Search matches content,
// category, outcome, and the creator's username.
func (s *SignalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	query := `SELECT ` + prefixCols("s", signalSelectCols) + `
		FROM signals s
		JOIN users u ON u.id = s.creator_id
		WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Search != "" {
		query += fmt.Sprintf(` AND (s.content ILIKE $%d OR s.category ILIKE $%d
			OR s.outcome ILIKE $%d OR u.username ILIKE $%d)`, argIdx, argIdx, argIdx, argIdx)
		args = append(args, "%"+opts.Search+"%")
		argIdx++
	}
	if opts.Category != "" {
		query += fmt.Sprintf(" AND s.category = $%d", argIdx)
		args = append(args, opts.Category)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND s.created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND s.created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + prefixOrder("s", sortClause(opts.Sort))

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
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals: %w", err)
	}
	return signals, nil
}

// ListByCreator returns a creator's signals, newest first unless opts says
// otherwise.
func (s *SignalStore) ListByCreator(ctx context.Context, creatorID string, opts domain.ListOpts) ([]domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE creator_id = $1`
	args := []any{creatorID}
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

	query += " ORDER BY " + sortClause(opts.Sort)

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
		return nil, fmt.Errorf("postgres: list signals by creator: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals by creator: %w", err)
	}
	return signals, nil
}

// ListPendingByCreator returns the creator's unsettled signals, newest first.
func (s *SignalStore) ListPendingByCreator(ctx context.Context, creatorID string) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalSelectCols+` FROM signals
		 WHERE creator_id = $1 AND outcome = 'PENDING'
		 ORDER BY created_at DESC`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending signals: %w", err)
	}
	return signals, nil
}

// ListAvailable returns pending signals the buyer has not unlocked and did
// not post themselves.
func (s *SignalStore) ListAvailable(ctx context.Context, buyerID string, opts domain.ListOpts) ([]domain.Signal, error) {
	query := `SELECT ` + prefixCols("s", signalSelectCols) + `
		FROM signals s
		WHERE s.outcome = 'PENDING'
		  AND s.creator_id <> $1
		  AND NOT EXISTS (
			SELECT 1 FROM purchases p
			WHERE p.signal_id = s.id AND p.buyer_id = $1
		  )`
	args := []any{buyerID}
	argIdx := 2

	if opts.Search != "" {
		query += fmt.Sprintf(" AND (s.content ILIKE $%d OR s.category ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+opts.Search+"%")
		argIdx++
	}
	if opts.Category != "" {
		query += fmt.Sprintf(" AND s.category = $%d", argIdx)
		args = append(args, opts.Category)
		argIdx++
	}

	query += " ORDER BY " + prefixOrder("s", sortClause(opts.Sort))

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
		return nil, fmt.Errorf("postgres: list available signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan available signals: %w", err)
	}
	return signals, nil
}

// ListSettledBetween returns signals settled within [from, to), oldest first.
// Used by the archiver.
func (s *SignalStore) ListSettledBetween(ctx context.Context, from, to time.Time) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalSelectCols+` FROM signals
		 WHERE settled_at >= $1 AND settled_at < $2
		 ORDER BY settled_at ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled signals: %w", err)
	}
	return signals, nil
}

// Count returns the total number of signals.
func (s *SignalStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM signals").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count signals: %w", err)
	}
	return n, nil
}
