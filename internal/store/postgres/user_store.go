package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslab/signaldesk/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL. It is a read-side
// mirror of provider accounts; the provider stays authoritative.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, username, role, credits, created_at, updated_at`

// Upsert inserts or refreshes a mirrored user row.
func (s *UserStore) Upsert(ctx context.Context, u domain.User) error {
	const query = `
		INSERT INTO users (id, username, role, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username   = EXCLUDED.username,
			role       = EXCLUDED.role,
			credits    = EXCLUDED.credits,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, u.ID, u.Username, string(u.Role), u.Credits)
	if err != nil {
		return fmt.Errorf("postgres: upsert user %s: %w", u.ID, err)
	}
	return nil
}

// UpsertBatch refreshes several mirrored users in one transaction.
func (s *UserStore) UpsertBatch(ctx context.Context, users []domain.User) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin user batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO users (id, username, role, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username   = EXCLUDED.username,
			role       = EXCLUDED.role,
			credits    = EXCLUDED.credits,
			updated_at = NOW()`

	for _, u := range users {
		if _, err := tx.Exec(ctx, query, u.ID, u.Username, string(u.Role), u.Credits); err != nil {
			return fmt.Errorf("postgres: batch upsert user %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit user batch: %w", err)
	}
	return nil
}

// GetByID retrieves a mirrored user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)

	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &role, &u.Credits, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

// List returns every mirrored user ordered by username.
func (s *UserStore) List(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userSelectCols+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &role, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		u.Role = domain.Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list users rows: %w", err)
	}
	return users, nil
}
