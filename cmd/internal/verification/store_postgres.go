package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over warden.verification_codes.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a Postgres-backed code store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Replace(ctx context.Context, c Code) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("verification: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM warden.verification_codes WHERE user_id = $1 AND kind = $2`,
		c.UserID, string(c.Kind),
	); err != nil {
		return fmt.Errorf("verification: replace: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO warden.verification_codes (id, user_id, kind, code, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.UserID, string(c.Kind), c.Code, c.Token, c.ExpiresAt, c.CreatedAt); err != nil {
		return fmt.Errorf("verification: replace: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("verification: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (Code, error) {
	var (
		c    Code
		kind string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, kind, code, token, expires_at, created_at
		FROM warden.verification_codes
		WHERE token = $1
	`, token).Scan(&c.ID, &c.UserID, &kind, &c.Code, &c.Token, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrNotFound
	}
	if err != nil {
		return Code{}, fmt.Errorf("verification: find: %w", err)
	}
	c.Kind = Kind(kind)
	return c, nil
}

func (s *PostgresStore) DeleteForUser(ctx context.Context, userID string, kind Kind) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM warden.verification_codes WHERE user_id = $1 AND kind = $2`,
		userID, string(kind),
	)
	if err != nil {
		return 0, fmt.Errorf("verification: delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteLive(ctx context.Context, id, userID string, kind Kind, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM warden.verification_codes
		WHERE id = $1 AND user_id = $2 AND kind = $3 AND expires_at > $4
	`, id, userID, string(kind), now)
	if err != nil {
		return 0, fmt.Errorf("verification: redeem: %w", err)
	}
	return tag.RowsAffected(), nil
}
