package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore implements Store using PostgreSQL (warden.sessions).
//
// token_hash carries a unique index; FindByToken takes a row lock
// (SELECT ... FOR UPDATE) so a concurrent rotation of the same token blocks
// until the first commits and then no longer matches.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, user_id, token_hash, issued_at, expires_at, device, rotated_at`

// WithinTx runs fn in a read-committed transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}
	return nil
}

// ListActive returns the user's unexpired records, newest first.
func (s *PostgresStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM warden.sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY issued_at DESC, id DESC
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("session: list: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return out, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Insert(ctx context.Context, rec Record) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO warden.sessions (
			id, user_id, token_hash, issued_at, expires_at, device, rotated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULL)
	`, rec.ID, rec.UserID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt, rec.Device)
	if err != nil {
		return fmt.Errorf("session: insert: %w", err)
	}
	return nil
}

func (t pgTx) FindByToken(ctx context.Context, tokenHash string) (Record, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM warden.sessions
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash)

	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: find: %w", err)
	}
	return r, nil
}

func (t pgTx) DeleteByToken(ctx context.Context, tokenHash string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM warden.sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return 0, fmt.Errorf("session: delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t pgTx) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM warden.sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("session: delete all: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t pgTx) UpdateToken(ctx context.Context, oldHash, newHash string, newExpiry, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE warden.sessions
		SET token_hash = $2, expires_at = $3, rotated_at = $4
		WHERE token_hash = $1
	`, oldHash, newHash, newExpiry, now)
	if err != nil {
		return fmt.Errorf("session: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r       Record
		rotated pgtype.Timestamptz
	)
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.TokenHash,
		&r.IssuedAt,
		&r.ExpiresAt,
		&r.Device,
		&rotated,
	); err != nil {
		return Record{}, err
	}
	if rotated.Valid {
		t := rotated.Time
		r.RotatedAt = &t
	}
	return r, nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = pgTx{}
	_ Tx    = (*memTx)(nil)
)
