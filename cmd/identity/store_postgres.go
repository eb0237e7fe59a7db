package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"warden/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the subset of *pgxpool.Pool used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller; this store never closes it.
// Schema identifiers are validated and quoted.
type PostgresStore struct {
	db     DBTX
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "warden").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db DBTX, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{db: db, schema: "warden"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, name, password_hash, suspended, email_verified_at, created_at, updated_at`

func (s *PostgresStore) users() string { return pgIdent(s.schema, "users") }

// CreateUser inserts a new user with an already-hashed password.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.users()+` (id, email, name, password_hash, suspended, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, false, $5, $5)`,
		id, in.Email, in.Name, in.PasswordHash, in.Now,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, emailTaken(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return User{
		ID:           id,
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}, nil
}

// FindUserByEmail loads a user by normalized email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return User{}, userNotFound(op)
	}

	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.users()+` WHERE email = $1`, email)
	return scanUser(op, row)
}

// FindUserByID loads a user by id.
func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, userNotFound(op)
	}

	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`, id)
	return scanUser(op, row)
}

// MarkEmailVerified stamps email_verified_at.
func (s *PostgresStore) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "identity.MarkEmailVerified",
		`UPDATE `+s.users()+` SET email_verified_at = $2, updated_at = $2 WHERE id = $1`,
		id, at)
}

// UpdatePassword replaces the stored password hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, id string, hash string, at time.Time) error {
	const op = "identity.UpdatePassword"
	if hash == "" {
		return invalid(op, "password hash is required")
	}
	return s.update(ctx, op,
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, at)
}

// SetSuspended toggles the suspension flag.
func (s *PostgresStore) SetSuspended(ctx context.Context, id string, suspended bool, at time.Time) error {
	return s.update(ctx, "identity.SetSuspended",
		`UPDATE `+s.users()+` SET suspended = $2, updated_at = $3 WHERE id = $1`,
		id, suspended, at)
}

func (s *PostgresStore) update(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return userNotFound(op)
	}
	return nil
}

func scanUser(op string, row pgx.Row) (User, error) {
	var (
		u        User
		verified pgtype.Timestamptz
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.Suspended,
		&verified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, userNotFound(op)
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if verified.Valid {
		t := verified.Time
		u.EmailVerifiedAt = &t
	}
	return u, nil
}

func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
