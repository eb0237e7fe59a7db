package identity

import (
	"context"
	"time"
)

// User is warden's security principal.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string

	Suspended       bool
	EmailVerifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Verified reports whether the user confirmed their email address.
func (u User) Verified() bool { return u.EmailVerifiedAt != nil }

// CreateUserInput describes a registration. PasswordHash is already hashed;
// identity never sees plaintext passwords.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Now          time.Time
}

// Store is the credential persistence boundary.
//
// Lookups return a NotFoundError (errors.Is ErrNotFound) for missing users.
// CreateUser returns a ConflictError on a duplicate email.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id string, hash string, at time.Time) error
	SetSuspended(ctx context.Context, id string, suspended bool, at time.Time) error
}

func validateCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Email = NormalizeEmail(in.Email)
	if !ValidEmail(in.Email) {
		return in, invalid(op, "invalid email")
	}
	if in.PasswordHash == "" {
		return in, invalid(op, "password hash is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
