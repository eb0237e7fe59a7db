package session

import (
	"context"
	"time"
)

// Record is one persisted refresh-token grant.
//
// ID identifies the logical session and survives rotation; TokenHash changes
// on every rotation. ExpiresAt is copied from the refresh token's exp claim.
type Record struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Device    string
	RotatedAt *time.Time
}

// Tx is the set of record operations available inside one transaction.
//
// FindByToken locks the matching record until the transaction ends.
// Lookups that match nothing return ErrRecordNotFound.
type Tx interface {
	Insert(ctx context.Context, rec Record) error
	FindByToken(ctx context.Context, tokenHash string) (Record, error)
	DeleteByToken(ctx context.Context, tokenHash string) (int64, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	UpdateToken(ctx context.Context, oldHash, newHash string, newExpiry, now time.Time) error
}

// Store persists session records.
//
// WithinTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error

	// ListActive returns the user's unexpired records, newest first.
	ListActive(ctx context.Context, userID string, now time.Time) ([]Record, error)
}
