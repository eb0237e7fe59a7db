package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"warden/cmd/identity/ids"
)

// MemoryStore is an in-process Store used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// CreateUser stores a new user; duplicate emails return a ConflictError.
func (m *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[in.Email]; ok {
		return User{}, emailTaken(op)
	}

	u := User{
		ID:           id,
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	m.byID[id] = u
	m.byEmail[in.Email] = id
	return u, nil
}

// FindUserByEmail loads a user by normalized email.
func (m *MemoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, userNotFound("identity.FindUserByEmail")
	}
	return copyUser(m.byID[id]), nil
}

// FindUserByID loads a user by id.
func (m *MemoryStore) FindUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, userNotFound("identity.FindUserByID")
	}
	return copyUser(u), nil
}

// MarkEmailVerified stamps EmailVerifiedAt.
func (m *MemoryStore) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return m.mutate(ctx, "identity.MarkEmailVerified", id, func(u *User) {
		t := at
		u.EmailVerifiedAt = &t
		u.UpdatedAt = at
	})
}

// UpdatePassword replaces the stored password hash.
func (m *MemoryStore) UpdatePassword(ctx context.Context, id string, hash string, at time.Time) error {
	const op = "identity.UpdatePassword"
	if hash == "" {
		return invalid(op, "password hash is required")
	}
	return m.mutate(ctx, op, id, func(u *User) {
		u.PasswordHash = hash
		u.UpdatedAt = at
	})
}

// SetSuspended toggles the suspension flag.
func (m *MemoryStore) SetSuspended(ctx context.Context, id string, suspended bool, at time.Time) error {
	return m.mutate(ctx, "identity.SetSuspended", id, func(u *User) {
		u.Suspended = suspended
		u.UpdatedAt = at
	})
}

func (m *MemoryStore) mutate(ctx context.Context, op, id string, fn func(*User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return userNotFound(op)
	}
	fn(&u)
	m.byID[id] = u
	return nil
}

func copyUser(u User) User {
	if u.EmailVerifiedAt != nil {
		t := *u.EmailVerifiedAt
		u.EmailVerifiedAt = &t
	}
	return u
}
