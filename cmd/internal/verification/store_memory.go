package verification

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]Code // by token
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]Code)}
}

func (m *MemoryStore) Replace(ctx context.Context, c Code) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(c.UserID, c.Kind)
	m.codes[c.Token] = c
	return nil
}

func (m *MemoryStore) FindByToken(ctx context.Context, token string) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.codes[token]
	if !ok {
		return Code{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) DeleteForUser(ctx context.Context, userID string, kind Kind) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(userID, kind), nil
}

func (m *MemoryStore) DeleteLive(ctx context.Context, id, userID string, kind Kind, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for tok, c := range m.codes {
		if c.ID == id && c.UserID == userID && c.Kind == kind && c.ExpiresAt.After(now) {
			delete(m.codes, tok)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *MemoryStore) deleteLocked(userID string, kind Kind) int64 {
	var n int64
	for tok, c := range m.codes {
		if c.UserID == userID && c.Kind == kind {
			delete(m.codes, tok)
			n++
		}
	}
	return n
}
