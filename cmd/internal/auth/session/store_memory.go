package session

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
//
// One mutex is held for the whole transaction, so transactions are fully
// serialized. fn works on a copy of the record set that replaces the live
// one only on success.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record // by token hash
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// WithinTx runs fn under the store lock.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{records: maps.Clone(m.records)}
	if err := fn(tx); err != nil {
		return err
	}
	m.records = tx.records
	return nil
}

// ListActive returns the user's unexpired records, newest first.
func (m *MemoryStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records {
		if r.UserID == userID && r.ExpiresAt.After(now) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memTx struct {
	records map[string]Record
}

func (t *memTx) Insert(ctx context.Context, rec Record) error {
	if _, ok := t.records[rec.TokenHash]; ok {
		return fmt.Errorf("session: insert: duplicate token hash")
	}
	for _, r := range t.records {
		if r.ID == rec.ID {
			return fmt.Errorf("session: insert: duplicate id")
		}
	}
	t.records[rec.TokenHash] = copyRecord(rec)
	return nil
}

func (t *memTx) FindByToken(ctx context.Context, tokenHash string) (Record, error) {
	r, ok := t.records[tokenHash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

func (t *memTx) DeleteByToken(ctx context.Context, tokenHash string) (int64, error) {
	if _, ok := t.records[tokenHash]; !ok {
		return 0, nil
	}
	delete(t.records, tokenHash)
	return 1, nil
}

func (t *memTx) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	for h, r := range t.records {
		if r.UserID == userID {
			delete(t.records, h)
			n++
		}
	}
	return n, nil
}

func (t *memTx) UpdateToken(ctx context.Context, oldHash, newHash string, newExpiry, now time.Time) error {
	r, ok := t.records[oldHash]
	if !ok {
		return ErrRecordNotFound
	}
	if _, clash := t.records[newHash]; clash {
		return fmt.Errorf("session: update: duplicate token hash")
	}

	delete(t.records, oldHash)
	rotated := now
	r.TokenHash = newHash
	r.ExpiresAt = newExpiry
	r.RotatedAt = &rotated
	t.records[newHash] = r
	return nil
}

func copyRecord(r Record) Record {
	if r.RotatedAt != nil {
		t := *r.RotatedAt
		r.RotatedAt = &t
	}
	return r
}
