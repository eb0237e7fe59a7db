package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"warden/cmd/identity"
	"warden/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordedEvent struct {
	UserID string
	Event  Event
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Publish(userID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{UserID: userID, Event: ev})
}

func (r *recorder) All() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.RefreshSecret = []byte(strings.Repeat("r", 32))
	cfg.ResetSecret = []byte(strings.Repeat("p", 32))
	return cfg
}

type fixture struct {
	svc     *Service
	store   *MemoryStore
	users   *identity.MemoryStore
	clock   *fakeClock
	events  *recorder
	metrics *Metrics
	user    identity.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   NewMemoryStore(),
		users:   identity.NewMemoryStore(),
		clock:   &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		events:  &recorder{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}

	u, err := f.users.CreateUser(context.Background(), identity.CreateUserInput{
		Email:        "user@example.com",
		Name:         "User",
		PasswordHash: "hash",
		Now:          f.clock.Now(),
	})
	require.NoError(t, err)
	f.user = u

	f.svc = NewService(testConfig(), f.store, f.users, token.NewHasher([]byte(strings.Repeat("k", 32))),
		WithNotifier(f.events),
		WithMetrics(f.metrics),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) identity() Identity {
	return Identity{UserID: f.user.ID, Email: f.user.Email}
}

func (f *fixture) issue(t *testing.T, device string) Issued {
	t.Helper()
	iss, err := f.svc.Issue(context.Background(), f.identity(), device)
	require.NoError(t, err)
	return iss
}

type usersFunc func(ctx context.Context, id string) (identity.User, error)

func (fn usersFunc) FindUserByID(ctx context.Context, id string) (identity.User, error) {
	return fn(ctx, id)
}
