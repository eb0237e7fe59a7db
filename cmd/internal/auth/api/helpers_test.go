package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/mail"
	"warden/cmd/internal/verification"
	"warden/cmd/security/password"
	"warden/cmd/security/token"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

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

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

var (
	codeRe  = regexp.MustCompile(`code is (\d{8})`)
	tokenRe = regexp.MustCompile(`token: (\S+)`)
)

// last returns the code and token of the newest message sent to addr.
func (o *outbox) last(t *testing.T, addr string) (string, string) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.msgs) - 1; i >= 0; i-- {
		m := o.msgs[i]
		if m.To != addr {
			continue
		}
		code := codeRe.FindStringSubmatch(m.Body)
		tok := tokenRe.FindStringSubmatch(m.Body)
		require.Len(t, code, 2)
		require.Len(t, tok, 2)
		return code[1], tok[1]
	}
	t.Fatalf("no mail sent to %s", addr)
	return "", ""
}

func (o *outbox) count(addr string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.msgs {
		if m.To == addr {
			n++
		}
	}
	return n
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAuditor) Record(_ context.Context, e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAuditor) has(action string) bool {
	_, ok := a.find(action)
	return ok
}

// find returns the latest entry recorded for action.
func (a *recordingAuditor) find(action string) (AuditEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Action == action {
			return a.entries[i], true
		}
	}
	return AuditEntry{}, false
}

type apiEnv struct {
	mux      *http.ServeMux
	handler  *Handler
	clock    *fakeClock
	users    *identity.MemoryStore
	sessions *session.MemoryStore
	svc      *session.Service
	mail     *outbox
	audit    *recordingAuditor
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	e := &apiEnv{
		mux:      http.NewServeMux(),
		clock:    &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		users:    identity.NewMemoryStore(),
		sessions: session.NewMemoryStore(),
		mail:     &outbox{},
		audit:    &recordingAuditor{},
	}

	cfg := session.DefaultConfig()
	cfg.AccessSecret = bytes.Repeat([]byte("a"), 32)
	cfg.RefreshSecret = bytes.Repeat([]byte("r"), 32)
	cfg.ResetSecret = bytes.Repeat([]byte("p"), 32)

	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	e.svc = session.NewService(cfg, e.sessions, e.users, token.NewHasher(bytes.Repeat([]byte("k"), 32)),
		session.WithClock(e.clock.Now),
		session.WithLogger(log),
	)
	codes := verification.NewService(verification.NewMemoryStore(), verification.DefaultCodeTTL,
		verification.WithClock(e.clock.Now),
	)

	pw := password.DefaultConfig()
	pw.Cost = bcrypt.MinCost

	h, err := NewHandler(log, DefaultConfig(), e.users, e.svc, codes,
		WithMailer(e.mail),
		WithAuditor(e.audit),
		WithPasswordConfig(pw),
		WithClock(e.clock.Now),
	)
	require.NoError(t, err)
	e.handler = h
	h.Register(e.mux)
	return e
}

type call struct {
	method string
	path   string
	body   any
	bearer string
	cookie string
}

func (e *apiEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("User-Agent", "test-agent")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: c.cookie})
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

// device is one logged-in client: its access token and refresh cookie.
type device struct {
	access string
	cookie string
}

func (e *apiEnv) register(t *testing.T, email string) device {
	t.Helper()
	rec := e.do(t, call{method: http.MethodPost, path: "/register", body: map[string]string{
		"name": "Test User", "email": email, "password": testPassword,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return deviceFrom(t, rec)
}

func (e *apiEnv) login(t *testing.T, email, pw string) device {
	t.Helper()
	rec := e.do(t, call{method: http.MethodPost, path: "/login", body: map[string]string{
		"email": email, "password": pw,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return deviceFrom(t, rec)
}

func deviceFrom(t *testing.T, rec *httptest.ResponseRecorder) device {
	t.Helper()
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	c := refreshCookie(rec)
	require.NotNil(t, c)
	return device{access: resp.AccessToken, cookie: c.Value}
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName {
			return c
		}
	}
	return nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func (e *apiEnv) userID(t *testing.T, email string) string {
	t.Helper()
	u, err := e.users.FindUserByEmail(context.Background(), strings.ToLower(email))
	require.NoError(t, err)
	return u.ID
}

// doRaw is do with a verbatim Authorization header.
func (e *apiEnv) doRaw(t *testing.T, c call, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(c.method, c.path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}
