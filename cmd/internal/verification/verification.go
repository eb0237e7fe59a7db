package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"warden/cmd/identity/ids"

	"github.com/google/uuid"
)

// Kind separates email-verification codes from password-reset codes.
type Kind string

const (
	KindEmail         Kind = "EMAIL"
	KindPasswordReset Kind = "PASSWORD_RESET"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindEmail || k == KindPasswordReset }

var (
	// ErrInvalidCode covers every verification failure: unknown token,
	// wrong code, wrong kind, or expired.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrNotFound is returned by stores when no code matches.
	ErrNotFound = errors.New("verification code not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid verification config")
)

const (
	codeDigits = 8
	codeMin    = 10000000
	codeSpan   = 90000000

	// DefaultCodeTTL is how long a code stays valid.
	DefaultCodeTTL = 24 * time.Hour
)

// Code is one issued verification code.
type Code struct {
	ID        string
	UserID    string
	Kind      Kind
	Code      string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store persists codes.
type Store interface {
	// Replace deletes the user's codes of c.Kind and inserts c atomically.
	Replace(ctx context.Context, c Code) error
	// FindByToken returns the code carrying token, or ErrNotFound.
	FindByToken(ctx context.Context, token string) (Code, error)
	// DeleteForUser deletes the user's codes of kind.
	DeleteForUser(ctx context.Context, userID string, kind Kind) (int64, error)
	// DeleteLive deletes the code with id if it belongs to userID, has kind
	// and expires after now. It reports how many rows were removed.
	DeleteLive(ctx context.Context, id, userID string, kind Kind, now time.Time) (int64, error)
}

// Service issues and verifies codes.
type Service struct {
	store Store
	ttl   time.Duration
	rand  io.Reader
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRand overrides the randomness source for codes.
func WithRand(r io.Reader) Option { return func(s *Service) { s.rand = r } }

// NewService constructs a Service. A non-positive ttl selects DefaultCodeTTL.
func NewService(store Store, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	s := &Service{
		store: store,
		ttl:   ttl,
		rand:  rand.Reader,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTLFromEnv reads WARDEN_VERIFICATION_CODE_TTL (Go duration).
func TTLFromEnv() (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv("WARDEN_VERIFICATION_CODE_TTL"))
	if v == "" {
		return DefaultCodeTTL, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}

// Issue creates a fresh code of kind for userID, replacing older ones.
func (s *Service) Issue(ctx context.Context, userID string, kind Kind) (Code, error) {
	if !kind.Valid() {
		return Code{}, fmt.Errorf("verification: unknown kind %q", kind)
	}
	if strings.TrimSpace(userID) == "" {
		return Code{}, fmt.Errorf("verification: missing user id")
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Code{}, err
	}
	code, err := s.newCode()
	if err != nil {
		return Code{}, err
	}

	c := Code{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Code:      code,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Replace(ctx, c); err != nil {
		return Code{}, err
	}
	return c, nil
}

// Verify returns the stored code if (code, token) match an unexpired code of kind.
func (s *Service) Verify(ctx context.Context, kind Kind, code, token string, now time.Time) (Code, error) {
	code = strings.TrimSpace(code)
	token = strings.TrimSpace(token)
	if !wellFormedCode(code) {
		return Code{}, ErrInvalidCode
	}
	if _, err := uuid.Parse(token); err != nil {
		return Code{}, ErrInvalidCode
	}

	c, err := s.store.FindByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Code{}, ErrInvalidCode
	}
	if err != nil {
		return Code{}, err
	}

	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		return Code{}, ErrInvalidCode
	}
	if c.Kind != kind || !c.ExpiresAt.After(now) {
		return Code{}, ErrInvalidCode
	}
	return c, nil
}

// Consume deletes the user's codes of kind.
func (s *Service) Consume(ctx context.Context, userID string, kind Kind) error {
	_, err := s.store.DeleteForUser(ctx, userID, kind)
	return err
}

// Redeem deletes the live code identified by id. A code can be redeemed once;
// later calls, or calls after the code was replaced or expired, fail with
// ErrInvalidCode.
func (s *Service) Redeem(ctx context.Context, id, userID string, kind Kind, now time.Time) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(userID) == "" {
		return ErrInvalidCode
	}
	n, err := s.store.DeleteLive(ctx, id, userID, kind, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidCode
	}
	return nil
}

func (s *Service) newCode() (string, error) {
	n, err := rand.Int(s.rand, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("verification: code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()+codeMin), nil
}

func wellFormedCode(s string) bool {
	if len(s) != codeDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
