package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/identity/ids"
	"warden/cmd/security/token"
)

// Users is the read-only view of the credential store the service needs.
type Users interface {
	FindUserByID(ctx context.Context, id string) (identity.User, error)
}

// Identity is an already-authenticated user.
type Identity struct {
	UserID string
	Email  string
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AccessClaims is the identity envelope carried by a verified access token.
type AccessClaims struct {
	UserID    string
	Email     string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// State classifies a presented refresh token against the store.
type State int

const (
	// StateUnknown: no record matches. The token was rotated away, revoked,
	// or never issued.
	StateUnknown State = iota
	// StateInvalid: a record matches but the token fails verification.
	StateInvalid
	// StateActive: a record matches and the token verifies.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type lookup struct {
	State  State
	Record Record
	Claims TokenClaims
}

// maxDeviceLen bounds the stored device label.
const maxDeviceLen = 255

// Service issues, rotates and revokes refresh-token sessions.
type Service struct {
	cfg    Config
	codec  Codec
	store  Store
	users  Users
	hasher token.Hasher

	notify  Notifier
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the receiver of committed session events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notify = n
		}
	}
}

// WithMetrics sets the lifecycle counters.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. cfg must carry all three secrets.
func NewService(cfg Config, store Store, users Users, hasher token.Hasher, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		codec:  NewCodec(cfg.Issuer, cfg.ClockSkew),
		store:  store,
		users:  users,
		hasher: hasher,
		notify: nopNotifier{},
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Issue creates a new session for an authenticated user and returns its tokens.
func (s *Service) Issue(ctx context.Context, who Identity, device string) (Issued, error) {
	if strings.TrimSpace(who.UserID) == "" {
		return Issued{}, ErrUnauthorized
	}

	now := s.now()
	sessionID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	out, err := s.signPair(who, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	rec := Record{
		ID:        sessionID,
		UserID:    who.UserID,
		TokenHash: s.hasher.Hash(out.RefreshToken),
		IssuedAt:  now,
		ExpiresAt: out.RefreshExpiresAt,
		Device:    cleanDevice(device),
	}

	if err := s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.Insert(ctx, rec)
	}); err != nil {
		return Issued{}, err
	}

	s.metrics.observe("issued")
	s.log.Info("auth.session.issued", "user_id", who.UserID, "session_id", sessionID)
	return out, nil
}

// Rotate exchanges a refresh token for a new pair on the same session.
//
// The presented token is classified inside one locking transaction:
//   - active: the record is updated in place with the new token digest;
//   - invalid: the stale record is deleted and ErrInvalidToken returned;
//   - unknown: if the token still verifies (ignoring expiry) every session
//     of its owner is deleted and ErrReuseDetected returned; otherwise
//     ErrInvalidToken with no side effect.
func (s *Service) Rotate(ctx context.Context, presented string) (Issued, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Issued{}, ErrUnauthorized
	}

	now := s.now()

	var (
		out     Issued
		outcome error
		owner   string
		revoked int64
		state   State
	)

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		lk, err := s.classify(ctx, tx, presented, now)
		if err != nil {
			return err
		}
		state = lk.State

		switch lk.State {
		case StateUnknown:
			owner, revoked, outcome, err = s.contain(ctx, tx, presented)
			return err

		case StateInvalid:
			if _, err := tx.DeleteByToken(ctx, lk.Record.TokenHash); err != nil {
				return err
			}
			owner = lk.Record.UserID
			outcome = ErrInvalidToken
			return nil

		default:
			owner = lk.Record.UserID
			out, outcome, err = s.renew(ctx, tx, lk, now)
			return err
		}
	})
	if err != nil {
		return Issued{}, err
	}

	switch {
	case errors.Is(outcome, ErrReuseDetected):
		s.metrics.observe("reuse_detected")
		s.log.Warn("auth.refresh.reuse_detected", "user_id", owner, "revoked", revoked)
		if revoked > 0 {
			s.notify.Publish(owner, Event{Type: EventReuseDetected, Revoked: revoked, At: now})
		}
	case outcome != nil:
		s.metrics.observe("invalid")
		s.log.Info("auth.refresh.rejected", "user_id", owner, "state", state.String(), "err", outcome)
	default:
		s.metrics.observe("rotated")
		s.log.Info("auth.refresh.rotated", "user_id", owner, "session_id", out.SessionID)
	}

	if outcome != nil {
		return Issued{}, outcome
	}
	return out, nil
}

func (s *Service) classify(ctx context.Context, tx Tx, presented string, now time.Time) (lookup, error) {
	rec, err := tx.FindByToken(ctx, s.hasher.Hash(presented))
	if errors.Is(err, ErrRecordNotFound) {
		return lookup{State: StateUnknown}, nil
	}
	if err != nil {
		return lookup{}, err
	}

	claims, err := s.codec.Verify(presented, s.cfg.RefreshSecret, TypeRefresh, now)
	if err != nil || claims.Subject != rec.UserID || !rec.ExpiresAt.After(now) {
		return lookup{State: StateInvalid, Record: rec}, nil
	}

	return lookup{State: StateActive, Record: rec, Claims: claims}, nil
}

// contain handles a token the store does not know. It returns the owner and
// the number of records removed; the returned outcome is the caller's error.
func (s *Service) contain(ctx context.Context, tx Tx, presented string) (owner string, revoked int64, outcome error, err error) {
	claims, verr := s.codec.VerifyIgnoringExpiry(presented, s.cfg.RefreshSecret, TypeRefresh)
	if verr != nil {
		return "", 0, ErrInvalidToken, nil
	}

	user, uerr := s.users.FindUserByID(ctx, claims.Subject)
	if identity.IsNotFound(uerr) {
		return claims.Subject, 0, ErrReuseDetected, nil
	}
	if uerr != nil {
		return "", 0, nil, uerr
	}

	n, err := tx.DeleteAllForUser(ctx, user.ID)
	if err != nil {
		return "", 0, nil, err
	}
	return user.ID, n, ErrReuseDetected, nil
}

func (s *Service) renew(ctx context.Context, tx Tx, lk lookup, now time.Time) (Issued, error, error) {
	user, err := s.users.FindUserByID(ctx, lk.Record.UserID)
	if identity.IsNotFound(err) {
		// Orphaned record; nothing can ever use it again.
		if _, err := tx.DeleteByToken(ctx, lk.Record.TokenHash); err != nil {
			return Issued{}, nil, err
		}
		return Issued{}, ErrUserNotFound, nil
	}
	if err != nil {
		return Issued{}, nil, err
	}
	if user.Suspended {
		return Issued{}, ErrUserSuspended, nil
	}

	out, err := s.signPair(Identity{UserID: user.ID, Email: user.Email}, lk.Record.ID, now)
	if err != nil {
		return Issued{}, nil, err
	}

	if err := tx.UpdateToken(ctx, lk.Record.TokenHash, s.hasher.Hash(out.RefreshToken), out.RefreshExpiresAt, now); err != nil {
		return Issued{}, nil, err
	}
	return out, nil, nil
}

// Revoke deletes the record matching refreshToken. An unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	_, err := s.revoke(ctx, refreshToken, "")
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	return err
}

// RevokeOwned deletes the record matching refreshToken only if it belongs to
// userID, and returns it. A missing record or one owned by another user
// yields ErrRecordNotFound and nothing is deleted.
func (s *Service) RevokeOwned(ctx context.Context, userID, refreshToken string) (Record, error) {
	if strings.TrimSpace(userID) == "" {
		return Record{}, ErrUnauthorized
	}
	return s.revoke(ctx, refreshToken, userID)
}

// revoke deletes the record of refreshToken. A non-empty owner must match.
func (s *Service) revoke(ctx context.Context, refreshToken, owner string) (Record, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Record{}, ErrUnauthorized
	}

	hash := s.hasher.Hash(refreshToken)
	var rec Record

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		found, err := tx.FindByToken(ctx, hash)
		if err != nil {
			return err
		}
		if owner != "" && found.UserID != owner {
			return ErrRecordNotFound
		}
		n, err := tx.DeleteByToken(ctx, hash)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrRecordNotFound
		}
		rec = found
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	s.metrics.observe("revoked")
	s.log.Info("auth.session.revoked", "user_id", rec.UserID, "session_id", rec.ID)
	s.notify.Publish(rec.UserID, Event{Type: EventRevoked, SessionID: rec.ID, At: s.now()})
	return rec, nil
}

// RevokeAll deletes every record of userID and returns how many were removed.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUnauthorized
	}

	var n int64
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.DeleteAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.metrics.observe("revoked_all")
	s.log.Info("auth.session.revoked_all", "user_id", userID, "revoked", n)
	if n > 0 {
		s.notify.Publish(userID, Event{Type: EventRevokedAll, Revoked: n, At: s.now()})
	}
	return n, nil
}

// ValidateAccessToken verifies an access token.
func (s *Service) ValidateAccessToken(ctx context.Context, tok string) (AccessClaims, error) {
	claims, err := s.codec.Verify(strings.TrimSpace(tok), s.cfg.AccessSecret, TypeAccess, s.now())
	if err != nil {
		return AccessClaims{}, err
	}
	if claims.SessionID == "" {
		return AccessClaims{}, fmt.Errorf("%w: missing sid", ErrInvalidToken)
	}

	return AccessClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// IssueResetToken signs a password-reset token for userID. The token's jti is
// codeID, the verified PASSWORD_RESET code the token redeems.
func (s *Service) IssueResetToken(userID, codeID string) (string, time.Time, error) {
	if strings.TrimSpace(codeID) == "" {
		return "", time.Time{}, fmt.Errorf("session: reset token: missing code id")
	}
	rc := jwtSubject(userID)
	rc.ID = codeID
	return s.codec.Sign(TokenClaims{
		Type:             TypeReset,
		RegisteredClaims: rc,
	}, s.cfg.ResetSecret, s.cfg.ResetTokenTTL, s.now())
}

// ResetClaims is carried by a verified password-reset token.
type ResetClaims struct {
	UserID   string
	CodeID   string
	IssuedAt time.Time
}

// ValidateResetToken verifies a password-reset token. It does not check that
// the code named by CodeID is still redeemable.
func (s *Service) ValidateResetToken(tok string) (ResetClaims, error) {
	claims, err := s.codec.Verify(strings.TrimSpace(tok), s.cfg.ResetSecret, TypeReset, s.now())
	if err != nil {
		return ResetClaims{}, err
	}
	if claims.ID == "" {
		return ResetClaims{}, ErrInvalidToken
	}
	var iat time.Time
	if claims.IssuedAt != nil {
		iat = claims.IssuedAt.Time
	}
	return ResetClaims{UserID: claims.Subject, CodeID: claims.ID, IssuedAt: iat}, nil
}

// ActiveSessions lists the user's unexpired sessions, newest first.
func (s *Service) ActiveSessions(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	return s.store.ListActive(ctx, userID, now)
}

// SessionCount returns the number of unexpired sessions of userID.
func (s *Service) SessionCount(ctx context.Context, userID string, now time.Time) (int, error) {
	recs, err := s.store.ListActive(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (s *Service) signPair(who Identity, sessionID string, now time.Time) (Issued, error) {
	access, accessExp, err := s.codec.Sign(TokenClaims{
		Type:             TypeAccess,
		Email:            who.Email,
		SessionID:        sessionID,
		RegisteredClaims: jwtSubject(who.UserID),
	}, s.cfg.AccessSecret, s.cfg.AccessTokenTTL, now)
	if err != nil {
		return Issued{}, err
	}

	jti, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}
	rc := jwtSubject(who.UserID)
	rc.ID = jti

	refresh, refreshExp, err := s.codec.Sign(TokenClaims{
		Type:             TypeRefresh,
		Email:            who.Email,
		RegisteredClaims: rc,
	}, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:        sessionID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func cleanDevice(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDeviceLen {
		s = strings.ToValidUTF8(s[:maxDeviceLen], "")
	}
	return s
}
