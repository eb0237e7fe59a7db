package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/mail"
	"warden/cmd/internal/verification"
	"warden/cmd/security/password"
)

// Handler wires HTTP auth endpoints to the identity, session and
// verification services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users     identity.Store
	sessions  *session.Service
	codes     *verification.Service
	passwords password.Config
	mailer    mail.Mailer
	auditor   Auditor

	now func() time.Time

	dummyHash string
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithMailer overrides the default log-only mailer.
func WithMailer(m mail.Mailer) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.mailer = m
		}
	}
}

// WithAuditor overrides the default log auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

// WithPasswordConfig overrides password.DefaultConfig.
func WithPasswordConfig(c password.Config) HandlerOption {
	return func(h *Handler) { h.passwords = c }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, codes *verification.Service, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || sessions == nil || codes == nil {
		return nil, errors.New("auth: nil dependency")
	}

	h := &Handler{
		log:       log,
		cfg:       cfg.withDefaults(),
		users:     users,
		sessions:  sessions,
		codes:     codes,
		passwords: password.DefaultConfig(),
		mailer:    mail.NewLogMailer(log),
		auditor:   LogAuditor{Log: log},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	// Dummy hash for timing-resistant login checks.
	hash, err := h.passwords.Hash("dummy-password-for-timing-only")
	if err != nil {
		return nil, err
	}
	h.dummyHash = hash

	return h, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/register", h.handleRegister)
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/refresh", h.handleRefresh)
	mux.HandleFunc("/refresh-token", h.handleRefresh)
	mux.HandleFunc("/logout", h.handleLogout)
	mux.HandleFunc("/logout-all", h.handleLogoutAll)
	mux.HandleFunc("/me", h.handleMe)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/resend-email", h.handleResendEmail)
	mux.HandleFunc("/verify-email", h.handleVerifyEmail)
	mux.HandleFunc("/reset-password", h.handleResetPassword)
	mux.HandleFunc("/verify-reset-code", h.handleVerifyResetCode)
	mux.HandleFunc("/update-password", h.handleUpdatePassword)
}

// ---- request auth ----

type requestContext struct {
	ip        net.IP
	userAgent string
}

func (h *Handler) requestContext(r *http.Request) requestContext {
	return requestContext{
		ip:        clientIP(r, h.cfg.TrustProxy),
		userAgent: strings.TrimSpace(r.UserAgent()),
	}
}

// requireUser validates the bearer access token and loads its user. It
// writes 401 for a bad token or vanished user and 423 for a suspended one.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (session.AccessClaims, identity.User, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, identity.User{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(r.Context(), tok)
	if err != nil {
		writeError(w, http.StatusForbidden, "invalid_token", "invalid token")
		return session.AccessClaims{}, identity.User{}, false
	}

	u, err := h.users.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return session.AccessClaims{}, identity.User{}, false
		}
		h.log.Error("auth.user.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return session.AccessClaims{}, identity.User{}, false
	}
	if u.Suspended {
		writeError(w, http.StatusLocked, "account_suspended", "account suspended")
		return session.AccessClaims{}, identity.User{}, false
	}
	return claims, u, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// ---- mail ----

// sendCode issues a fresh code of kind for u and hands the email to the mailer.
func (h *Handler) sendCode(ctx context.Context, u identity.User, kind verification.Kind) error {
	c, err := h.codes.Issue(ctx, u.ID, kind)
	if err != nil {
		return err
	}

	var msg mail.Message
	switch kind {
	case verification.KindPasswordReset:
		msg = mail.PasswordResetEmail(u.Email, c.Code, c.Token)
	default:
		msg = mail.VerificationEmail(u.Email, c.Code, c.Token)
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		h.log.Error("auth.mail.enqueue.fail", "err", err, "user_id", u.ID, "template", msg.Template)
		return err
	}
	return nil
}

// ---- client ip ----

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func passwordMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "password is too short"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "password is too long"
	default:
		return "password is too weak"
	}
}
