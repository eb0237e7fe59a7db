package authapi

import (
	"errors"
	"net/http"
	"strings"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/verification"
)

const maxNameLen = 100

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req registerRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	email := identity.NormalizeEmail(req.Email)
	if name == "" || len(name) > maxNameLen || !identity.ValidEmail(email) {
		writeError(w, http.StatusBadRequest, "invalid_request", "name, email and password are required")
		return
	}
	if err := h.passwords.Validate(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", passwordMessage(err))
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.register.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	ctx := r.Context()
	rc := h.requestContext(r)

	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Now:          h.now(),
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, err := h.sessions.Issue(ctx, session.Identity{UserID: u.ID, Email: u.Email}, rc.userAgent)
	if err != nil {
		h.log.Error("auth.register.issue_session.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Registration succeeds even when the email cannot be queued; the user
	// can ask for it again via /resend-email.
	_ = h.sendCode(ctx, u, verification.KindEmail)

	h.audit(ctx, rc, AuditEntry{Action: "auth.register", UserID: u.ID, SessionID: issued.SessionID})
	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExpiresAt)
	writeJSON(w, http.StatusCreated, tokenResponse{
		Message:     "registered",
		AccessToken: issued.AccessToken,
		ExpiresAt:   issued.AccessExpiresAt,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	rc := h.requestContext(r)

	u, err := h.users.FindUserByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) && !identity.IsInvalidInput(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		// Timing resistance: perform a dummy verify when the user is missing.
		_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		h.audit(ctx, rc, AuditEntry{Action: "auth.login.failed", Meta: map[string]any{"reason": "not_found"}})
		writeError(w, http.StatusBadRequest, "invalid_credentials", "invalid credentials")
		return
	}

	ok, err := h.passwords.Verify(u.PasswordHash, req.Password)
	if err != nil || !ok {
		if err != nil {
			h.log.Error("auth.login.verify.fail", "err", err, "user_id", u.ID)
		}
		h.audit(ctx, rc, AuditEntry{Action: "auth.login.failed", UserID: u.ID, Meta: map[string]any{"reason": "bad_password"}})
		writeError(w, http.StatusBadRequest, "invalid_credentials", "invalid credentials")
		return
	}
	if u.Suspended {
		h.audit(ctx, rc, AuditEntry{Action: "auth.login.failed", UserID: u.ID, Meta: map[string]any{"reason": "suspended"}})
		writeError(w, http.StatusLocked, "account_suspended", "account suspended")
		return
	}

	// A cookie from an earlier login on this device is retired first.
	if old, ok := h.refreshTokenFromCookie(r); ok {
		if err := h.sessions.Revoke(ctx, old); err != nil {
			h.log.Warn("auth.login.revoke_previous.fail", "err", err, "user_id", u.ID)
		}
	}

	issued, err := h.sessions.Issue(ctx, session.Identity{UserID: u.ID, Email: u.Email}, rc.userAgent)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, rc, AuditEntry{Action: "auth.login.success", UserID: u.ID, SessionID: issued.SessionID})
	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		Message:     "logged in",
		AccessToken: issued.AccessToken,
		ExpiresAt:   issued.AccessExpiresAt,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	tok, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session cookie")
		return
	}

	ctx := r.Context()
	rc := h.requestContext(r)

	issued, err := h.sessions.Rotate(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReuseDetected):
			h.audit(ctx, rc, AuditEntry{Action: "auth.refresh.reuse_detected"})
			h.clearRefreshCookie(w)
			writeError(w, http.StatusForbidden, "refresh_reuse_detected", "session is no longer valid")
		case errors.Is(err, session.ErrInvalidToken):
			h.clearRefreshCookie(w)
			writeError(w, http.StatusForbidden, "invalid_token", "session is no longer valid")
		case errors.Is(err, session.ErrUserNotFound), errors.Is(err, session.ErrUnauthorized):
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		case errors.Is(err, session.ErrUserSuspended):
			writeError(w, http.StatusLocked, "account_suspended", "account suspended")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.audit(ctx, rc, AuditEntry{Action: "auth.refresh.success", SessionID: issued.SessionID})
	h.setRefreshCookie(w, issued.RefreshToken, issued.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: issued.AccessToken,
		ExpiresAt:   issued.AccessExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	_, u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	tok, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session cookie")
		return
	}

	// Only a session of the bearer's own user is revoked. An unknown or
	// foreign cookie leaves the store untouched.
	ctx := r.Context()
	rec, err := h.sessions.RevokeOwned(ctx, u.ID, tok)
	switch {
	case err == nil:
		h.audit(ctx, h.requestContext(r), AuditEntry{Action: "auth.logout", UserID: u.ID, SessionID: rec.ID})
	case errors.Is(err, session.ErrRecordNotFound):
		h.log.Info("auth.logout.no_session", "user_id", u.ID)
	default:
		h.log.Error("auth.logout.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	_, u, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	n, err := h.sessions.RevokeAll(ctx, u.ID)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, h.requestContext(r), AuditEntry{Action: "auth.logout_all", UserID: u.ID, Meta: map[string]any{"revoked": n}})
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, revokedResponse{Message: "logged out from all devices", Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	_, u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	claims, u, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	recs, err := h.sessions.ActiveSessions(r.Context(), u.ID, h.now())
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toSessionsResponse(recs, claims.SessionID))
}
