package authapi

import (
	"errors"
	"net/http"

	"warden/cmd/identity"
	"warden/cmd/internal/verification"
)

func (h *Handler) handleResendEmail(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	_, u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if u.Verified() {
		writeError(w, http.StatusBadRequest, "already_verified", "email already verified")
		return
	}

	if err := h.sendCode(r.Context(), u, verification.KindEmail); err != nil {
		h.log.Error("auth.resend_email.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusServiceUnavailable, "mail_unavailable", "please retry later")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "verification email sent"})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	_, u, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req codeRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := h.now()

	c, err := h.codes.Verify(ctx, verification.KindEmail, req.Code, req.Token, now)
	if err != nil && !errors.Is(err, verification.ErrInvalidCode) {
		h.log.Error("auth.verify_email.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err != nil || c.UserID != u.ID {
		writeError(w, http.StatusBadRequest, "invalid_code", "invalid or expired code")
		return
	}

	if err := h.users.MarkEmailVerified(ctx, u.ID, now); err != nil {
		h.log.Error("auth.verify_email.mark.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.codes.Consume(ctx, u.ID, verification.KindEmail); err != nil {
		h.log.Warn("auth.verify_email.consume.fail", "err", err, "user_id", u.ID)
	}

	h.audit(ctx, h.requestContext(r), AuditEntry{Action: "auth.email.verified", UserID: u.ID})
	writeJSON(w, http.StatusOK, messageResponse{Message: "email verified"})
}

// handleResetPassword answers identically whether or not the account exists.
func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req resetRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if !identity.ValidEmail(email) {
		writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}

	ctx := r.Context()
	u, err := h.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil && !u.Suspended:
		if err := h.sendCode(ctx, u, verification.KindPasswordReset); err != nil {
			h.log.Error("auth.reset_password.send.fail", "err", err, "user_id", u.ID)
		}
		h.audit(ctx, h.requestContext(r), AuditEntry{Action: "auth.password.reset_requested", UserID: u.ID})
	case err != nil && !identity.IsNotFound(err):
		h.log.Error("auth.reset_password.lookup.fail", "err", err)
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "if the account exists, a reset code has been sent"})
}

func (h *Handler) handleVerifyResetCode(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req codeRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	c, err := h.codes.Verify(r.Context(), verification.KindPasswordReset, req.Code, req.Token, h.now())
	if err != nil {
		if errors.Is(err, verification.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, "invalid_code", "invalid or expired code")
			return
		}
		h.log.Error("auth.verify_reset_code.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	tok, exp, err := h.sessions.IssueResetToken(c.UserID, c.ID)
	if err != nil {
		h.log.Error("auth.reset_token.issue.fail", "err", err, "user_id", c.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resetTokenResponse{Message: "code verified", Token: tok, ExpiresAt: exp})
}

// handleUpdatePassword is authorized by a reset token, not an access token.
// The token is good for one update: its jti names the reset code, which is
// redeemed here. A newer reset request replaces that code and so also kills
// the token.
func (h *Handler) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing reset token")
		return
	}
	claims, err := h.sessions.ValidateResetToken(tok)
	if err != nil {
		writeError(w, http.StatusForbidden, "invalid_token", "invalid reset token")
		return
	}

	var req updatePasswordRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "password_mismatch", "passwords do not match")
		return
	}
	if err := h.passwords.Validate(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", passwordMessage(err))
		return
	}

	ctx := r.Context()
	u, err := h.users.FindUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid reset token")
			return
		}
		h.log.Error("auth.update_password.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if u.Suspended {
		writeError(w, http.StatusLocked, "account_suspended", "account suspended")
		return
	}
	if err := h.codes.Redeem(ctx, claims.CodeID, u.ID, verification.KindPasswordReset, h.now()); err != nil {
		if errors.Is(err, verification.ErrInvalidCode) {
			writeError(w, http.StatusForbidden, "invalid_token", "invalid reset token")
			return
		}
		h.log.Error("auth.update_password.redeem.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.update_password.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.users.UpdatePassword(ctx, u.ID, hash, h.now()); err != nil {
		h.log.Error("auth.update_password.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.codes.Consume(ctx, u.ID, verification.KindPasswordReset); err != nil {
		h.log.Warn("auth.update_password.consume.fail", "err", err, "user_id", u.ID)
	}

	n, err := h.sessions.RevokeAll(ctx, u.ID)
	if err != nil {
		h.log.Error("auth.update_password.revoke_all.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, h.requestContext(r), AuditEntry{Action: "auth.password.updated", UserID: u.ID, Meta: map[string]any{"revoked": n}})
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, revokedResponse{Message: "password updated", Revoked: n})
}
