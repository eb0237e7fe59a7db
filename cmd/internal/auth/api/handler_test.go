package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_SetsCookieAndSendsVerification(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, call{method: http.MethodPost, path: "/register", body: map[string]string{
		"name": "Ada", "email": "Ada@Example.com", "password": testPassword,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	c := refreshCookie(rec)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), c.MaxAge)

	// The refresh token only travels in the cookie.
	assert.NotContains(t, rec.Body.String(), c.Value)

	assert.Equal(t, 1, e.mail.count("ada@example.com"))
	assert.True(t, e.audit.has("auth.register"))

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	me := e.do(t, call{method: http.MethodGet, path: "/me", bearer: resp.AccessToken})
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"ada@example.com"`)
	assert.Contains(t, me.Body.String(), `"emailVerified":false`)
}

func TestRegister_Rejects(t *testing.T) {
	e := newAPIEnv(t)
	e.register(t, "taken@example.com")

	tests := []struct {
		name string
		body any
		want int
		code string
	}{
		{name: "duplicate email", body: map[string]string{"name": "X", "email": "TAKEN@example.com", "password": testPassword}, want: http.StatusConflict, code: "email_taken"},
		{name: "weak password", body: map[string]string{"name": "X", "email": "new@example.com", "password": "short"}, want: http.StatusBadRequest, code: "weak_password"},
		{name: "bad email", body: map[string]string{"name": "X", "email": "nope", "password": testPassword}, want: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing name", body: map[string]string{"email": "new@example.com", "password": testPassword}, want: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", body: map[string]string{"name": "X", "email": "new@example.com", "password": testPassword, "role": "admin"}, want: http.StatusBadRequest, code: "invalid_json"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, call{method: http.MethodPost, path: "/register", body: tc.body})
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestLogin_UniformFailure(t *testing.T) {
	e := newAPIEnv(t)
	e.register(t, "user@example.com")

	unknown := e.do(t, call{method: http.MethodPost, path: "/login", body: map[string]string{"email": "ghost@example.com", "password": testPassword}})
	wrong := e.do(t, call{method: http.MethodPost, path: "/login", body: map[string]string{"email": "user@example.com", "password": "wrong-password-1"}})

	assert.Equal(t, http.StatusBadRequest, unknown.Code)
	assert.Equal(t, http.StatusBadRequest, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
	assert.Equal(t, "invalid_credentials", errorCode(t, wrong))
	assert.Nil(t, refreshCookie(wrong))
	assert.True(t, e.audit.has("auth.login.failed"))
}

func TestLogin_Suspended(t *testing.T) {
	e := newAPIEnv(t)
	e.register(t, "user@example.com")
	require.NoError(t, e.users.SetSuspended(context.Background(), e.userID(t, "user@example.com"), true, e.clock.Now()))

	rec := e.do(t, call{method: http.MethodPost, path: "/login", body: map[string]string{"email": "user@example.com", "password": testPassword}})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_suspended", errorCode(t, rec))
}

func TestLogin_RevokesPreviousCookie(t *testing.T) {
	e := newAPIEnv(t)
	first := e.register(t, "user@example.com")

	rec := e.do(t, call{method: http.MethodPost, path: "/login", cookie: first.cookie, body: map[string]string{
		"email": "user@example.com", "password": testPassword,
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := e.svc.SessionCount(context.Background(), e.userID(t, "user@example.com"), e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRefresh_RotatesThenDetectsReplay(t *testing.T) {
	e := newAPIEnv(t)
	s1 := e.register(t, "user@example.com")
	e.login(t, "user@example.com", testPassword) // a second device

	rec := e.do(t, call{method: http.MethodGet, path: "/refresh", cookie: s1.cookie})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s2 := deviceFrom(t, rec)
	assert.NotEqual(t, s1.cookie, s2.cookie)

	// Replaying the superseded cookie revokes every session of the user.
	replay := e.do(t, call{method: http.MethodGet, path: "/refresh", cookie: s1.cookie})
	assert.Equal(t, http.StatusForbidden, replay.Code)
	assert.Equal(t, "refresh_reuse_detected", errorCode(t, replay))
	cleared := refreshCookie(replay)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.True(t, e.audit.has("auth.refresh.reuse_detected"))

	assert.Equal(t, 0, e.sessions.Len())

	after := e.do(t, call{method: http.MethodGet, path: "/refresh-token", cookie: s2.cookie})
	assert.Equal(t, http.StatusForbidden, after.Code)
}

func TestRefresh_Errors(t *testing.T) {
	e := newAPIEnv(t)

	missing := e.do(t, call{method: http.MethodGet, path: "/refresh"})
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	garbage := e.do(t, call{method: http.MethodGet, path: "/refresh", cookie: "not-a-jwt"})
	assert.Equal(t, http.StatusForbidden, garbage.Code)
	assert.Equal(t, "invalid_token", errorCode(t, garbage))

	post := e.do(t, call{method: http.MethodPost, path: "/refresh"})
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
	assert.Equal(t, http.MethodGet, post.Header().Get("Allow"))
}

func TestRefresh_SuspendedKeepsSession(t *testing.T) {
	e := newAPIEnv(t)
	d := e.register(t, "user@example.com")
	require.NoError(t, e.users.SetSuspended(context.Background(), e.userID(t, "user@example.com"), true, e.clock.Now()))

	rec := e.do(t, call{method: http.MethodGet, path: "/refresh", cookie: d.cookie})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, 1, e.sessions.Len())

	me := e.do(t, call{method: http.MethodGet, path: "/me", bearer: d.access})
	assert.Equal(t, http.StatusLocked, me.Code)
}

func TestLogout_RemovesOnlyPresentedSession(t *testing.T) {
	e := newAPIEnv(t)
	a := e.register(t, "user@example.com")
	e.login(t, "user@example.com", testPassword)

	rec := e.do(t, call{method: http.MethodPost, path: "/logout", bearer: a.access, cookie: a.cookie})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, -1, refreshCookie(rec).MaxAge)
	assert.Equal(t, 1, e.sessions.Len())

	// Without a cookie there is nothing to revoke.
	noCookie := e.do(t, call{method: http.MethodPost, path: "/logout", bearer: a.access})
	assert.Equal(t, http.StatusUnauthorized, noCookie.Code)

	// Without a bearer the request is rejected before touching the store.
	noBearer := e.do(t, call{method: http.MethodPost, path: "/logout", cookie: a.cookie})
	assert.Equal(t, http.StatusUnauthorized, noBearer.Code)
}

func TestLogout_IgnoresAnotherUsersCookie(t *testing.T) {
	e := newAPIEnv(t)
	mine := e.register(t, "user@example.com")
	theirs := e.register(t, "other@example.com")
	require.Equal(t, 2, e.sessions.Len())

	rec := e.do(t, call{method: http.MethodPost, path: "/logout", bearer: mine.access, cookie: theirs.cookie})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, e.sessions.Len())
	assert.False(t, e.audit.has("auth.logout"))

	still := e.do(t, call{method: http.MethodGet, path: "/refresh", cookie: theirs.cookie})
	assert.Equal(t, http.StatusOK, still.Code)

	claims, err := e.svc.ValidateAccessToken(context.Background(), mine.access)
	require.NoError(t, err)

	own := e.do(t, call{method: http.MethodPost, path: "/logout", bearer: mine.access, cookie: mine.cookie})
	require.Equal(t, http.StatusOK, own.Code)
	assert.Equal(t, 1, e.sessions.Len())
	entry, ok := e.audit.find("auth.logout")
	require.True(t, ok)
	assert.Equal(t, e.userID(t, "user@example.com"), entry.UserID)
	assert.Equal(t, claims.SessionID, entry.SessionID)
}

func TestLogoutAll_ThreeDevices(t *testing.T) {
	e := newAPIEnv(t)
	a := e.register(t, "user@example.com")
	e.login(t, "user@example.com", testPassword)
	e.login(t, "user@example.com", testPassword)
	other := e.register(t, "other@example.com")

	rec := e.do(t, call{method: http.MethodPost, path: "/logout-all", bearer: a.access})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp revokedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Revoked)

	n, err := e.svc.SessionCount(context.Background(), e.userID(t, "user@example.com"), e.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	// Other users keep their sessions.
	again := e.do(t, call{method: http.MethodGet, path: "/refresh", cookie: other.cookie})
	assert.Equal(t, http.StatusOK, again.Code)
}

func TestSessions_ListsActiveAndMarksCurrent(t *testing.T) {
	e := newAPIEnv(t)
	a := e.register(t, "user@example.com")
	e.clock.Advance(time.Minute)
	e.login(t, "user@example.com", testPassword)

	rec := e.do(t, call{method: http.MethodGet, path: "/sessions", bearer: a.access})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 2)
	assert.False(t, resp.Sessions[0].Current)
	assert.True(t, resp.Sessions[1].Current)
	assert.Equal(t, "test-agent", resp.Sessions[1].Device)
}

func TestVerifyEmail(t *testing.T) {
	e := newAPIEnv(t)
	d := e.register(t, "user@example.com")
	code, tok := e.mail.last(t, "user@example.com")

	wrong := e.do(t, call{method: http.MethodPost, path: "/verify-email", bearer: d.access, body: codeRequest{Code: "00000000", Token: tok}})
	assert.Equal(t, http.StatusBadRequest, wrong.Code)
	assert.Equal(t, "invalid_code", errorCode(t, wrong))

	// Another user's bearer cannot redeem this code.
	other := e.register(t, "other@example.com")
	foreign := e.do(t, call{method: http.MethodPost, path: "/verify-email", bearer: other.access, body: codeRequest{Code: code, Token: tok}})
	assert.Equal(t, http.StatusBadRequest, foreign.Code)

	ok := e.do(t, call{method: http.MethodPost, path: "/verify-email", bearer: d.access, body: codeRequest{Code: code, Token: tok}})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	me := e.do(t, call{method: http.MethodGet, path: "/me", bearer: d.access})
	assert.Contains(t, me.Body.String(), `"emailVerified":true`)

	// Codes are single use.
	replay := e.do(t, call{method: http.MethodPost, path: "/verify-email", bearer: d.access, body: codeRequest{Code: code, Token: tok}})
	assert.Equal(t, http.StatusBadRequest, replay.Code)

	resend := e.do(t, call{method: http.MethodGet, path: "/resend-email", bearer: d.access})
	assert.Equal(t, http.StatusBadRequest, resend.Code)
	assert.Equal(t, "already_verified", errorCode(t, resend))
}

func TestVerifyEmail_ExpiredCode(t *testing.T) {
	e := newAPIEnv(t)
	d := e.register(t, "user@example.com")
	code, tok := e.mail.last(t, "user@example.com")

	e.clock.Advance(25 * time.Hour)
	// The access token has expired too; sign in again.
	d = e.login(t, "user@example.com", testPassword)

	rec := e.do(t, call{method: http.MethodPost, path: "/verify-email", bearer: d.access, body: codeRequest{Code: code, Token: tok}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResendEmail_IssuesFreshCode(t *testing.T) {
	e := newAPIEnv(t)
	d := e.register(t, "user@example.com")
	oldCode, oldTok := e.mail.last(t, "user@example.com")

	rec := e.do(t, call{method: http.MethodGet, path: "/resend-email", bearer: d.access})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, e.mail.count("user@example.com"))

	// The previous code was replaced.
	stale := e.do(t, call{method: http.MethodPost, path: "/verify-email", bearer: d.access, body: codeRequest{Code: oldCode, Token: oldTok}})
	assert.Equal(t, http.StatusBadRequest, stale.Code)
}

func TestResetPassword_NoEnumeration(t *testing.T) {
	e := newAPIEnv(t)
	e.register(t, "user@example.com")

	known := e.do(t, call{method: http.MethodPost, path: "/reset-password", body: resetRequest{Email: "user@example.com"}})
	unknown := e.do(t, call{method: http.MethodPost, path: "/reset-password", body: resetRequest{Email: "ghost@example.com"}})

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, 2, e.mail.count("user@example.com"))
	assert.Zero(t, e.mail.count("ghost@example.com"))
}

func TestPasswordResetFlow(t *testing.T) {
	e := newAPIEnv(t)
	d := e.register(t, "user@example.com")
	vCode, vTok := e.mail.last(t, "user@example.com")
	e.login(t, "user@example.com", testPassword)

	rec := e.do(t, call{method: http.MethodPost, path: "/reset-password", body: resetRequest{Email: "user@example.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	code, tok := e.mail.last(t, "user@example.com")

	// An email-verification code is not accepted for a reset.
	bad := e.do(t, call{method: http.MethodPost, path: "/verify-reset-code", body: codeRequest{Code: vCode, Token: vTok}})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/verify-reset-code", body: codeRequest{Code: code, Token: tok}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reset resetTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reset))
	require.NotEmpty(t, reset.Token)

	// Access tokens do not authorize a password update.
	wrongKind := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: d.access, body: updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "new-password-42"}})
	assert.Equal(t, http.StatusForbidden, wrongKind.Code)
	assert.Equal(t, "invalid_token", errorCode(t, wrongKind))

	mismatch := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: reset.Token, body: updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "other-password-42"}})
	assert.Equal(t, http.StatusBadRequest, mismatch.Code)
	assert.Equal(t, "password_mismatch", errorCode(t, mismatch))

	rec = e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: reset.Token, body: updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "new-password-42"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp revokedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Revoked)
	assert.Zero(t, e.sessions.Len())

	// Old sessions and the old password are gone.
	old := e.do(t, call{method: http.MethodGet, path: "/refresh", cookie: d.cookie})
	assert.Equal(t, http.StatusForbidden, old.Code)
	oldPw := e.do(t, call{method: http.MethodPost, path: "/login", body: map[string]string{"email": "user@example.com", "password": testPassword}})
	assert.Equal(t, http.StatusBadRequest, oldPw.Code)
	e.login(t, "user@example.com", "new-password-42")

	// The reset code was consumed and the reset token is spent.
	again := e.do(t, call{method: http.MethodPost, path: "/verify-reset-code", body: codeRequest{Code: code, Token: tok}})
	assert.Equal(t, http.StatusBadRequest, again.Code)
	replay := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: reset.Token, body: updatePasswordRequest{Password: "another-pass-77", ConfirmPassword: "another-pass-77"}})
	assert.Equal(t, http.StatusForbidden, replay.Code)
	assert.Equal(t, "invalid_token", errorCode(t, replay))
	assert.True(t, e.audit.has("auth.password.updated"))
}

// verifyResetCode requests a reset for email and exchanges the mailed code
// for a reset token.
func (e *apiEnv) verifyResetCode(t *testing.T, email string) string {
	t.Helper()
	rec := e.do(t, call{method: http.MethodPost, path: "/reset-password", body: resetRequest{Email: email}})
	require.Equal(t, http.StatusOK, rec.Code)
	code, tok := e.mail.last(t, email)

	rec = e.do(t, call{method: http.MethodPost, path: "/verify-reset-code", body: codeRequest{Code: code, Token: tok}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reset resetTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reset))
	return reset.Token
}

func TestUpdatePassword_ResetTokenIsSingleUseWithinOneSecond(t *testing.T) {
	e := newAPIEnv(t)
	e.register(t, "user@example.com")
	resetTok := e.verifyResetCode(t, "user@example.com")

	e.clock.Advance(300 * time.Millisecond)
	rec := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: resetTok, body: updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "new-password-42"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	e.clock.Advance(30 * time.Minute)
	e.login(t, "user@example.com", "new-password-42")

	replay := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: resetTok, body: updatePasswordRequest{Password: "hijacked-pass-99", ConfirmPassword: "hijacked-pass-99"}})
	assert.Equal(t, http.StatusForbidden, replay.Code)
	assert.Equal(t, "invalid_token", errorCode(t, replay))
	assert.Equal(t, 1, e.sessions.Len())
	e.login(t, "user@example.com", "new-password-42")
}

func TestUpdatePassword_NewerResetRequestKillsOlderToken(t *testing.T) {
	e := newAPIEnv(t)
	e.register(t, "user@example.com")
	first := e.verifyResetCode(t, "user@example.com")
	second := e.verifyResetCode(t, "user@example.com")

	stale := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: first, body: updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "new-password-42"}})
	assert.Equal(t, http.StatusForbidden, stale.Code)

	rec := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: second, body: updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "new-password-42"}})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpdatePassword_SurvivesEmailVerification(t *testing.T) {
	e := newAPIEnv(t)
	d := e.register(t, "user@example.com")
	vCode, vTok := e.mail.last(t, "user@example.com")
	resetTok := e.verifyResetCode(t, "user@example.com")

	e.clock.Advance(2 * time.Second)
	ok := e.do(t, call{method: http.MethodPost, path: "/verify-email", bearer: d.access, body: codeRequest{Code: vCode, Token: vTok}})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	rec := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: resetTok, body: updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "new-password-42"}})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpdatePassword_InvalidResetToken(t *testing.T) {
	e := newAPIEnv(t)
	e.register(t, "user@example.com")
	body := updatePasswordRequest{Password: "new-password-42", ConfirmPassword: "new-password-42"}

	missing := e.do(t, call{method: http.MethodPost, path: "/update-password", body: body})
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	garbage := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: "not-a-jwt", body: body})
	assert.Equal(t, http.StatusForbidden, garbage.Code)
	assert.Equal(t, "invalid_token", errorCode(t, garbage))

	resetTok := e.verifyResetCode(t, "user@example.com")
	e.clock.Advance(2 * time.Hour)
	expired := e.do(t, call{method: http.MethodPost, path: "/update-password", bearer: resetTok, body: body})
	assert.Equal(t, http.StatusForbidden, expired.Code)
	assert.Equal(t, "invalid_token", errorCode(t, expired))
}

func TestBearerMiddleware(t *testing.T) {
	e := newAPIEnv(t)
	d := e.register(t, "user@example.com")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + d.access, want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", want: http.StatusForbidden},
		{name: "refresh token as bearer", header: "Bearer " + d.cookie, want: http.StatusForbidden},
		{name: "valid", header: "bearer " + d.access, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := call{method: http.MethodGet, path: "/me"}
			rec := e.doRaw(t, req, tc.header)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	e.clock.Advance(16 * time.Minute)
	expired := e.do(t, call{method: http.MethodGet, path: "/me", bearer: d.access})
	assert.Equal(t, http.StatusForbidden, expired.Code)
	assert.Equal(t, "invalid_token", errorCode(t, expired))

	logoutAll := e.do(t, call{method: http.MethodPost, path: "/logout-all", bearer: d.access})
	assert.Equal(t, http.StatusForbidden, logoutAll.Code)
}

func TestReadJSON_BodyTooLarge(t *testing.T) {
	e := newAPIEnv(t)
	e.handler.cfg.MaxBodyBytes = 16

	rec := e.do(t, call{method: http.MethodPost, path: "/login", body: map[string]string{
		"email": "user@example.com", "password": strings.Repeat("x", 64),
	}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
