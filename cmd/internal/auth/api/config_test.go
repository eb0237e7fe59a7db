package authapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("WARDEN_ENV", "")
	t.Setenv("WARDEN_AUTH_COOKIE_SECURE", "")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, DefaultCookieName, cfg.CookieName)
	assert.Equal(t, "/", cfg.CookiePath)
	assert.Equal(t, http.SameSiteLaxMode, cfg.CookieSameSite)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
}

func TestLoadConfigFromEnv_Production(t *testing.T) {
	t.Setenv("WARDEN_ENV", "production")
	t.Setenv("WARDEN_AUTH_COOKIE_NAME", "sid")
	t.Setenv("WARDEN_AUTH_MAX_BODY_BYTES", "-5")

	cfg := LoadConfigFromEnv()
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, "sid", cfg.CookieName)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
}

func TestLoadConfigFromEnv_SecureOverride(t *testing.T) {
	t.Setenv("WARDEN_ENV", "production")
	t.Setenv("WARDEN_AUTH_COOKIE_SECURE", "false")

	assert.False(t, LoadConfigFromEnv().CookieSecure)
}
