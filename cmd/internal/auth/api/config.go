package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultCookieName is the refresh-token cookie name existing clients expect.
const DefaultCookieName = "express_jwt"

// Config controls auth API transport behavior.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20,
		CookieName:     DefaultCookieName,
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
	}
}

// LoadConfigFromEnv loads auth API config from environment variables.
// Cookies are Secure by default when WARDEN_ENV=production.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	production := strings.EqualFold(strings.TrimSpace(os.Getenv("WARDEN_ENV")), "production")

	cfg := Config{
		TrustProxy:     envBool("WARDEN_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:   envInt64("WARDEN_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		CookieName:     envString("WARDEN_AUTH_COOKIE_NAME", def.CookieName),
		CookiePath:     envString("WARDEN_AUTH_COOKIE_PATH", def.CookiePath),
		CookieDomain:   envString("WARDEN_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:   envBool("WARDEN_AUTH_COOKIE_SECURE", production),
		CookieSameSite: def.CookieSameSite,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if strings.TrimSpace(c.CookieName) == "" {
		c.CookieName = def.CookieName
	}
	if strings.TrimSpace(c.CookiePath) == "" {
		c.CookiePath = def.CookiePath
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = def.CookieSameSite
	}
	return c
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// maxAge converts a TTL into a cookie Max-Age, at least one second.
func maxAge(ttl time.Duration) int {
	s := int(ttl / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
