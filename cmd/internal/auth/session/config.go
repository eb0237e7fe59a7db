package session

import (
	"crypto/rand"
	"os"
	"time"
)

// MinSecretBytes is the minimum signing secret size accepted in production.
const MinSecretBytes = 32

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim of every token.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration

	// ClockSkew is the leeway applied to exp checks.
	ClockSkew time.Duration

	// HS256 secrets, one per token type.
	AccessSecret  []byte
	RefreshSecret []byte
	ResetSecret   []byte
}

// DefaultConfig returns the baseline configuration without secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:          "warden",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ResetTokenTTL:   time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - WARDEN_AUTH_ISSUER
//   - WARDEN_AUTH_ACCESS_TTL
//   - WARDEN_AUTH_REFRESH_TTL
//   - WARDEN_AUTH_RESET_TTL
//   - WARDEN_AUTH_CLOCK_SKEW
//
// Secrets (required in production, see EnsureSecrets):
//   - WARDEN_ACCESS_TOKEN_SECRET
//   - WARDEN_REFRESH_TOKEN_SECRET
//   - WARDEN_RESET_TOKEN_SECRET
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("WARDEN_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"WARDEN_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL},
		{"WARDEN_AUTH_REFRESH_TTL", &cfg.RefreshTokenTTL},
		{"WARDEN_AUTH_RESET_TTL", &cfg.ResetTokenTTL},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil || parsed <= 0 {
				return Config{}, ErrConfig
			}
			*d.dst = parsed
		}
	}

	if v := os.Getenv("WARDEN_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.AccessSecret = []byte(os.Getenv("WARDEN_ACCESS_TOKEN_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("WARDEN_REFRESH_TOKEN_SECRET"))
	cfg.ResetSecret = []byte(os.Getenv("WARDEN_RESET_TOKEN_SECRET"))

	// Access tokens must not outlive the session that minted them.
	if cfg.AccessTokenTTL > cfg.RefreshTokenTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

// EnsureSecrets validates the signing secrets.
//
// In production every secret must be at least MinSecretBytes long and the
// three must differ. Outside production missing secrets are replaced with
// random ephemeral ones; generated reports whether that happened, so callers
// can warn that tokens will not survive a restart.
func (c Config) EnsureSecrets(production bool) (out Config, generated bool, err error) {
	out = c
	secrets := []*[]byte{&out.AccessSecret, &out.RefreshSecret, &out.ResetSecret}

	for _, s := range secrets {
		if len(*s) == 0 {
			if production {
				return Config{}, false, ErrConfig
			}
			b := make([]byte, MinSecretBytes)
			if _, err := rand.Read(b); err != nil {
				return Config{}, false, err
			}
			*s = b
			generated = true
			continue
		}
		if production && len(*s) < MinSecretBytes {
			return Config{}, false, ErrConfig
		}
	}

	if production && (string(out.AccessSecret) == string(out.RefreshSecret) ||
		string(out.AccessSecret) == string(out.ResetSecret) ||
		string(out.RefreshSecret) == string(out.ResetSecret)) {
		return Config{}, false, ErrConfig
	}

	return out, generated, nil
}
