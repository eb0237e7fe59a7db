package app

import (
	"errors"
	"fmt"

	"warden/cmd/internal/auth/session"
	"warden/cmd/security/token"
)

// newTokenHasher builds the refresh-token digest function under the
// configured policy. Failing fast is intentional: silently falling back to a
// plain digest in production is unacceptable.
func newTokenHasher(cfg Config, log Logger) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinKeyBytes)
	case err != nil:
		return token.Hasher{}, err
	}

	if !h.Keyed() {
		log.Warn("security.token_hmac.disabled", "fallback", "sha256")
	}
	return h, nil
}

// loadSessionConfig reads the session config and resolves its signing secrets.
func loadSessionConfig(cfg Config, log Logger) (session.Config, error) {
	sc, err := session.LoadConfigFromEnv()
	if err != nil {
		return session.Config{}, fmt.Errorf("session config: %w", err)
	}

	sc, generated, err := sc.EnsureSecrets(cfg.Production())
	if err != nil {
		return session.Config{}, fmt.Errorf("session secrets: %w", err)
	}
	if generated {
		log.Warn("security.secrets.ephemeral",
			"reason", "signing secrets not configured",
			"effect", "tokens do not survive a restart",
		)
	}
	return sc, nil
}
