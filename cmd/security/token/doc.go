// Package token provides the digest used to store refresh tokens.
//
// Refresh tokens are never persisted in plaintext. A Hasher maps a token to a
// stable 64-char hex digest: HMAC-SHA256(token, key) when a key is configured,
// plain SHA-256(token) otherwise (development only).
//
// Environment:
//   - WARDEN_TOKEN_HMAC_KEY: when set, enables HMAC mode.
package token
