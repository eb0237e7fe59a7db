// Package password hashes and verifies user passwords for warden.
//
// Hashes are bcrypt (golang.org/x/crypto/bcrypt) with a configurable cost.
// Validate enforces the length policy before hashing; bcrypt only reads the
// first 72 bytes of its input, so longer passwords are rejected rather than
// silently truncated.
package password
