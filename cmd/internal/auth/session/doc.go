// Package session implements warden's refresh-token sessions.
//
// A session is one refresh-token grant for one device. The Service issues an
// access/refresh pair, rotates the refresh token on every use, and revokes
// sessions one at a time or per user. Presenting a refresh token the store no
// longer knows (already rotated, revoked, or never issued) is treated as
// theft: if the token still carries a valid signature every session of its
// owner is revoked.
//
// Tokens are HS256 JWTs. Refresh tokens are stored only as a keyed digest
// (see cmd/security/token). Every issue/rotate/revoke runs in one store
// transaction; rotation locks the record so concurrent rotations of the same
// token yield exactly one success.
//
// Transport (HTTP/WS) lives in the api and realtime packages.
package session
