// Package identity owns warden's users: credentials, the suspension flag and
// the email-verification timestamp.
//
// The session layer only reads users (FindUserByID / FindUserByEmail); the
// HTTP layer creates them and updates passwords and verification state.
package identity
