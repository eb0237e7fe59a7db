// Package verification issues and checks the short numeric codes mailed to
// users for email verification and password reset.
//
// A code is an 8-digit number paired with a UUID correlation token. Both must
// match, the code must be unexpired, and its kind must be the one asked for.
// Issuing a code replaces the user's previous codes of the same kind.
package verification
