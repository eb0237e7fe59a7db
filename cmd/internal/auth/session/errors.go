package session

import "errors"

// Kind groups session errors for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindLocked
)

var (
	// ErrUnauthorized is returned when no session credential was presented.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken is returned when a token fails signature, expiry or type checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrReuseDetected is returned when a refresh token unknown to the store is
	// presented. All sessions of the token's owner have been revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrUserNotFound is returned when the user behind a valid session no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserSuspended is returned when the session owner is suspended.
	ErrUserSuspended = errors.New("user suspended")

	// ErrRecordNotFound is returned by stores when no record matches.
	ErrRecordNotFound = errors.New("session record not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrReuseDetected):
		return KindForbidden
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, ErrUserSuspended):
		return KindLocked
	default:
		return KindInternal
	}
}
