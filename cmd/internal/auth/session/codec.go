package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is carried in the "typ" claim so a token minted for one purpose
// is never accepted for another.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeReset   TokenType = "reset"
)

// TokenClaims is the JWT payload for every warden token.
//
// sub is the user id. Refresh tokens carry a unique jti; access tokens carry
// the session id in sid.
type TokenClaims struct {
	Type      TokenType `json:"typ"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 JWTs.
type Codec struct {
	issuer string
	leeway time.Duration
}

// NewCodec returns a Codec bound to issuer with the given exp leeway.
func NewCodec(issuer string, leeway time.Duration) Codec {
	return Codec{issuer: issuer, leeway: leeway}
}

// Sign stamps iss, iat and exp on claims and signs them with secret.
// The returned expiry is the exp claim as encoded (second precision).
func (c Codec) Sign(claims TokenClaims, secret []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrConfig
	}
	if claims.Type == "" || claims.Subject == "" {
		return "", time.Time{}, fmt.Errorf("session: sign: missing typ or sub")
	}

	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, method, issuer, exp and token type.
func (c Codec) Verify(token string, secret []byte, want TokenType, now time.Time) (TokenClaims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	return c.parse(p, token, secret, want)
}

// VerifyIgnoringExpiry checks signature, method, issuer and token type only.
// Reserved for reuse detection, where an expired but genuine token still
// identifies its owner.
func (c Codec) VerifyIgnoringExpiry(token string, secret []byte, want TokenType) (TokenClaims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims, err := c.parse(p, token, secret, want)
	if err != nil {
		return TokenClaims{}, err
	}
	if claims.Issuer != c.issuer {
		return TokenClaims{}, fmt.Errorf("%w: issuer", ErrInvalidToken)
	}
	return claims, nil
}

func (c Codec) parse(p *jwt.Parser, token string, secret []byte, want TokenType) (TokenClaims, error) {
	if token == "" || len(token) > maxTokenLen {
		return TokenClaims{}, ErrInvalidToken
	}
	if len(secret) == 0 {
		return TokenClaims{}, ErrConfig
	}

	var claims TokenClaims
	parsed, err := p.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return TokenClaims{}, ErrInvalidToken
	}
	if claims.Type != want {
		return TokenClaims{}, fmt.Errorf("%w: type %q", ErrInvalidToken, claims.Type)
	}
	if claims.Subject == "" {
		return TokenClaims{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims, nil
}

// maxTokenLen bounds inputs before any parsing work.
const maxTokenLen = 4096

func jwtSubject(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: sub}
}
