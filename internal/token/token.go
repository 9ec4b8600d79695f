// Package token issues and verifies the signed session tokens that clients
// present on login responses and websocket handshakes. Verification is pure:
// it never touches a store.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when no token was supplied at all.
	ErrNoToken = errors.New("no token supplied")
	// ErrMalformed is returned for undecodable tokens and signature mismatches.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned when expiry is enabled and the token is past it.
	ErrExpired = errors.New("token expired")
)

// Claims carried by a session token. Only the user identity; roles are
// resolved from the store on every use so revocations take effect.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with HMAC-SHA256.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// New creates a codec. ttl <= 0 disables expiry: issued tokens are
// time-unbounded, which is the default deployment behavior.
func New(secret string, ttl time.Duration) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl}
}

// Issue produces a signed token encoding the user identity.
func (c *Codec) Issue(userID string) (string, error) {
	claims := Claims{UserID: userID}
	if c.ttl > 0 {
		now := time.Now()
		claims.IssuedAt = jwt.NewNumericDate(now)
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify returns the user id encoded in tok, or ErrNoToken, ErrExpired or
// ErrMalformed.
func (c *Codec) Verify(tok string) (string, error) {
	if tok == "" {
		return "", ErrNoToken
	}
	parsed, err := jwt.ParseWithClaims(tok, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrMalformed
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", ErrMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", ErrMalformed
	}
	return claims.UserID, nil
}
