package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials is returned when an operation needs a bearer token.
var ErrNoCredentials = errors.New("credentials required")

// Credentials carries the backend bearer token. The zero value means the
// caller is anonymous.
type Credentials struct {
	Token string
}

// Bearer wraps a raw token, trimming an optional "Bearer " prefix.
func Bearer(token string) Credentials {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return Credentials{Token: token}
}

// Present reports whether a token is available.
func (c Credentials) Present() bool {
	return c.Token != ""
}

// AuthorizationHeader renders the header value sent to the backend.
func (c Credentials) AuthorizationHeader() string {
	return "Bearer " + c.Token
}

// ExpiresAt reads the exp claim without verifying the signature; the client
// never holds the signing secret. ok is false for opaque tokens or tokens
// without exp.
func (c Credentials) ExpiresAt() (time.Time, bool) {
	if !c.Present() {
		return time.Time{}, false
	}
	token, _, err := jwt.NewParser().ParseUnverified(c.Token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the token carries an exp claim in the past.
func (c Credentials) Expired(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	return ok && !now.Before(exp)
}
