// Package auth inspects the bearer credential the engine holds. It does not
// verify signatures: the backend does that. The engine only needs to know
// whether a credential is present and not obviously expired before it opens
// a live connection, and whose inbox it belongs to.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential is returned by sources that hold no token.
var ErrNoCredential = errors.New("auth: no credential available")

// expirySkew treats tokens that are about to expire as already expired.
const expirySkew = 10 * time.Second

// Usable reports whether token may be used now. Opaque (non-JWT) tokens are
// usable when non-empty; JWTs additionally must not be expired.
func Usable(token string, now time.Time) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	claims, ok := parse(token)
	if !ok {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return now.Add(expirySkew).Before(exp.Time)
}

// Subject returns the "sub" claim of a JWT, or "" for opaque tokens.
func Subject(token string) string {
	claims, ok := parse(token)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// Realm extracts the realm name from a Keycloak issuer (".../realms/{realm}").
func Realm(token string) string {
	claims, ok := parse(token)
	if !ok {
		return ""
	}
	issuer, _ := claims.GetIssuer()
	parts := strings.Split(issuer, "/realms/")
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSuffix(parts[1], "/")
}

func parse(token string) (jwt.MapClaims, bool) {
	if strings.Count(token, ".") != 2 {
		return nil, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	return claims, ok
}

// Static is a CredentialSource holding a token that callers replace on
// login, refresh or logout.
type Static struct {
	mu    sync.RWMutex
	token string
}

// NewStatic creates a Static source.
func NewStatic(token string) *Static {
	return &Static{token: strings.TrimSpace(token)}
}

// Token returns the held token or ErrNoCredential.
func (s *Static) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoCredential
	}
	return s.token, nil
}

// Set replaces the held token. An empty token means logged out.
func (s *Static) Set(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}
