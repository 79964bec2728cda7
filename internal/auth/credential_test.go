package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/notification-engine/internal/auth"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestUsable(t *testing.T) {
	now := time.Now()

	valid := sign(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()})
	expired := sign(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Minute).Unix()})
	noExp := sign(t, jwt.MapClaims{"sub": "u1"})

	assert.True(t, auth.Usable(valid, now))
	assert.False(t, auth.Usable(expired, now))
	assert.True(t, auth.Usable(noExp, now))
	assert.True(t, auth.Usable("opaque-api-key", now))
	assert.False(t, auth.Usable("  ", now))
}

func TestSubjectAndRealm(t *testing.T) {
	tok := sign(t, jwt.MapClaims{"sub": "user-7", "iss": "http://keycloak:8080/realms/acme"})

	assert.Equal(t, "user-7", auth.Subject(tok))
	assert.Equal(t, "acme", auth.Realm(tok))
	assert.Empty(t, auth.Subject("opaque"))
	assert.Empty(t, auth.Realm("opaque"))
}

func TestStatic(t *testing.T) {
	s := auth.NewStatic("")
	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoCredential)

	s.Set("abc")
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}
