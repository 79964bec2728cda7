package mw_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/notification-engine/internal/auth"
	"vn.io.arda/notification-engine/internal/transport/mw"
)

func token(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iss": "http://keycloak:8080/realms/acme",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, creds *auth.Static, bearer, tenant string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	e := echo.New()
	seen := map[string]string{}
	e.GET("/", func(c echo.Context) error {
		seen["userID"], _ = c.Get("userID").(string)
		seen["tenantKey"], _ = c.Get("tenantKey").(string)
		return c.NoContent(http.StatusOK)
	}, mw.OwnerAuth(creds), mw.TenantResolver())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-Key", tenant)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestOwnerAuth(t *testing.T) {
	future := time.Now().Add(time.Hour)
	owner := token(t, "user-1", future)

	t.Run("missing bearer", func(t *testing.T) {
		rec, _ := serve(t, auth.NewStatic(owner), "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		rec, _ := serve(t, auth.NewStatic(owner), token(t, "user-1", time.Now().Add(-time.Hour)), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("same subject, refreshed token", func(t *testing.T) {
		rec, seen := serve(t, auth.NewStatic(owner), token(t, "user-1", future.Add(time.Minute)), "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", seen["userID"])
		assert.Equal(t, "acme", seen["tenantKey"])
	})

	t.Run("other user", func(t *testing.T) {
		rec, _ := serve(t, auth.NewStatic(owner), token(t, "user-2", future), "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("opaque tokens compare exactly", func(t *testing.T) {
		rec, _ := serve(t, auth.NewStatic("opaque-a"), "opaque-a", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		rec, _ = serve(t, auth.NewStatic("opaque-a"), "opaque-b", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("logged out engine admits login", func(t *testing.T) {
		rec, _ := serve(t, auth.NewStatic(""), owner, "tenant-x")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("header tenant wins", func(t *testing.T) {
		_, seen := serve(t, auth.NewStatic(owner), owner, "tenant-x")
		assert.Equal(t, "tenant-x", seen["tenantKey"])
	})
}
