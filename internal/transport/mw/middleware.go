package mw

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/auth"
	"vn.io.arda/notification-engine/internal/domain"
)

// OwnerAuth admits only the owner of the engine's inbox. The bearer token
// must be usable and belong to the same subject as the engine's credential;
// opaque tokens must match exactly. While the engine holds no credential any
// usable token is admitted, so a surface can log in.
// The validated claims are stored in echo.Context for downstream use.
func OwnerAuth(creds domain.CredentialSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if !auth.Usable(tokenStr, time.Now()) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token expired or empty")
			}

			owner, err := creds.Token(c.Request().Context())
			if err == nil && !sameOwner(owner, tokenStr) {
				log.Warn().Str("subject", auth.Subject(tokenStr)).Msg("surface request from a different user rejected")
				return echo.NewHTTPError(http.StatusForbidden, "token does not belong to this inbox")
			}

			c.Set("userID", auth.Subject(tokenStr))
			c.Set("realm", auth.Realm(tokenStr))
			return next(c)
		}
	}
}

// TenantResolver resolves the tenantKey from the X-Tenant-Key header,
// falling back to the realm of the token.
func TenantResolver() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantKey := c.Request().Header.Get("X-Tenant-Key")
			if tenantKey == "" {
				tenantKey, _ = c.Get("realm").(string)
			}
			c.Set("tenantKey", tenantKey)
			return next(c)
		}
	}
}

func sameOwner(owner, presented string) bool {
	if owner == presented {
		return true
	}
	sub := auth.Subject(owner)
	return sub != "" && sub == auth.Subject(presented)
}
