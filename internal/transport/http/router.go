package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware of the surface panel.
func NewRouter(h *Handler, creds domain.CredentialSource) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Tenant-Key"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	}))

	// Health (no auth required)
	e.GET("/health", h.Health)

	// Surface API, owner only
	v1 := e.Group("")
	v1.Use(mw.OwnerAuth(creds))
	v1.Use(mw.TenantResolver())

	v1.GET("/notifications", h.ListNotifications)
	v1.GET("/notifications/unread-count", h.GetUnreadCount)
	v1.PATCH("/notifications/:id/read", h.MarkRead)
	v1.POST("/notifications/read-all", h.MarkAllRead)
	v1.DELETE("/notifications/:id", h.Delete)
	v1.POST("/notifications/refresh", h.Refresh)
	v1.POST("/notifications/more", h.LoadMore)

	v1.GET("/settings", h.GetSettings)
	v1.PUT("/settings", h.PutSettings)
	v1.POST("/surface/presence", h.Presence)
	v1.PUT("/surface/credential", h.Credential)

	// SSE endpoint
	v1.GET("/notifications/stream", h.Stream)

	return e
}
