package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/application"
	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/store"
)

// Handler holds all HTTP handler methods of the surface panel.
type Handler struct {
	engine *application.Engine
	hub    *Hub
	now    func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(engine *application.Engine, hub *Hub) *Handler {
	return &Handler{engine: engine, hub: hub, now: time.Now}
}

// notificationView is a record as the surface renders it.
type notificationView struct {
	domain.Record
	TimeLabel string `json:"time_label"`
	Estimated bool   `json:"time_estimated,omitempty"`
}

// --- REST Handlers ---

// ListNotifications GET /notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	filter := store.Filter{
		UnreadOnly: c.QueryParam("unread_only") == "true" || c.QueryParam("is_read") == "false",
		Query:      c.QueryParam("q"),
		Limit:      parseIntQuery(c, "limit", 20),
		Offset:     parseIntQuery(c, "offset", 0),
	}
	for _, raw := range c.QueryParams()["category"] {
		for _, cat := range strings.Split(raw, ",") {
			if cat = strings.TrimSpace(strings.ToLower(cat)); cat != "" {
				filter.Categories = append(filter.Categories, domain.Category(cat))
			}
		}
	}

	records := h.engine.Store().View(filter)
	now := h.now()
	views := make([]notificationView, 0, len(records))
	for _, r := range records {
		views = append(views, notificationView{
			Record:    r,
			TimeLabel: domain.TimeLabel(r.CreatedAt, r.TimeEstimated(), now),
			Estimated: r.TimeEstimated(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data":   views,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"unread": h.engine.UnreadCount(),
	})
}

// GetUnreadCount GET /notifications/unread-count
func (h *Handler) GetUnreadCount(c echo.Context) error {
	resp := map[string]any{"count": h.engine.UnreadCount()}
	if n, ok := h.engine.ServerUnread(); ok {
		resp["server_count"] = n
	}
	return c.JSON(http.StatusOK, resp)
}

// MarkRead PATCH /notifications/:id/read
func (h *Handler) MarkRead(c echo.Context) error {
	if err := h.engine.MarkRead(c.Request().Context(), c.Param("id")); err != nil {
		return backendError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkAllRead POST /notifications/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	if err := h.engine.MarkAllRead(c.Request().Context()); err != nil {
		return backendError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete DELETE /notifications/:id
func (h *Handler) Delete(c echo.Context) error {
	if err := h.engine.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return backendError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Refresh POST /notifications/refresh
func (h *Handler) Refresh(c echo.Context) error {
	if err := h.engine.Refresh(c.Request().Context()); err != nil {
		return backendError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": h.engine.Store().Len()})
}

// LoadMore POST /notifications/more
func (h *Handler) LoadMore(c echo.Context) error {
	n, err := h.engine.LoadMore(c.Request().Context())
	if err != nil {
		return backendError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"loaded": n})
}

// --- Surface settings ---

// GetSettings GET /settings
func (h *Handler) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Config())
}

// PutSettings PUT /settings
func (h *Handler) PutSettings(c echo.Context) error {
	var cfg domain.ChannelConfig
	if err := json.NewDecoder(c.Request().Body).Decode(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "settings must be an object of boolean toggles")
	}
	h.engine.UpdateConfig(cfg)
	log.Info().Bool("live_enabled", cfg.LiveEnabled()).Msg("surface settings updated")
	return c.JSON(http.StatusOK, h.engine.Config())
}

type presenceRequest struct {
	Hidden        bool `json:"hidden"`
	PushPermitted bool `json:"push_permitted"`
}

// Presence POST /surface/presence
func (h *Handler) Presence(c echo.Context) error {
	var req presenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid presence body")
	}
	h.hub.SetPresence(req.Hidden, req.PushPermitted)
	return c.NoContent(http.StatusNoContent)
}

type credentialRequest struct {
	Token string `json:"token"`
}

// Credential PUT /surface/credential
func (h *Handler) Credential(c echo.Context) error {
	var req credentialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid credential body")
	}
	h.engine.UpdateCredential(req.Token)
	return c.JSON(http.StatusOK, map[string]string{"stream": h.engine.StreamState().String()})
}

// --- SSE Handler ---

// Stream GET /notifications/stream, the surface's SSE endpoint
func (h *Handler) Stream(c echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx/APISIX buffering
	w.WriteHeader(http.StatusOK)

	sendCh := make(chan []byte, 32)
	client := h.hub.Register(sendCh)
	defer h.hub.Unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\",\"unread\":%d}\n\n", h.engine.UnreadCount())
	w.Flush()

	tenant, _ := c.Get("tenantKey").(string)
	log.Info().Str("tenant", tenant).Msg("SSE stream opened")

	ctx := c.Request().Context()
	for {
		select {
		case msg := <-sendCh:
			if _, err := w.Write(msg); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Info().Msg("SSE stream closed by client")
			return nil
		}
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"mounted":     h.engine.Mounted(),
		"stream":      h.engine.StreamState().String(),
		"sse_clients": h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

// backendError maps an engine error. The local change has already been
// applied and a signal emitted, so the surface only needs to know the
// backend did not confirm it.
func backendError(err error) error {
	if errors.Is(err, application.ErrNotMounted) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
