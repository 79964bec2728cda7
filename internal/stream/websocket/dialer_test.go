package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/notification-engine/internal/stream/websocket"
)

var upgrader = gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newServer(t *testing.T) *httptest.Server {
	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		if c.QueryParam("token") != "tok" || c.Request().Header.Get("Authorization") != "Bearer tok" {
			return echo.ErrUnauthorized
		}
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer ws.Close()
		_ = ws.WriteMessage(gws.TextMessage, []byte(`{"type":"notification","id":"w1"}`))
		_ = ws.WriteMessage(gws.TextMessage, []byte(`{"type":"unread_count","count":1}`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return nil
			}
		}
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestDial_ReadsMessages(t *testing.T) {
	srv := newServer(t)
	d := websocket.New(wsURL(srv))
	d.TokenParam = "token"

	conn, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)

	first, err := conn.Next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"notification","id":"w1"}`, string(first))

	second, err := conn.Next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unread_count","count":1}`, string(second))

	done := make(chan error, 1)
	go func() {
		_, err := conn.Next(context.Background())
		done <- err
	}()
	require.NoError(t, conn.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestDial_Unauthorized(t *testing.T) {
	srv := newServer(t)
	d := websocket.New(wsURL(srv))

	_, err := d.Dial(context.Background(), "tok")
	assert.ErrorContains(t, err, "401")
}
