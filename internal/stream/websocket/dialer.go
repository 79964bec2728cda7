// Package websocket dials a WebSocket push endpoint that sends JSON text
// frames of the form {"type": "...", ...}.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vn.io.arda/notification-engine/internal/stream"
)

const (
	handshakeTimeout = 10 * time.Second
	// readLimit bounds a single inbound frame.
	readLimit = 1 << 20
)

// Dialer opens WebSocket connections.
type Dialer struct {
	url    string
	dialer *websocket.Dialer
	// TokenParam, when set, also passes the credential as a query parameter,
	// for gateways that cannot read headers on the upgrade request.
	TokenParam string
}

// New creates a Dialer for a ws:// or wss:// url.
func New(rawURL string) *Dialer {
	return &Dialer{
		url: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial opens the connection with credential as bearer token.
func (d *Dialer) Dial(ctx context.Context, credential string) (stream.Conn, error) {
	target := d.url
	if d.TokenParam != "" {
		u, err := url.Parse(d.url)
		if err != nil {
			return nil, fmt.Errorf("parse websocket url: %w", err)
		}
		q := u.Query()
		q.Set(d.TokenParam, credential)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	ws, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: status=%d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	ws.SetReadLimit(readLimit)
	return &conn{ws: ws}, nil
}

type conn struct {
	ws   *websocket.Conn
	once sync.Once
}

// Next returns the next text or binary message. Control frames are handled
// by gorilla internally. ReadMessage does not observe ctx; the adapter
// closes the connection when ctx ends, which unblocks it.
func (c *conn) Next(ctx context.Context) ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read websocket: %w", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
