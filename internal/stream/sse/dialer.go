// Package sse dials the arda notification service's Server-Sent Events
// endpoint (GET /notifications/stream).
package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync"

	gosse "github.com/tmaxmax/go-sse"

	"vn.io.arda/notification-engine/internal/frames"
	"vn.io.arda/notification-engine/internal/stream"
)

// maxEvent bounds a single SSE event.
const maxEvent = 1 << 20

// Dialer opens SSE connections.
type Dialer struct {
	url    string
	client *http.Client
	// TenantKey is sent as X-Tenant-Key when set.
	TenantKey string

	mu          sync.Mutex
	lastEventID string
}

// New creates a Dialer for url. The client must not have a Timeout, since
// the response body stays open for the lifetime of the stream.
func New(url string, client *http.Client) *Dialer {
	if client == nil {
		client = &http.Client{}
	}
	return &Dialer{url: url, client: client}
}

// Dial opens the stream with credential as bearer token. After a reconnect
// the last seen event id is sent as Last-Event-ID.
func (d *Dialer) Dial(ctx context.Context, credential string) (stream.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+credential)
	if d.TenantKey != "" {
		req.Header.Set("X-Tenant-Key", d.TenantKey)
	}
	if id := d.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open sse stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open sse stream: status=%d, body=%s", resp.StatusCode, bytes.TrimSpace(body))
	}

	events := iter.Seq2[gosse.Event, error](gosse.Read(resp.Body, &gosse.ReadConfig{MaxEventSize: maxEvent}))
	next, stop := iter.Pull2(events)
	return &conn{dialer: d, body: resp.Body, next: next, stop: stop, cancel: cancel}, nil
}

// LastEventID returns the id of the last event received on any connection.
func (d *Dialer) LastEventID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastEventID
}

func (d *Dialer) setLastEventID(id string) {
	d.mu.Lock()
	d.lastEventID = id
	d.mu.Unlock()
}

type conn struct {
	dialer *Dialer
	body   io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once

	// readMu keeps the pull iterator on one goroutine at a time.
	readMu sync.Mutex
	next   func() (gosse.Event, error, bool)
	stop   func()
}

// Next returns the next event as a frame. Events named by an "event:" line
// that carry no "type" of their own are wrapped so the registry can route
// them. Events without data are skipped.
func (c *conn) Next(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		ev, err, ok := c.next()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !ok {
			return nil, errors.New("sse stream closed by server")
		}
		if err != nil {
			return nil, fmt.Errorf("read sse stream: %w", err)
		}
		if ev.LastEventID != "" {
			c.dialer.setLastEventID(ev.LastEventID)
		}
		if ev.Data == "" {
			continue
		}
		payload := []byte(ev.Data)
		if ev.Type != "" && ev.Type != "message" {
			return frames.Envelope(ev.Type, payload), nil
		}
		return payload, nil
	}
}

// Close may run while Next is blocked: closing the body unblocks the read
// before the iterator is stopped.
func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.body.Close()
		c.readMu.Lock()
		c.stop()
		c.readMu.Unlock()
	})
	return err
}
