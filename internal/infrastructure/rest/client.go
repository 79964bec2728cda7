// Package rest talks to the arda notification service over its REST API.
// It implements domain.Backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"vn.io.arda/notification-engine/internal/domain"
)

// listPaths are probed in order for the notification array in a list
// response. A bare top-level array is accepted as well.
var listPaths = []string{"data", "notifications", "results", "items", "data.items", "data.notifications"}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d, body=%s", e.Method, e.Path, e.Code, e.Body)
}

// ErrMalformedList is returned when a list response carries no array.
var ErrMalformedList = errors.New("rest: list response has no notification array")

// Client is the REST implementation of domain.Backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      domain.CredentialSource
	// TenantKey is sent as X-Tenant-Key when set.
	TenantKey string
}

var (
	_ domain.Backend       = (*Client)(nil)
	_ domain.UnreadCounter = (*Client)(nil)
)

// New creates a Client for baseURL (e.g. "http://notification:8090").
func New(baseURL string, creds domain.CredentialSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
	}
}

// FetchPage GET /notifications?limit=&offset=
func (c *Client) FetchPage(ctx context.Context, page domain.Page) ([]json.RawMessage, error) {
	q := url.Values{}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Offset > 0 {
		q.Set("offset", strconv.Itoa(page.Offset))
	}
	path := "/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	return extractList(body)
}

// UnreadCount GET /notifications/unread-count
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "/notifications/unread-count")
	if err != nil {
		return 0, err
	}
	r := gjson.GetBytes(body, "count")
	if !r.Exists() {
		return 0, fmt.Errorf("unread count: missing count field")
	}
	return int(r.Int()), nil
}

// MarkRead PATCH /notifications/:id/read
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.mutate(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read")
}

// MarkAllRead POST /notifications/read-all
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.mutate(ctx, http.MethodPost, "/notifications/read-all")
}

// Delete DELETE /notifications/:id
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.mutate(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id))
}

// mutate treats "not found" and "conflict" as success: the target is
// already in the requested state.
func (c *Client) mutate(ctx context.Context, method, path string) error {
	_, err := c.do(ctx, method, path)
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusConflict) {
		log.Debug().Str("method", method).Str("path", path).Int("status", se.Code).Msg("rest: mutation already applied")
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.TenantKey != "" {
		req.Header.Set("X-Tenant-Key", c.TenantKey)
	}
	if c.creds != nil {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s %s: credential: %w", method, path, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

func extractList(body []byte) ([]json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedList)
	}
	root := gjson.ParseBytes(body)
	list := root
	if !root.IsArray() {
		list = gjson.Result{}
		for _, p := range listPaths {
			if r := root.Get(p); r.IsArray() {
				list = r
				break
			}
		}
		if !list.IsArray() {
			return nil, ErrMalformedList
		}
	}

	items := list.Array()
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it.Raw))
	}
	return out, nil
}
