package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/store"
	"vn.io.arda/notification-engine/internal/stream"
)

// MockBackend is a mock implementation of domain.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) FetchPage(ctx context.Context, page domain.Page) ([]json.RawMessage, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *MockBackend) MarkRead(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBackend) MarkAllRead(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBackend) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// pipeConn hands frames written by the test to the engine.
type pipeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *pipeConn) Next(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type pipeDialer struct {
	mu    sync.Mutex
	conns []*pipeConn
}

func (d *pipeDialer) Dial(context.Context, string) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &pipeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *pipeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *pipeDialer) last() *pipeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recordingSink remembers the ids it was fired for.
type recordingSink struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSink) Fire(_ context.Context, r domain.Record) error {
	s.mu.Lock()
	s.ids = append(s.ids, r.ID)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) fired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type signalLog struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (l *signalLog) record(s domain.Signal) {
	l.mu.Lock()
	l.signals = append(l.signals, s)
	l.mu.Unlock()
}

func (l *signalLog) all() []domain.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Signal(nil), l.signals...)
}

var storeAll = store.Filter{}
