// Package stream owns the live push connection of one surface. It keeps at
// most one connection open, follows the live-delivery toggle and credential,
// decodes frames through the frames registry and hands normalized events to
// a single handler.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"vn.io.arda/notification-engine/internal/auth"
	"vn.io.arda/notification-engine/internal/frames"
)

// State is the connection state of the adapter.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is one open push connection.
type Conn interface {
	// Next blocks until the next raw frame arrives, the connection fails or
	// ctx is done.
	Next(ctx context.Context) ([]byte, error)
	// Close must be safe to call more than once and from another goroutine.
	Close() error
}

// Dialer opens push connections. Implementations live in the sse,
// websocket and kafka subpackages.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, credential string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, credential string) (Conn, error) {
	return f(ctx, credential)
}

// Handler receives every decoded event, in arrival order, from the session
// goroutine. It must not call back into the Adapter.
type Handler func(frames.Event)

// Option configures an Adapter.
type Option func(*Adapter)

// WithBackoff sets the reconnect policy: exponential from base, capped at
// maxDelay, with 20% jitter, giving up after maxRetries consecutive failures.
func WithBackoff(base, maxDelay time.Duration, maxRetries uint64) Option {
	return func(a *Adapter) {
		a.newBackoff = func() retry.Backoff {
			b := retry.NewExponential(base)
			b = retry.WithJitterPercent(20, b)
			b = retry.WithCappedDuration(maxDelay, b)
			return retry.WithMaxRetries(maxRetries, b)
		}
	}
}

// WithClock overrides time.Now for frame normalization and credential checks.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithStateHook registers a function called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(a *Adapter) { a.onState = fn }
}

// WithErrorHook registers a function called whenever a connection attempt
// fails or an open connection drops. attempt counts failures since the last
// successful connection; giveUp is set when the backoff is exhausted.
func WithErrorHook(fn func(err error, attempt int, giveUp bool)) Option {
	return func(a *Adapter) { a.onError = fn }
}

// Adapter is the live stream state machine:
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> Connecting ...
type Adapter struct {
	dialer     Dialer
	handler    Handler
	newBackoff func() retry.Backoff
	now        func() time.Time
	onState    func(State)
	onError    func(err error, attempt int, giveUp bool)

	state atomic.Int32

	opMu    sync.Mutex // serializes Apply, Disconnect and Close
	session *session
	closed  bool
}

type session struct {
	credential string
	cancel     context.CancelFunc
	done       chan struct{}
}

func (s *session) running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// NewAdapter creates a disconnected Adapter.
func NewAdapter(dialer Dialer, handler Handler, opts ...Option) *Adapter {
	a := &Adapter{
		dialer:  dialer,
		handler: handler,
		now:     time.Now,
	}
	WithBackoff(time.Second, 30*time.Second, 8)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current connection state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Apply reconciles the connection with the latest live toggle and
// credential. Without both the adapter stays disconnected; that is not an
// error. A new credential restarts the session.
func (a *Adapter) Apply(liveEnabled bool, credential string) {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	if a.closed {
		return
	}

	want := liveEnabled && auth.Usable(credential, a.now())
	cur := a.session
	if cur != nil && !cur.running() {
		a.session, cur = nil, nil
	}

	switch {
	case !want:
		if cur != nil {
			log.Info().Bool("live_enabled", liveEnabled).Msg("stream: disconnecting, live delivery not permitted")
			a.stopLocked()
		}
	case cur == nil:
		a.startLocked(credential)
	case cur.credential != credential:
		log.Info().Msg("stream: credential changed, reconnecting")
		a.stopLocked()
		a.startLocked(credential)
	}
}

// Disconnect closes the connection. The adapter does not reconnect until a
// later Apply asks for it.
func (a *Adapter) Disconnect() {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	a.stopLocked()
}

// Close disconnects for good; later Apply calls are ignored.
func (a *Adapter) Close() {
	a.opMu.Lock()
	defer a.opMu.Unlock()
	a.stopLocked()
	a.closed = true
}

func (a *Adapter) startLocked(credential string) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{credential: credential, cancel: cancel, done: make(chan struct{})}
	a.session = s
	go a.run(ctx, s)
}

// stopLocked cancels the current session and waits for it to finish, so a
// new session never overlaps the old one.
func (a *Adapter) stopLocked() {
	s := a.session
	if s == nil {
		return
	}
	a.session = nil
	s.cancel()
	<-s.done
}

func (a *Adapter) setState(s State) {
	if State(a.state.Swap(int32(s))) == s {
		return
	}
	log.Debug().Str("state", s.String()).Msg("stream: state changed")
	if a.onState != nil {
		a.onState(s)
	}
}

func (a *Adapter) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer a.setState(Disconnected)

	backoff := a.newBackoff()
	attempt := 0
	for {
		a.setState(Connecting)
		conn, err := a.dialer.Dial(ctx, s.credential)
		if err == nil {
			a.setState(Connected)
			log.Info().Msg("stream: connected")
			backoff = a.newBackoff()
			attempt = 0
			err = a.consume(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}
		a.setState(Disconnected)

		attempt++
		wait, stop := backoff.Next()
		if a.onError != nil {
			a.onError(err, attempt, stop)
		}
		if stop {
			log.Error().Err(err).Msg("stream: giving up reconnecting")
			return
		}
		log.Warn().Err(err).Dur("retry_in", wait).Msg("stream: connection lost, reconnecting")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (a *Adapter) consume(ctx context.Context, conn Conn) error {
	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stopWatch()
		_ = conn.Close()
	}()

	for {
		data, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		ev, ok := frames.Decode(data, a.now())
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.handler(ev)
	}
}
