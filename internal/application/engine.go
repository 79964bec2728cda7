// Package application wires the store, history loader, live stream and
// dispatcher into the per-surface notification engine.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/dispatch"
	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/frames"
	"vn.io.arda/notification-engine/internal/history"
	"vn.io.arda/notification-engine/internal/messages"
	"vn.io.arda/notification-engine/internal/normalize"
	"vn.io.arda/notification-engine/internal/store"
	"vn.io.arda/notification-engine/internal/stream"
)

// ErrNotMounted is returned by operations that need a mounted engine.
var ErrNotMounted = errors.New("engine: not mounted")

// ConfigSource is the live channel configuration.
// Implementation lives in config/live.go.
type ConfigSource interface {
	Current() domain.ChannelConfig
	Set(cfg domain.ChannelConfig)
	Subscribe(fn func(domain.ChannelConfig)) func()
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Backend     domain.Backend
	Dialer      stream.Dialer
	Config      ConfigSource
	Credentials domain.CredentialSource
	Host        dispatch.Host
	Sinks       map[domain.Channel]dispatch.Sink
	Reporter    domain.Reporter
	PageSize    int

	StreamOptions []stream.Option
}

// Engine owns the notification state of one surface.
type Engine struct {
	store      *store.Store
	loader     *history.Loader
	backend    domain.Backend
	adapter    *stream.Adapter
	dispatcher *dispatch.Dispatcher
	config     ConfigSource
	creds      domain.CredentialSource
	reporter   domain.Reporter

	// opMu serializes Mount, Unmount and stream reconciliation.
	opMu sync.Mutex

	alive atomic.Bool
	epoch atomic.Uint64

	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubConfig func()
	nextOffset  int

	serverUnread atomic.Int64

	failMu   sync.Mutex
	failures map[string]int
}

// New creates an unmounted Engine.
func New(d Deps) *Engine {
	e := &Engine{
		store:    store.New(),
		loader:   history.NewLoader(d.Backend, d.PageSize),
		backend:  d.Backend,
		config:   d.Config,
		creds:    d.Credentials,
		reporter: d.Reporter,
		failures: make(map[string]int),
	}
	e.serverUnread.Store(-1)
	e.dispatcher = dispatch.New(d.Config, d.Host, d.Sinks)
	opts := append(append([]stream.Option{}, d.StreamOptions...), stream.WithErrorHook(e.streamFailed))
	e.adapter = stream.NewAdapter(d.Dialer, e.handleEvent, opts...)
	return e
}

// Store exposes the engine's store for read-only views and subscriptions.
func (e *Engine) Store() *store.Store { return e.store }

// StreamState returns the live connection state.
func (e *Engine) StreamState() stream.State { return e.adapter.State() }

// Mounted reports whether the engine is mounted.
func (e *Engine) Mounted() bool { return e.alive.Load() }

// UnreadCount is the count derived from the store.
func (e *Engine) UnreadCount() int { return e.store.UnreadCount() }

// ServerUnread returns the last unread total reported by the server, if any.
func (e *Engine) ServerUnread() (int, bool) {
	n := e.serverUnread.Load()
	return int(n), n >= 0
}

// Config returns the current channel configuration.
func (e *Engine) Config() domain.ChannelConfig { return e.config.Current() }

// Mount loads history and connects the live stream when permitted. A load
// failure is reported as a signal and returned; the engine stays mounted
// and the store stays usable.
func (e *Engine) Mount(ctx context.Context) error {
	e.opMu.Lock()
	if e.alive.Load() {
		e.opMu.Unlock()
		return nil
	}
	e.epoch.Add(1)
	e.alive.Store(true)

	liveCtx, cancel := context.WithCancel(context.Background())
	unsub := e.config.Subscribe(func(domain.ChannelConfig) {
		e.Reconcile(context.Background())
	})
	e.mu.Lock()
	e.ctx, e.cancel, e.unsubConfig = liveCtx, cancel, unsub
	e.mu.Unlock()
	e.opMu.Unlock()

	log.Info().Msg("engine: mounted")
	err := e.Refresh(ctx)
	e.Reconcile(ctx)
	return err
}

// Refresh re-runs the history load. Results that arrive after Unmount are
// discarded.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.alive.Load() {
		return ErrNotMounted
	}
	epoch := e.epoch.Load()

	records, err := e.loader.Load(ctx)
	if !e.current(epoch) {
		log.Debug().Msg("engine: discarding history loaded after unmount")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("engine: history load failed")
		e.report(domain.Signal{Kind: domain.SignalLoadFailed, Message: messages.LoadFailed(), Err: err})
		return err
	}

	e.store.LoadInitial(records)
	e.mu.Lock()
	e.nextOffset = e.loader.PageSize()
	e.mu.Unlock()
	e.refreshServerUnread(ctx, epoch)

	log.Info().Int("loaded", len(records)).Int("unread", e.store.UnreadCount()).Msg("engine: history loaded")
	return nil
}

// LoadMore fetches the next history page and merges it. History records
// never trigger delivery channels.
func (e *Engine) LoadMore(ctx context.Context) (int, error) {
	if !e.alive.Load() {
		return 0, ErrNotMounted
	}
	epoch := e.epoch.Load()
	e.mu.RLock()
	offset := e.nextOffset
	e.mu.RUnlock()

	records, err := e.loader.LoadPage(ctx, offset)
	if !e.current(epoch) {
		return 0, nil
	}
	if err != nil {
		e.report(domain.Signal{Kind: domain.SignalLoadFailed, Message: messages.LoadFailed(), Err: err})
		return 0, err
	}

	for _, r := range records {
		e.store.Ingest(r)
	}
	e.mu.Lock()
	if e.nextOffset == offset {
		e.nextOffset = offset + len(records)
	}
	e.mu.Unlock()
	return len(records), nil
}

// Unmount disconnects the stream, drains in-flight delivery and makes the
// engine ignore any late asynchronous result. Mount may be called again.
func (e *Engine) Unmount() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if !e.alive.Load() {
		return
	}
	e.alive.Store(false)
	e.epoch.Add(1)

	e.mu.Lock()
	unsub, cancel := e.unsubConfig, e.cancel
	e.unsubConfig, e.cancel = nil, nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.adapter.Disconnect()
	if cancel != nil {
		cancel()
	}
	e.dispatcher.Wait()
	log.Info().Msg("engine: unmounted")
}

// Close unmounts and shuts the stream adapter down for good.
func (e *Engine) Close() {
	e.Unmount()
	e.adapter.Close()
}

// Reconcile re-evaluates whether the live stream should be connected.
func (e *Engine) Reconcile(ctx context.Context) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if !e.alive.Load() {
		return
	}

	cfg := e.config.Current()
	token, err := e.creds.Token(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("engine: no usable credential")
		token = ""
	}
	e.adapter.Apply(cfg.LiveEnabled(), token)
}

// UpdateConfig replaces the channel configuration. The config
// subscription installed by Mount re-evaluates the stream.
func (e *Engine) UpdateConfig(cfg domain.ChannelConfig) {
	e.config.Set(cfg)
}

// UpdateCredential installs a new credential, or logs out with "", and
// re-evaluates the stream. Sources that cannot be set are re-read instead.
func (e *Engine) UpdateCredential(token string) {
	if s, ok := e.creds.(interface{ Set(string) }); ok {
		s.Set(token)
	} else {
		log.Debug().Msg("engine: credential source is not settable, re-reading it")
	}
	e.Reconcile(context.Background())
}

// MarkRead marks id read locally, then on the backend.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	e.store.MarkRead(id)
	if isLocal(id) {
		return nil
	}
	return e.settle(messages.OpMarkRead, id, e.backend.MarkRead(ctx, id))
}

// MarkAllRead marks every record read locally, then on the backend.
func (e *Engine) MarkAllRead(ctx context.Context) error {
	ids := e.store.MarkAllRead()
	log.Debug().Int("marked", len(ids)).Msg("engine: marked all read locally")
	return e.settle(messages.OpMarkAllRead, "", e.backend.MarkAllRead(ctx))
}

// Delete removes id locally, then on the backend.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.store.Delete(id)
	if isLocal(id) {
		return nil
	}
	return e.settle(messages.OpDelete, id, e.backend.Delete(ctx, id))
}

// settle records the outcome of a backend mutation. The local change is
// kept either way.
func (e *Engine) settle(op, id string, err error) error {
	e.failMu.Lock()
	if err == nil {
		delete(e.failures, op)
		e.failMu.Unlock()
		return nil
	}
	e.failures[op]++
	n := e.failures[op]
	e.failMu.Unlock()

	log.Warn().Err(err).Str("op", op).Str("id", id).Int("failures", n).Msg("engine: backend mutation failed")
	e.report(domain.Signal{
		Kind:     domain.SignalMutationFailed,
		Op:       op,
		ID:       id,
		Message:  messages.MutationFailed(op, n),
		Failures: n,
		Err:      err,
	})
	return fmt.Errorf("%s %s: %w", op, id, err)
}

// streamFailed signals the first drop of a connection and the final give-up.
// Intermediate retries are only logged.
func (e *Engine) streamFailed(err error, attempt int, giveUp bool) {
	if !e.alive.Load() || (attempt > 1 && !giveUp) {
		return
	}
	e.report(domain.Signal{
		Kind:     domain.SignalStreamFailed,
		Message:  messages.StreamFailed(giveUp),
		Failures: attempt,
		Err:      err,
	})
}

func (e *Engine) handleEvent(ev frames.Event) {
	if !e.alive.Load() {
		log.Debug().Str("kind", string(ev.Kind)).Msg("engine: dropping frame received while unmounted")
		return
	}

	switch ev.Kind {
	case frames.KindNotification:
		r := ev.Record
		r.Origin = domain.OriginLive
		res := e.store.Ingest(r)
		if !res.Accepted || !res.IsNew {
			return
		}
		e.mu.RLock()
		ctx := e.ctx
		e.mu.RUnlock()
		if ctx == nil {
			return
		}
		e.dispatcher.Dispatch(ctx, r, true)

	case frames.KindUnreadCount:
		e.recordServerUnread(ev.UnreadCount)
	}
}

func (e *Engine) refreshServerUnread(ctx context.Context, epoch uint64) {
	counter, ok := e.backend.(domain.UnreadCounter)
	if !ok {
		return
	}
	n, err := counter.UnreadCount(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("engine: unread count hint unavailable")
		return
	}
	if e.current(epoch) {
		e.recordServerUnread(n)
	}
}

func (e *Engine) recordServerUnread(n int) {
	e.serverUnread.Store(int64(n))
	if local := e.store.UnreadCount(); local != n {
		log.Debug().Int("server", n).Int("local", local).Msg("engine: server unread count differs from local")
	}
}

func (e *Engine) current(epoch uint64) bool {
	return e.alive.Load() && e.epoch.Load() == epoch
}

func (e *Engine) report(s domain.Signal) {
	if e.reporter != nil {
		e.reporter.Report(s)
	}
}

func isLocal(id string) bool {
	return strings.HasPrefix(id, normalize.SyntheticPrefix)
}
