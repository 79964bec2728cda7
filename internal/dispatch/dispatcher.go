// Package dispatch decides which side-effect channels fire for a newly
// accepted notification and fires them.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/domain"
)

// Sink executes one delivery channel (play a sound, show a toast, ...).
type Sink interface {
	Fire(ctx context.Context, r domain.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r domain.Record) error

func (f SinkFunc) Fire(ctx context.Context, r domain.Record) error { return f(ctx, r) }

// Host exposes the environment state OS push depends on. Both values are
// read on every dispatch.
type Host interface {
	PushPermitted() bool
	Hidden() bool
}

// ConfigSource yields the current channel configuration.
type ConfigSource interface {
	Current() domain.ChannelConfig
}

// Dispatcher fires delivery channels for new notifications.
type Dispatcher struct {
	sinks map[domain.Channel]Sink
	host  Host
	cfg   ConfigSource
	wg    sync.WaitGroup
}

// New creates a Dispatcher. Channels without a sink never fire; a nil host
// denies OS push.
func New(cfg ConfigSource, host Host, sinks map[domain.Channel]Sink) *Dispatcher {
	own := make(map[domain.Channel]Sink, len(sinks))
	for ch, s := range sinks {
		if s != nil {
			own[ch] = s
		}
	}
	return &Dispatcher{sinks: own, host: host, cfg: cfg}
}

// Plan returns the channels that would fire for r without firing them.
func (d *Dispatcher) Plan(r domain.Record, isNew bool) []domain.Channel {
	if !isNew {
		return nil
	}
	cfg := d.cfg.Current()
	if !cfg.LiveEnabled() {
		return nil
	}

	var out []domain.Channel
	for _, ch := range domain.Channels {
		if _, ok := d.sinks[ch]; !ok || !cfg.Allows(ch, r.Category) {
			continue
		}
		if ch == domain.ChannelPush && !d.pushAvailable() {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// Dispatch fires every allowed channel for r and returns which ones were
// started. Each channel runs on its own goroutine; a failing or panicking
// channel is logged and never affects the others.
func (d *Dispatcher) Dispatch(ctx context.Context, r domain.Record, isNew bool) []domain.Channel {
	planned := d.Plan(r, isNew)
	for _, ch := range planned {
		d.fire(ctx, ch, d.sinks[ch], r)
	}
	if len(planned) > 0 {
		log.Debug().Str("id", r.ID).Str("category", string(r.Category)).Interface("channels", planned).Msg("dispatch: channels fired")
	}
	return planned
}

// Wait blocks until every in-flight channel has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) pushAvailable() bool {
	return d.host != nil && d.host.PushPermitted() && d.host.Hidden()
}

func (d *Dispatcher) fire(ctx context.Context, ch domain.Channel, s Sink, r domain.Record) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Str("channel", string(ch)).Str("id", r.ID).Err(fmt.Errorf("panic: %v", p)).Msg("dispatch: channel panicked")
			}
		}()
		if err := s.Fire(ctx, r); err != nil {
			log.Warn().Err(err).Str("channel", string(ch)).Str("id", r.ID).Msg("dispatch: channel failed")
		}
	}()
}
