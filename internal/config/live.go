package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/domain"
)

// Live is the channel configuration as a live value: every read returns the
// latest settings and subscribers hear about each change.
type Live struct {
	mu     sync.RWMutex
	cur    domain.ChannelConfig
	nextID int
	subs   map[int]func(domain.ChannelConfig)
}

// NewLive creates a Live source holding initial.
func NewLive(initial domain.ChannelConfig) *Live {
	if initial == nil {
		initial = domain.ChannelConfig{}
	}
	return &Live{cur: initial.Clone(), subs: make(map[int]func(domain.ChannelConfig))}
}

// Current returns a copy of the latest configuration.
func (l *Live) Current() domain.ChannelConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur.Clone()
}

// Set replaces the configuration and notifies subscribers synchronously.
func (l *Live) Set(cfg domain.ChannelConfig) {
	l.mu.Lock()
	l.cur = cfg.Clone()
	fns := make([]func(domain.ChannelConfig), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(cfg.Clone())
	}
}

// Subscribe registers fn for every future Set and returns a cancel function.
func (l *Live) Subscribe(fn func(domain.ChannelConfig)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// WatchChannels re-reads the "channels" section whenever the config file
// changes and pushes it into live.
func (c *Config) WatchChannels(live *Live) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		log.Debug().Msg("config: no config file in use, channel hot-reload disabled")
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		var channels map[string]bool
		if err := c.v.UnmarshalKey("channels", &channels); err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("config: failed to reload channel settings")
			return
		}
		live.Set(domain.ChannelConfig(channels))
		log.Info().Str("file", e.Name).Msg("config: channel settings reloaded")
	})
	c.v.WatchConfig()
}
