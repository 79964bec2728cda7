// Package kafka consumes the notification fan-out topic directly. Each
// surface reads from the end of the topic without a consumer group, keeping
// only records addressed to the credential's subject.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/notification-engine/internal/auth"
	"vn.io.arda/notification-engine/internal/frames"
	"vn.io.arda/notification-engine/internal/stream"
)

// ErrNoSubject is returned when the credential does not identify a user.
var ErrNoSubject = errors.New("kafka stream: credential has no subject")

// Dialer opens Kafka-backed live connections.
type Dialer struct {
	brokers []string
	topic   string
	opts    []kgo.Opt
}

// New creates a Dialer. Extra options are appended to the client options.
func New(brokers []string, topic string, opts ...kgo.Opt) *Dialer {
	return &Dialer{brokers: brokers, topic: topic, opts: opts}
}

// Dial creates a client positioned at the end of the topic.
func (d *Dialer) Dial(ctx context.Context, credential string) (stream.Conn, error) {
	user := auth.Subject(credential)
	if user == "" {
		return nil, ErrNoSubject
	}

	opts := append([]kgo.Opt{
		kgo.SeedBrokers(d.brokers...),
		kgo.ConsumeTopics(d.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}, d.opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka: %w", err)
	}

	log.Debug().Str("topic", d.topic).Str("user", user).Msg("kafka stream: consuming")
	return &conn{client: client, user: user}, nil
}

type conn struct {
	client  *kgo.Client
	user    string
	pending []*kgo.Record
	once    sync.Once
}

// Next returns the next record addressed to the user, as a frame.
func (c *conn) Next(ctx context.Context) ([]byte, error) {
	for {
		for len(c.pending) > 0 {
			r := c.pending[0]
			c.pending = c.pending[1:]
			if frame, ok := c.frame(r); ok {
				return frame, nil
			}
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil, errors.New("kafka stream: client closed")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var firstErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka stream: fetch error")
			if firstErr == nil {
				firstErr = err
			}
		})
		if firstErr != nil {
			return nil, fmt.Errorf("kafka fetch: %w", firstErr)
		}
		fetches.EachRecord(func(r *kgo.Record) {
			c.pending = append(c.pending, r)
		})
	}
}

// frame keeps records for c.user (record key, or the user_id field for
// unkeyed producers) and routes them by the "type" header, defaulting to
// a notification frame.
func (c *conn) frame(r *kgo.Record) ([]byte, bool) {
	owner := string(r.Key)
	if owner == "" {
		owner = gjson.GetBytes(r.Value, "user_id").String()
	}
	if owner != c.user {
		return nil, false
	}

	frameType := string(frames.KindNotification)
	for _, h := range r.Headers {
		if h.Key == "type" && len(h.Value) > 0 {
			frameType = string(h.Value)
		}
	}
	return frames.Envelope(frameType, r.Value), true
}

func (c *conn) Close() error {
	c.once.Do(c.client.Close)
	return nil
}
