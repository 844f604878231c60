package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const RelayChannel = "taskboard:events"

// Relay mirrors the local hub across instances through Redis pub/sub.
// Publish delivers locally and queues the event for Redis; Run moves queued
// events out and feeds events from other instances into the hub.
type Relay struct {
	hub     *Hub
	client  redis.UniversalClient
	channel string
	origin  string
	out     chan Event
	logger  zerolog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

var _ Publisher = (*Relay)(nil)

func NewRelay(hub *Hub, client redis.UniversalClient, logger zerolog.Logger) *Relay {
	return &Relay{
		hub:     hub,
		client:  client,
		channel: RelayChannel,
		origin:  uuid.New().String(),
		out:     make(chan Event, hub.buffer*4),
		logger:  logger.With().Str("component", "fanout-relay").Logger(),
		ready:   make(chan struct{}),
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Publish never blocks; when the outbound queue is full the event still
// reaches local subscribers but not other instances.
func (r *Relay) Publish(e Event) {
	r.hub.Publish(e)
	e.Origin = r.origin
	select {
	case r.out <- e:
	default:
		r.logger.Warn().Str("type", string(e.Type)).Msg("relay queue full, event not forwarded")
	}
}

// Ready is closed after the first successful subscription.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.forward(ctx) })
	g.Go(func() error { return r.receive(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Relay) forward(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-r.out:
			data, err := json.Marshal(e)
			if err != nil {
				r.logger.Error().Err(err).Msg("relay encode failed")
				continue
			}
			if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
				r.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("relay publish failed")
			}
		}
	}
}

func (r *Relay) receive(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		pubsub := r.client.Subscribe(ctx, r.channel)
		defer pubsub.Close()

		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			r.logger.Warn().Err(err).Msg("relay subscribe failed")
			return err
		}
		b.Reset()
		r.readyOnce.Do(func() { close(r.ready) })
		r.logger.Info().Str("channel", r.channel).Msg("relay subscribed")

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case msg, ok := <-ch:
				if !ok {
					return errors.New("relay subscription closed")
				}
				r.deliver(msg.Payload)
			}
		}
	}

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (r *Relay) deliver(payload string) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		r.logger.Warn().Err(err).Msg("relay dropped malformed event")
		return
	}
	if e.Origin == r.origin {
		return
	}
	r.hub.Publish(e)
}
