package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	subscribeRetryMin = time.Second
	subscribeRetryMax = 30 * time.Second
)

// envelope wraps an event on the bus with the id of the process that
// produced it, so a process never relays its own events back out and
// relay loops cannot form.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Backplane replicates change events across server processes through a
// shared Redis pub/sub channel. Delivery is at-most-once by design: a
// failed publish degrades to local-only broadcast and the board store
// stays the source of truth for resync.
type Backplane struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

func NewBackplane(client *redis.Client, channel string, logger *slog.Logger) *Backplane {
	return &Backplane{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin is this process's bus identifier.
func (b *Backplane) Origin() string {
	return b.origin
}

// Publish sends a locally produced event to the bus. Callers treat a
// returned error as "remote fan-out unavailable" and carry on with the
// local broadcast; no retry queue is kept.
func (b *Backplane) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes to the bus and hands every remote-origin event to
// deliver. It blocks until ctx is cancelled, resubscribing with
// backoff whenever the connection drops.
func (b *Backplane) Run(ctx context.Context, deliver func(Event)) {
	backoff := subscribeRetryMin
	for {
		pubsub := b.client.Subscribe(ctx, b.channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("backplane subscribe failed", "channel", b.channel, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > subscribeRetryMax {
				backoff = subscribeRetryMax
			}
			continue
		}
		backoff = subscribeRetryMin
		b.logger.Info("backplane subscribed", "channel", b.channel, "origin", b.origin)

		b.consume(ctx, pubsub, deliver)
		pubsub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("backplane connection lost, resubscribing", "channel", b.channel)
	}
}

func (b *Backplane) consume(ctx context.Context, pubsub *redis.PubSub, deliver func(Event)) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("backplane dropped malformed event", "error", err)
				continue
			}
			// Events this process produced come back on the bus too;
			// relaying them again would double-deliver locally.
			if env.Origin == b.origin {
				continue
			}
			deliver(env.Event)
		}
	}
}
