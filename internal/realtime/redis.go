package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a client and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("realtime: redis ping: %w", err)
	}
	return rdb, nil
}

// envelope is what travels over the Redis channel. Data is the already
// encoded payload so it is marshalled once, by the publishing instance.
type envelope struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisBroker is a Publisher for multi-instance deployments. Publish only
// writes to Redis; Run, started once per instance, delivers whatever
// arrives on the channel to the local Hub. The publishing instance gets its
// own message back through its subscription, so local sessions are not
// emitted to directly.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger

	// resubscribe delays used by Serve
	minBackoff time.Duration
	maxBackoff time.Duration
}

var _ Publisher = (*RedisBroker)(nil)

func NewRedisBroker(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{
		client:     client,
		channel:    channel,
		hub:        hub,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, room, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encoding %s payload: %w", event, err)
	}
	msg, err := json.Marshal(envelope{Room: room, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("realtime: encoding envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		return fmt.Errorf("realtime: redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and blocks until ctx is cancelled. The
// subscription is confirmed before Run starts consuming, so an error here
// means nothing will be delivered.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribing to %s: %w", b.channel, err)
	}
	b.logger.Info("realtime: subscribed", slog.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

// Serve keeps the subscription alive until ctx is cancelled. Whenever Run
// returns early it resubscribes, doubling the delay up to maxBackoff; a
// subscription that stayed up longer than maxBackoff resets the delay.
func (b *RedisBroker) Serve(ctx context.Context) {
	backoff := b.minBackoff
	for {
		started := time.Now()
		err := b.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > b.maxBackoff {
			backoff = b.minBackoff
		}

		attrs := []any{slog.String("channel", b.channel), slog.Duration("retry_in", backoff)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		b.logger.Warn("realtime: redis subscription lost, resubscribing", attrs...)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, b.maxBackoff)
	}
}

func (b *RedisBroker) handle(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warn("realtime: ignoring malformed envelope", slog.String("error", err.Error()))
		return
	}
	frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
	if err != nil {
		b.logger.Warn("realtime: re-encoding frame", slog.String("error", err.Error()))
		return
	}
	b.hub.deliver(env.Room, env.Event, frame)
}
