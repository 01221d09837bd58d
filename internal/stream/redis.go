package stream

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rsvpdesk/internal/model"
)

const redisChannelBuffer = 100

// Redis uses pub/sub channels named "rsvp:<event id>". The client reconnects
// on its own, so a repeated subscribe confirmation is treated as a drop: the
// gap between the two confirmations may have lost messages.
type Redis struct {
	client *redis.Client
	log    *zerolog.Logger
}

func NewRedis(client *redis.Client, log *zerolog.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func RedisChannel(eventID uuid.UUID) string {
	return "rsvp:" + eventID.String()
}

func (r *Redis) Publish(ctx context.Context, change model.Change) error {
	body, err := Encode(change)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, RedisChannel(change.EventID), body).Err(); err != nil {
		return fmt.Errorf("publish change: %w: %w", model.ErrTransient, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, eventID uuid.UUID, onChange Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, RedisChannel(eventID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w: %w", model.ErrTransient, err)
	}

	sub := newSubscription()
	sub.release = func() { _ = ps.Close() }
	msgs := ps.ChannelWithSubscriptions(ctx, redisChannelBuffer)

	exited := make(chan struct{})
	sub.exited = exited
	go func() {
		defer close(exited)
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					sub.finish(ErrDropped)
					return
				}
				switch m := msg.(type) {
				case *redis.Subscription:
					if m.Kind == "subscribe" {
						r.log.Warn().Str("event_id", eventID.String()).Msg("redis resubscribed, treating as drop")
						sub.finish(ErrDropped)
						return
					}
				case *redis.Message:
					change, err := Decode([]byte(m.Payload))
					if err != nil {
						r.log.Warn().Err(err).Msg("skipping malformed change")
						continue
					}
					if change.EventID == eventID && !sub.stopped() {
						onChange(change)
					}
				}
			}
		}
	}()
	bind(ctx, sub)
	return sub, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
