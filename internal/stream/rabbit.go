package stream

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rsvpdesk/internal/model"
	"rsvpdesk/internal/rabbit"
)

// Rabbit routes every change under "rsvp.<event id>" on a topic exchange.
type Rabbit struct {
	client *rabbit.Client
	log    *zerolog.Logger
}

func NewRabbit(client *rabbit.Client, log *zerolog.Logger) *Rabbit {
	return &Rabbit{client: client, log: log}
}

func RoutingKey(eventID uuid.UUID) string {
	return "rsvp." + eventID.String()
}

func (r *Rabbit) Publish(ctx context.Context, change model.Change) error {
	body, err := Encode(change)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, RoutingKey(change.EventID), body); err != nil {
		return fmt.Errorf("publish change: %w: %w", model.ErrTransient, err)
	}
	return nil
}

func (r *Rabbit) Subscribe(ctx context.Context, eventID uuid.UUID, onChange Handler) (Subscription, error) {
	sub := newSubscription()

	consumer, err := r.client.Consume(RoutingKey(eventID), func(body []byte) error {
		change, err := Decode(body)
		if err != nil {
			r.log.Warn().Err(err).Msg("skipping malformed change")
			return err
		}
		if change.EventID != eventID || sub.stopped() {
			return nil
		}
		onChange(change)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w: %w", model.ErrTransient, err)
	}
	sub.release = consumer.Close
	sub.exited = consumer.Done()

	go func() {
		select {
		case <-consumer.Done():
			sub.finish(dropped(consumer.Err()))
		case <-sub.done:
		}
	}()
	bind(ctx, sub)
	return sub, nil
}

func (r *Rabbit) Close() error {
	r.client.Close()
	return nil
}
