// Package stream carries RSVP row changes from the writers to every live guest
// list. Delivery is at-least-once and ordered per connection only; consumers
// are expected to apply changes idempotently.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"rsvpdesk/internal/model"
)

// ErrDropped is reported by Subscription.Err when the feed was lost without
// the subscriber asking for it. Changes may have been missed.
var ErrDropped = fmt.Errorf("change stream dropped: %w", model.ErrTransient)

// Handler is invoked sequentially, one change at a time.
type Handler func(model.Change)

type Subscription interface {
	// Close releases the subscription and returns once the handler has
	// returned for the last time. It is safe to call more than once, but
	// not from inside the handler.
	Close()
	Done() <-chan struct{}
	// Err is nil after a requested Close and wraps ErrDropped otherwise.
	Err() error
}

type Stream interface {
	Subscribe(ctx context.Context, eventID uuid.UUID, onChange Handler) (Subscription, error)
}

type Publisher interface {
	Publish(ctx context.Context, change model.Change) error
}

type Broker interface {
	Stream
	Publisher
	Close() error
}

func Encode(change model.Change) ([]byte, error) {
	return json.Marshal(change)
}

func Decode(body []byte) (model.Change, error) {
	var change model.Change
	if err := json.Unmarshal(body, &change); err != nil {
		return model.Change{}, fmt.Errorf("decode change: %w", err)
	}
	switch change.Kind {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		return model.Change{}, fmt.Errorf("decode change: unknown kind %q", change.Kind)
	}
	return change, nil
}

type subscription struct {
	done chan struct{}
	// exited is closed by the delivery goroutine on its way out.
	exited  <-chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
	release func()
}

func newSubscription() *subscription {
	return &subscription{done: make(chan struct{})}
}

// finish ends the subscription without waiting for the handler, so the
// delivery goroutine may call it on itself.
func (s *subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.release != nil {
			s.release()
		}
		close(s.done)
	})
}

func (s *subscription) Close() {
	s.finish(nil)
	if s.exited != nil {
		<-s.exited
	}
}

// stopped reports whether a change pulled off the wire must be discarded.
func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// bind ends the subscription together with ctx.
func bind(ctx context.Context, s *subscription) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

func dropped(cause error) error {
	if cause == nil {
		return ErrDropped
	}
	return errors.Join(ErrDropped, cause)
}
