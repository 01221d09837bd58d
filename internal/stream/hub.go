package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"rsvpdesk/internal/model"
)

const defaultHubBuffer = 64

// Hub is an in-process broker. A subscriber that falls a full buffer behind
// is dropped instead of blocking publishers.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*hubSub]struct{}
	buffer int
}

type hubSub struct {
	*subscription
	queue chan model.Change
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &Hub{subs: make(map[uuid.UUID]map[*hubSub]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe(ctx context.Context, eventID uuid.UUID, onChange Handler) (Subscription, error) {
	s := &hubSub{subscription: newSubscription(), queue: make(chan model.Change, h.buffer)}
	s.release = func() { h.remove(eventID, s) }

	h.mu.Lock()
	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[*hubSub]struct{})
	}
	h.subs[eventID][s] = struct{}{}
	h.mu.Unlock()

	exited := make(chan struct{})
	s.exited = exited
	go func() {
		defer close(exited)
		for {
			select {
			case <-s.done:
				return
			case change := <-s.queue:
				if s.stopped() {
					return
				}
				onChange(change)
			}
		}
	}()
	bind(ctx, s.subscription)
	return s, nil
}

func (h *Hub) Publish(_ context.Context, change model.Change) error {
	var slow []*hubSub

	h.mu.Lock()
	for s := range h.subs[change.EventID] {
		select {
		case s.queue <- change:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		s.finish(ErrDropped)
	}
	return nil
}

// Drop cuts every subscriber of an event as if the connection was lost.
func (h *Hub) Drop(eventID uuid.UUID) {
	h.mu.Lock()
	subs := make([]*hubSub, 0, len(h.subs[eventID]))
	for s := range h.subs[eventID] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.finish(ErrDropped)
	}
}

// Subscribers returns the number of live subscriptions for an event.
func (h *Hub) Subscribers(eventID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[eventID])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	var all []*hubSub
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}

func (h *Hub) remove(eventID uuid.UUID, s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[eventID], s)
	if len(h.subs[eventID]) == 0 {
		delete(h.subs, eventID)
	}
}
