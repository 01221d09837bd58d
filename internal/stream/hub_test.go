package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"rsvpdesk/internal/model"
)

func waitFor(t *testing.T, ch <-chan model.Change) model.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return model.Change{}
}

func TestHubDeliversInOrderPerEvent(t *testing.T) {
	hub := NewHub(8)
	eventID := uuid.New()
	other := uuid.New()

	got := make(chan model.Change, 8)
	sub, err := hub.Subscribe(context.Background(), eventID, func(c model.Change) { got <- c })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := model.NewChange(model.ChangeInsert, model.RSVP{ID: uuid.New(), EventID: eventID})
	second := model.NewChange(model.ChangeUpdate, first.Row)
	ignored := model.NewChange(model.ChangeInsert, model.RSVP{ID: uuid.New(), EventID: other})

	for _, c := range []model.Change{first, ignored, second} {
		if err := hub.Publish(context.Background(), c); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if c := waitFor(t, got); c.Kind != model.ChangeInsert {
		t.Fatalf("first kind = %s", c.Kind)
	}
	if c := waitFor(t, got); c.Kind != model.ChangeUpdate {
		t.Fatalf("second kind = %s", c.Kind)
	}
	select {
	case c := <-got:
		t.Fatalf("unexpected change for another event: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCloseReleasesSubscriber(t *testing.T) {
	hub := NewHub(0)
	eventID := uuid.New()

	sub, err := hub.Subscribe(context.Background(), eventID, func(model.Change) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n := hub.Subscribers(eventID); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}

	sub.Close()
	sub.Close()
	<-sub.Done()
	if sub.Err() != nil {
		t.Fatalf("err = %v, want nil after Close", sub.Err())
	}
	if n := hub.Subscribers(eventID); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestHubContextCancelReleasesSubscriber(t *testing.T) {
	hub := NewHub(0)
	eventID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := hub.Subscribe(ctx, eventID, func(model.Change) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not released")
	}
	if n := hub.Subscribers(eventID); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestHubDropReportsError(t *testing.T) {
	hub := NewHub(0)
	eventID := uuid.New()

	sub, err := hub.Subscribe(context.Background(), eventID, func(model.Change) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	hub.Drop(eventID)
	<-sub.Done()

	if !errors.Is(sub.Err(), ErrDropped) {
		t.Fatalf("err = %v, want ErrDropped", sub.Err())
	}
	if !errors.Is(sub.Err(), model.ErrTransient) {
		t.Fatalf("err = %v, want model.ErrTransient", sub.Err())
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	eventID := uuid.New()
	block := make(chan struct{})
	defer close(block)

	sub, err := hub.Subscribe(context.Background(), eventID, func(model.Change) { <-block })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	row := model.RSVP{ID: uuid.New(), EventID: eventID}
	for i := 0; i < 5; i++ {
		_ = hub.Publish(context.Background(), model.NewChange(model.ChangeUpdate, row))
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
	if !errors.Is(sub.Err(), ErrDropped) {
		t.Fatalf("err = %v, want ErrDropped", sub.Err())
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := Decode([]byte(`{"kind":"upsert"}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed body")
	}

	change := model.NewChange(model.ChangeDelete, model.RSVP{ID: uuid.New(), EventID: uuid.New(), Status: model.StatusDeclined})
	body, err := Encode(change)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != change.Kind || got.Row.ID != change.Row.ID || got.EventID != change.EventID {
		t.Fatalf("decoded %+v", got)
	}
}

func TestHubCloseWaitsForHandler(t *testing.T) {
	hub := NewHub(8)
	eventID := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	sub, err := hub.Subscribe(context.Background(), eventID, func(model.Change) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	row := model.RSVP{ID: uuid.New(), EventID: eventID}
	for i := 0; i < 4; i++ {
		_ = hub.Publish(context.Background(), model.NewChange(model.ChangeUpdate, row))
	}
	<-entered

	closed := make(chan struct{})
	go func() {
		sub.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the handler finished")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("handler ran %d times, want 1: queued changes must be discarded after Close", n)
	}
}
