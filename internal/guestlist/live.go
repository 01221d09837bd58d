package guestlist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rsvpdesk/internal/model"
	"rsvpdesk/internal/stream"
)

const DefaultReconnectMaxElapsed = 2 * time.Minute

type SnapshotFunc func(ctx context.Context, eventID uuid.UUID) ([]model.RSVP, error)

// Source is where a live view gets its rows from.
type Source struct {
	Stream   stream.Stream
	Snapshot SnapshotFunc
	// MaxElapsed bounds how long a dropped view keeps trying to reconnect.
	MaxElapsed time.Duration
	Log        *zerolog.Logger
}

// LiveView mirrors one event's guest list. Changes are applied one at a time
// in delivery order. After a stream drop the view is re-seeded from a fresh
// snapshot before changes are applied again.
type LiveView struct {
	eventID uuid.UUID
	src     Source
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	rows    []model.RSVP
	seeding bool
	pending []model.Change
	err     error

	updates chan struct{}
}

// Open subscribes to eventID and seeds the view with initial. A nil initial
// is replaced by a snapshot taken after the subscription is in place.
func Open(ctx context.Context, src Source, eventID uuid.UUID, initial []model.RSVP) (*LiveView, error) {
	log := zerolog.Nop()
	if src.Log != nil {
		log = *src.Log
	}
	if src.MaxElapsed <= 0 {
		src.MaxElapsed = DefaultReconnectMaxElapsed
	}

	vctx, cancel := context.WithCancel(ctx)
	v := &LiveView{
		eventID: eventID,
		src:     src,
		log:     log.With().Str("event_id", eventID.String()).Logger(),
		ctx:     vctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		updates: make(chan struct{}, 1),
	}

	if initial == nil {
		v.seeding = true
	} else {
		v.rows = clone(initial)
	}
	sub, err := src.Stream.Subscribe(vctx, eventID, v.receive)
	if err != nil {
		cancel()
		return nil, model.Classify("subscribe guest list", err)
	}

	if initial == nil {
		rows, err := src.Snapshot(vctx, eventID)
		if err != nil {
			sub.Close()
			cancel()
			return nil, model.Classify("load guest list", err)
		}
		v.reset(rows)
	}

	go v.run(sub)
	return v, nil
}

func (v *LiveView) EventID() uuid.UUID { return v.eventID }

// Current returns a copy of the view.
func (v *LiveView) Current() []model.RSVP {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return clone(v.rows)
}

// Updates signals after the view changed. Signals coalesce; read Current to
// get the latest state. The channel is closed when the view stops.
func (v *LiveView) Updates() <-chan struct{} { return v.updates }

func (v *LiveView) Done() <-chan struct{} { return v.done }

// Err is set when the view stopped because it could not reconnect.
func (v *LiveView) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Dispose releases the subscription and waits for it to be gone.
func (v *LiveView) Dispose() {
	v.cancel()
	<-v.done
}

func (v *LiveView) receive(change model.Change) {
	if change.EventID != v.eventID {
		return
	}
	v.mu.Lock()
	if v.seeding {
		v.pending = append(v.pending, change)
		v.mu.Unlock()
		return
	}
	v.rows = Apply(v.rows, change)
	v.mu.Unlock()
	v.notify()
}

// reset replaces the view with a snapshot and replays what arrived while the
// snapshot was loading.
func (v *LiveView) reset(rows []model.RSVP) {
	v.mu.Lock()
	v.rows = clone(rows)
	for _, c := range v.pending {
		v.rows = Apply(v.rows, c)
	}
	v.pending = nil
	v.seeding = false
	v.mu.Unlock()
	v.notify()
}

func (v *LiveView) notify() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

func (v *LiveView) run(sub stream.Subscription) {
	defer func() {
		close(v.updates)
		close(v.done)
	}()

	for {
		select {
		case <-v.ctx.Done():
		case <-sub.Done():
		}
		// Nothing from the old subscription may reach the view after this.
		sub.Close()

		if v.ctx.Err() != nil {
			return
		}
		v.log.Warn().Err(sub.Err()).Msg("guest list stream dropped, re-seeding")

		next, err := v.reconnect()
		if err != nil {
			if v.ctx.Err() == nil {
				v.log.Error().Err(err).Msg("guest list gave up reconnecting")
				v.mu.Lock()
				v.err = model.Classify("reconnect guest list", err)
				v.mu.Unlock()
			}
			return
		}
		sub = next
	}
}

func (v *LiveView) reconnect() (stream.Subscription, error) {
	attempt := 0
	op := func() (stream.Subscription, error) {
		attempt++
		v.mu.Lock()
		v.seeding = true
		v.pending = nil
		v.mu.Unlock()

		sub, err := v.src.Stream.Subscribe(v.ctx, v.eventID, v.receive)
		if err != nil {
			return nil, err
		}
		rows, err := v.src.Snapshot(v.ctx, v.eventID)
		if err != nil {
			sub.Close()
			if errors.Is(err, model.ErrNotFound) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		v.reset(rows)
		v.log.Info().Int("attempt", attempt).Int("rows", len(rows)).Msg("guest list re-seeded")
		return sub, nil
	}

	return backoff.Retry(v.ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(v.src.MaxElapsed),
	)
}

// Session holds at most one live view. Watching a new event disposes the
// previous view first, so subscriptions never pile up.
type Session struct {
	src  Source
	mu   sync.Mutex
	view *LiveView
}

func NewSession(src Source) *Session {
	return &Session{src: src}
}

func (s *Session) Watch(ctx context.Context, eventID uuid.UUID, initial []model.RSVP) (*LiveView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.view != nil {
		s.view.Dispose()
		s.view = nil
	}
	v, err := Open(ctx, s.src, eventID, initial)
	if err != nil {
		return nil, err
	}
	s.view = v
	return v, nil
}

func (s *Session) View() *LiveView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != nil {
		s.view.Dispose()
		s.view = nil
	}
}
