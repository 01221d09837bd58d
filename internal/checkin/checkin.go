// Package checkin moves a guest from not-arrived to checked-in at the door.
// The transition is one-way and idempotent.
package checkin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rsvpdesk/internal/model"
	"rsvpdesk/internal/stream"
)

type State int

const (
	NotArrived State = iota
	CheckedIn
)

func (s State) String() string {
	if s == CheckedIn {
		return "checked_in"
	}
	return "not_arrived"
}

func StateOf(r *model.RSVP) State {
	if r.CheckedIn {
		return CheckedIn
	}
	return NotArrived
}

type Store interface {
	// MarkCheckedIn sets the flag and reports whether this call changed it.
	MarkCheckedIn(ctx context.Context, id uuid.UUID) (*model.RSVP, bool, error)
}

type Result struct {
	RSVP             *model.RSVP
	AlreadyCheckedIn bool
}

type Machine struct {
	store   Store
	pub     stream.Publisher
	timeout time.Duration
	log     *zerolog.Logger
}

func NewMachine(store Store, pub stream.Publisher, timeout time.Duration, log *zerolog.Logger) *Machine {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Machine{store: store, pub: pub, timeout: timeout, log: log}
}

// CheckIn marks the RSVP as arrived. Repeating it is a no-op that returns the
// stored row with AlreadyCheckedIn set. Any RSVP status may be checked in.
func (m *Machine) CheckIn(ctx context.Context, id uuid.UUID) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	row, changed, err := m.store.MarkCheckedIn(ctx, id)
	if err != nil {
		return Result{}, model.Classify("check in", err)
	}

	if !changed {
		m.log.Debug().Str("rsvp_id", id.String()).Msg("guest already checked in")
		return Result{RSVP: row, AlreadyCheckedIn: true}, nil
	}

	m.log.Info().
		Str("rsvp_id", id.String()).
		Str("event_id", row.EventID.String()).
		Str("status", string(row.Status)).
		Msg("guest checked in")

	if m.pub != nil {
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer pcancel()
		if err := m.pub.Publish(pctx, model.NewChange(model.ChangeUpdate, *row)); err != nil {
			m.log.Warn().Err(err).Str("rsvp_id", id.String()).Msg("failed to publish check-in")
		}
	}
	return Result{RSVP: row}, nil
}
