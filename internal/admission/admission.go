// Package admission decides whether a guest response fits an event and commits
// the decision. Capacity is enforced by the store at commit time, so two
// concurrent submissions can never both take the last seats.
package admission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rsvpdesk/internal/model"
	"rsvpdesk/internal/stream"
)

type Decision int

const (
	Admitted Decision = iota + 1
	Waitlisted
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Waitlisted:
		return "waitlisted"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

const (
	ReasonDuplicate       = "duplicate"
	ReasonPartySize       = "party_size"
	ReasonInvalidResponse = "invalid_response"
)

const DefaultTimeout = 3 * time.Second

type Guest struct {
	Name    string
	Email   string
	Dietary string
}

// Request is one guest response. Response is the status the guest asked for;
// StatusWaitlisted means the guest chose the waitlist explicitly.
type Request struct {
	EventID   uuid.UUID
	Guest     Guest
	Response  model.Status
	PartySize int
}

type Outcome struct {
	Decision Decision
	RSVP     *model.RSVP
	Reason   string
}

type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error)
	InsertRSVP(ctx context.Context, rsvp *model.RSVP, guard model.Guard) error
}

type Controller struct {
	store   Store
	pub     stream.Publisher
	timeout time.Duration
	log     *zerolog.Logger
	now     func() time.Time
}

func NewController(store Store, pub stream.Publisher, timeout time.Duration, log *zerolog.Logger) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{
		store:   store,
		pub:     pub,
		timeout: timeout,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit classifies and stores a response. Waitlisting and rejection are
// outcomes, not errors; the error is reserved for model.ErrNotFound and
// model.ErrTransient.
//
// An unknown event wins over a malformed request: the event is loaded first.
func (c *Controller) Submit(ctx context.Context, req Request) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	event, err := c.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return Outcome{}, model.Classify("load event", err)
	}

	if !req.Response.Valid() {
		return Outcome{Decision: Rejected, Reason: ReasonInvalidResponse}, nil
	}

	partySize := req.PartySize
	if req.Response == model.StatusDeclined {
		partySize = 0
	}
	if partySize < 0 || partySize > event.MaxPartySize() {
		return Outcome{Decision: Rejected, Reason: ReasonPartySize}, nil
	}

	rsvp := &model.RSVP{
		ID:        uuid.New(),
		EventID:   event.ID,
		Name:      strings.TrimSpace(req.Guest.Name),
		Email:     model.NormalizeEmail(req.Guest.Email),
		Status:    req.Response,
		PartySize: partySize,
		Dietary:   strings.TrimSpace(req.Guest.Dietary),
		CreatedAt: c.now(),
	}

	var guard model.Guard
	if req.Response == model.StatusAttending {
		guard.Seats = rsvp.Seats()
	}

	err = c.store.InsertRSVP(ctx, rsvp, guard)
	if errors.Is(err, model.ErrConflict) {
		c.log.Info().
			Str("event_id", event.ID.String()).
			Str("email", rsvp.Email).
			Msg("duplicate rsvp rejected")
		return Outcome{Decision: Rejected, Reason: ReasonDuplicate}, nil
	}
	if err != nil {
		return Outcome{}, model.Classify("insert rsvp", err)
	}

	decision := Admitted
	if rsvp.Status == model.StatusWaitlisted {
		decision = Waitlisted
	}

	c.log.Info().
		Str("event_id", event.ID.String()).
		Str("rsvp_id", rsvp.ID.String()).
		Str("status", string(rsvp.Status)).
		Int("party_size", rsvp.PartySize).
		Msgf("rsvp %s", decision)

	c.publish(ctx, model.NewChange(model.ChangeInsert, *rsvp))
	return Outcome{Decision: decision, RSVP: rsvp}, nil
}

func (c *Controller) publish(ctx context.Context, change model.Change) {
	if c.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.pub.Publish(ctx, change); err != nil {
		c.log.Warn().Err(err).Str("rsvp_id", change.Row.ID.String()).Msg("failed to publish rsvp change")
	}
}
