package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"rsvpdesk/internal/admission"
	"rsvpdesk/internal/checkin"
	"rsvpdesk/internal/dto"
	"rsvpdesk/internal/guestlist"
	"rsvpdesk/internal/model"
	"rsvpdesk/internal/repo"
	"rsvpdesk/internal/stream"
	"rsvpdesk/pkg/validator"
)

type Service interface {
	CreateEvent(ctx *ginext.Context)
	ListEvents(ctx *ginext.Context)
	GetEvent(ctx *ginext.Context)
	SubmitRSVP(ctx *ginext.Context)
	ListGuests(ctx *ginext.Context)
	StreamGuests(ctx *ginext.Context)
	GetRSVP(ctx *ginext.Context)
	CheckIn(ctx *ginext.Context)
	DeleteRSVP(ctx *ginext.Context)
}

type Options struct {
	Timeout             time.Duration
	ReconnectMaxElapsed time.Duration
}

type service struct {
	repo      repo.Repository
	broker    stream.Broker
	admission *admission.Controller
	checkin   *checkin.Machine
	opts      Options
	log       *zerolog.Logger
}

func NewService(repo repo.Repository, broker stream.Broker, logger *zerolog.Logger, opts Options) Service {
	if opts.Timeout <= 0 {
		opts.Timeout = admission.DefaultTimeout
	}
	return &service{
		repo:      repo,
		broker:    broker,
		admission: admission.NewController(repo, broker, opts.Timeout, logger),
		checkin:   checkin.NewMachine(repo, broker, opts.Timeout, logger),
		opts:      opts,
		log:       logger,
	}
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx.Request.Context(), req); verr != nil {
		s.log.Error().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}
	// omitempty lets an explicit zero through.
	if req.Capacity != nil && *req.Capacity <= 0 {
		dto.FieldIncorrectError(ctx, "capacity")
		return
	}

	event := &model.Event{
		ID:            uuid.New(),
		Title:         req.Title,
		Description:   req.Description,
		StartsAt:      req.StartsAt.UTC(),
		Location:      req.Location,
		Capacity:      req.Capacity,
		AllowsPlusOne: req.AllowsPlusOne,
		CreatedAt:     time.Now().UTC(),
	}

	c, cancel := s.timeout(ctx)
	defer cancel()
	if err := s.repo.CreateEvent(c, event); err != nil {
		s.fail(ctx, model.Classify("create event", err), dto.InternalServerError)
		return
	}

	s.log.Info().Str("event_id", event.ID.String()).Msg("event created successfully")
	dto.SuccessCreatedResponse(ctx, dto.NewEventResponse(event))
}

func (s *service) ListEvents(ctx *ginext.Context) {
	c, cancel := s.timeout(ctx)
	defer cancel()

	events, err := s.repo.ListEvents(c)
	if err != nil {
		s.fail(ctx, model.Classify("list events", err), dto.InternalServerError)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, dto.NewEventResponse(&events[i]))
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetEvent(ctx *ginext.Context) {
	eventID, ok := parseID(ctx, "Invalid event ID")
	if !ok {
		return
	}

	c, cancel := s.timeout(ctx)
	defer cancel()

	event, err := s.repo.GetEvent(c, eventID)
	if err != nil {
		s.fail(ctx, model.Classify("get event", err), dto.EventNotFoundError)
		return
	}
	dto.SuccessResponse(ctx, dto.NewEventResponse(event))
}

func (s *service) SubmitRSVP(ctx *ginext.Context) {
	eventID, ok := parseID(ctx, "Invalid event ID")
	if !ok {
		return
	}

	var req dto.SubmitRSVPRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx.Request.Context(), req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	out, err := s.admission.Submit(ctx.Request.Context(), admission.Request{
		EventID: eventID,
		Guest: admission.Guest{
			Name:    req.Name,
			Email:   req.Email,
			Dietary: req.Dietary,
		},
		Response:  model.Status(req.Status),
		PartySize: req.PartySize,
	})
	if err != nil {
		s.fail(ctx, err, dto.EventNotFoundError)
		return
	}

	switch out.Decision {
	case admission.Rejected:
		switch out.Reason {
		case admission.ReasonDuplicate:
			dto.RSVPDuplicateError(ctx)
		case admission.ReasonPartySize:
			dto.PartySizeError(ctx)
		default:
			dto.FieldIncorrectError(ctx, "status")
		}
		return
	case admission.Waitlisted:
		dto.SuccessCreatedResponse(ctx, dto.SubmitRSVPResponse{
			Decision: out.Decision.String(),
			Message:  dto.WaitlistMessage,
			RSVP:     dto.NewRSVPResponse(out.RSVP),
		})
	default:
		dto.SuccessCreatedResponse(ctx, dto.SubmitRSVPResponse{
			Decision: out.Decision.String(),
			RSVP:     dto.NewRSVPResponse(out.RSVP),
		})
	}
}

func (s *service) ListGuests(ctx *ginext.Context) {
	eventID, ok := parseID(ctx, "Invalid event ID")
	if !ok {
		return
	}
	q, err := guestlist.ParseQuery(ctx.Query("status"), ctx.Query("q"), ctx.Query("sort"))
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
		return
	}

	c, cancel := s.timeout(ctx)
	defer cancel()

	event, err := s.repo.GetEvent(c, eventID)
	if err != nil {
		s.fail(ctx, model.Classify("get event", err), dto.EventNotFoundError)
		return
	}
	rows, err := s.repo.ListRSVPs(c, eventID)
	if err != nil {
		s.fail(ctx, model.Classify("list rsvps", err), dto.EventNotFoundError)
		return
	}

	dto.SuccessResponse(ctx, dto.GuestListResponse{
		Event:  dto.NewEventResponse(event),
		Tally:  guestlist.Count(rows),
		Guests: dto.NewRSVPList(guestlist.Project(rows, q)),
	})
}

// StreamGuests pushes the projected guest list as server-sent events every
// time the live view changes.
func (s *service) StreamGuests(ctx *ginext.Context) {
	eventID, ok := parseID(ctx, "Invalid event ID")
	if !ok {
		return
	}
	q, err := guestlist.ParseQuery(ctx.Query("status"), ctx.Query("q"), ctx.Query("sort"))
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
		return
	}

	reqCtx := ctx.Request.Context()
	view, err := guestlist.Open(reqCtx, guestlist.Source{
		Stream:     s.broker,
		Snapshot:   s.snapshot,
		MaxElapsed: s.opts.ReconnectMaxElapsed,
		Log:        s.log,
	}, eventID, nil)
	if err != nil {
		s.fail(ctx, err, dto.EventNotFoundError)
		return
	}
	defer view.Dispose()

	s.log.Info().Str("event_id", eventID.String()).Msg("guest list stream opened")

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.SSEvent("guests", s.guestFrame(view.Current(), q))
	ctx.Writer.Flush()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-reqCtx.Done():
			return false
		case _, open := <-view.Updates():
			if !open {
				if err := view.Err(); err != nil {
					ctx.SSEvent("error", dto.Error{Code: dto.ServiceUnavailable, Desc: dto.InternalError})
				}
				return false
			}
			ctx.SSEvent("guests", s.guestFrame(view.Current(), q))
			return true
		}
	})

	s.log.Info().Str("event_id", eventID.String()).Msg("guest list stream closed")
}

func (s *service) guestFrame(rows []model.RSVP, q guestlist.Query) dto.Response {
	return dto.Response{
		Status: "ok",
		Data: struct {
			Tally  guestlist.Tally    `json:"tally"`
			Guests []dto.RSVPResponse `json:"guests"`
		}{
			Tally:  guestlist.Count(rows),
			Guests: dto.NewRSVPList(guestlist.Project(rows, q)),
		},
	}
}

func (s *service) snapshot(ctx context.Context, eventID uuid.UUID) ([]model.RSVP, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if _, err := s.repo.GetEvent(ctx, eventID); err != nil {
		return nil, model.Classify("get event", err)
	}
	rows, err := s.repo.ListRSVPs(ctx, eventID)
	if err != nil {
		return nil, model.Classify("list rsvps", err)
	}
	return rows, nil
}

func (s *service) GetRSVP(ctx *ginext.Context) {
	rsvpID, ok := parseID(ctx, "Invalid RSVP ID")
	if !ok {
		return
	}

	c, cancel := s.timeout(ctx)
	defer cancel()

	rsvp, err := s.repo.GetRSVP(c, rsvpID)
	if err != nil {
		s.fail(ctx, model.Classify("get rsvp", err), dto.RSVPNotFoundError)
		return
	}
	dto.SuccessResponse(ctx, dto.NewRSVPResponse(rsvp))
}

func (s *service) CheckIn(ctx *ginext.Context) {
	rsvpID, ok := parseID(ctx, "Invalid RSVP ID")
	if !ok {
		return
	}

	res, err := s.checkin.CheckIn(ctx.Request.Context(), rsvpID)
	if err != nil {
		s.fail(ctx, err, dto.RSVPNotFoundError)
		return
	}
	dto.SuccessResponse(ctx, dto.CheckInResponse{
		AlreadyCheckedIn: res.AlreadyCheckedIn,
		RSVP:             dto.NewRSVPResponse(res.RSVP),
	})
}

func (s *service) DeleteRSVP(ctx *ginext.Context) {
	rsvpID, ok := parseID(ctx, "Invalid RSVP ID")
	if !ok {
		return
	}

	c, cancel := s.timeout(ctx)
	defer cancel()

	rsvp, err := s.repo.DeleteRSVP(c, rsvpID)
	if err != nil {
		s.fail(ctx, model.Classify("delete rsvp", err), dto.RSVPNotFoundError)
		return
	}

	s.log.Info().
		Str("rsvp_id", rsvp.ID.String()).
		Str("event_id", rsvp.EventID.String()).
		Msg("rsvp removed")

	pctx, pcancel := context.WithTimeout(context.WithoutCancel(c), s.opts.Timeout)
	defer pcancel()
	if err := s.broker.Publish(pctx, model.NewChange(model.ChangeDelete, *rsvp)); err != nil {
		s.log.Warn().Err(err).Str("rsvp_id", rsvp.ID.String()).Msg("failed to publish rsvp removal")
	}

	dto.SuccessResponse(ctx, dto.NewRSVPResponse(rsvp))
}

func (s *service) timeout(ctx *ginext.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), s.opts.Timeout)
}

// fail renders a classified error. notFound picks the 404 body for the route.
func (s *service) fail(ctx *ginext.Context, err error, notFound func(*ginext.Context)) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		notFound(ctx)
	case errors.Is(err, model.ErrConflict):
		dto.RSVPDuplicateError(ctx)
	case errors.Is(err, model.ErrTransient):
		s.log.Warn().Err(err).Str("path", ctx.FullPath()).Msg("request failed on unavailable dependency")
		dto.UnavailableError(ctx)
	default:
		s.log.Error().Err(err).Str("path", ctx.FullPath()).Msg("request failed")
		dto.InternalServerError(ctx)
	}
}

func parseID(ctx *ginext.Context, desc string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, desc)
		return uuid.Nil, false
	}
	return id, true
}
