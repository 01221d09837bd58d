package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"rsvpdesk/internal/guestlist"
	"rsvpdesk/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."
	Unauthorized       = "UNAUTHORIZED"

	EventNotFound  = "EVENT_NOT_FOUND"
	RSVPNotFound   = "RSVP_NOT_FOUND"
	RSVPDuplicate  = "RSVP_DUPLICATE"
	PartySizeLimit = "PARTY_SIZE_NOT_ALLOWED"

	WaitlistMessage = "Event capacity reached. You have been added to the waitlist."
)

type CreateEventRequest struct {
	Title         string    `json:"title" validate:"required,min=3,max=255"`
	Description   string    `json:"description" validate:"max=4000"`
	StartsAt      time.Time `json:"starts_at" validate:"required,future"`
	Location      string    `json:"location" validate:"required,max=255"`
	Capacity      *int      `json:"capacity" validate:"omitempty,positive"`
	AllowsPlusOne bool      `json:"allows_plus_one"`
}

type SubmitRSVPRequest struct {
	Name      string `json:"name" validate:"required,min=2,max=255"`
	Email     string `json:"email" validate:"required,email"`
	Status    string `json:"status" validate:"required,rsvpstatus"`
	PartySize int    `json:"party_size" validate:"gte=0,lte=1"`
	Dietary   string `json:"dietary" validate:"max=500"`
}

type EventResponse struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	StartsAt       time.Time `json:"starts_at"`
	Location       string    `json:"location"`
	Capacity       *int      `json:"capacity"`
	AllowsPlusOne  bool      `json:"allows_plus_one"`
	Occupancy      int       `json:"occupancy"`
	AvailableSeats *int      `json:"available_seats"`
	IsFull         bool      `json:"is_full"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewEventResponse(e *model.Event) EventResponse {
	resp := EventResponse{
		ID:            e.ID,
		Title:         e.Title,
		Description:   e.Description,
		StartsAt:      e.StartsAt,
		Location:      e.Location,
		Capacity:      e.Capacity,
		AllowsPlusOne: e.AllowsPlusOne,
		Occupancy:     e.Occupancy,
		IsFull:        e.IsFull(),
		CreatedAt:     e.CreatedAt,
	}
	if e.Capacity != nil {
		left := e.AvailableSeats()
		resp.AvailableSeats = &left
	}
	return resp
}

type RSVPResponse struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	PartySize int       `json:"party_size"`
	Dietary   string    `json:"dietary,omitempty"`
	CheckedIn bool      `json:"checked_in"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRSVPResponse(r *model.RSVP) RSVPResponse {
	return RSVPResponse{
		ID:        r.ID,
		EventID:   r.EventID,
		Name:      r.Name,
		Email:     r.Email,
		Status:    string(r.Status),
		PartySize: r.PartySize,
		Dietary:   r.Dietary,
		CheckedIn: r.CheckedIn,
		CreatedAt: r.CreatedAt,
	}
}

func NewRSVPList(rows []model.RSVP) []RSVPResponse {
	out := make([]RSVPResponse, 0, len(rows))
	for i := range rows {
		out = append(out, NewRSVPResponse(&rows[i]))
	}
	return out
}

type SubmitRSVPResponse struct {
	Decision string       `json:"decision"`
	Message  string       `json:"message,omitempty"`
	RSVP     RSVPResponse `json:"rsvp"`
}

type CheckInResponse struct {
	AlreadyCheckedIn bool         `json:"already_checked_in"`
	RSVP             RSVPResponse `json:"rsvp"`
}

type GuestListResponse struct {
	Event  EventResponse   `json:"event"`
	Tally  guestlist.Tally `json:"tally"`
	Guests []RSVPResponse  `json:"guests"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func errorResponse(c *ginext.Context, status int, code, desc string) {
	c.AbortWithStatusJSON(status, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	errorResponse(c, 400, code, desc)
}

func InternalServerError(c *ginext.Context) {
	errorResponse(c, 500, ServiceUnavailable, InternalError)
}

func UnavailableError(c *ginext.Context) {
	errorResponse(c, 503, ServiceUnavailable, InternalError)
}

func UnauthorizedError(c *ginext.Context) {
	errorResponse(c, 401, Unauthorized, "Missing or invalid admin token")
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func FieldIncorrectError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldIncorrect, "Field '"+fieldName+"' is incorrect")
}

func PartySizeError(c *ginext.Context) {
	BadResponseError(c, PartySizeLimit, "This event does not allow that many guests per RSVP")
}

func EventNotFoundError(c *ginext.Context) {
	errorResponse(c, 404, EventNotFound, "Event not found")
}

func RSVPNotFoundError(c *ginext.Context) {
	errorResponse(c, 404, RSVPNotFound, "RSVP not found")
}

func RSVPDuplicateError(c *ginext.Context) {
	errorResponse(c, 409, RSVPDuplicate, "You have already responded to this event")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
