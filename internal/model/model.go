package model

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAttending  Status = "attending"
	StatusDeclined   Status = "declined"
	StatusWaitlisted Status = "waitlisted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAttending, StatusDeclined, StatusWaitlisted:
		return true
	}
	return false
}

type Event struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	StartsAt      time.Time `db:"starts_at" json:"starts_at"`
	Location      string    `db:"location" json:"location"`
	Description   string    `db:"description" json:"description,omitempty"`
	Capacity      *int      `db:"capacity" json:"capacity,omitempty"`
	AllowsPlusOne bool      `db:"allows_plus_one" json:"allows_plus_one"`
	Occupancy     int       `db:"occupancy" json:"occupancy"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// MaxPartySize is the number of extra guests one respondent may bring.
func (e *Event) MaxPartySize() int {
	if e.AllowsPlusOne {
		return 1
	}
	return 0
}

// IsFull reports whether a capped event has no seats left.
func (e *Event) IsFull() bool {
	return e.Capacity != nil && e.Occupancy >= *e.Capacity
}

// AvailableSeats returns -1 for events without a cap.
func (e *Event) AvailableSeats() int {
	if e.Capacity == nil {
		return -1
	}
	if left := *e.Capacity - e.Occupancy; left > 0 {
		return left
	}
	return 0
}

type RSVP struct {
	ID        uuid.UUID `db:"id" json:"id"`
	EventID   uuid.UUID `db:"event_id" json:"event_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Status    Status    `db:"status" json:"status"`
	PartySize int       `db:"party_size" json:"party_size"`
	Dietary   string    `db:"dietary" json:"dietary,omitempty"`
	CheckedIn bool      `db:"checked_in" json:"checked_in"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Seats is how much of the event capacity the RSVP takes when attending.
func (r *RSVP) Seats() int {
	return 1 + r.PartySize
}

// Guard is the admission condition the store evaluates at commit time.
// A zero Seats value means the row is written without touching occupancy.
type Guard struct {
	Seats int
}

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

type Change struct {
	Kind    ChangeKind `json:"kind"`
	EventID uuid.UUID  `json:"event_id"`
	Row     RSVP       `json:"row"`
	At      time.Time  `json:"at"`
}

func NewChange(kind ChangeKind, row RSVP) Change {
	return Change{
		Kind:    kind,
		EventID: row.EventID,
		Row:     row,
		At:      time.Now().UTC(),
	}
}
