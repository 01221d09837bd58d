// Package guestlist keeps a disposable in-memory mirror of an event's RSVPs in
// step with the change stream. The mirror is never authoritative; it can be
// thrown away and rebuilt from a snapshot at any time.
package guestlist

import (
	"github.com/google/uuid"

	"rsvpdesk/internal/model"
)

// Apply returns the view after one change. rows is not modified.
//
// Inserts of a known id and updates of an unknown id fall back to each other,
// so duplicate or reordered delivery converges on the same view. A delete of
// an unknown id is a no-op.
func Apply(rows []model.RSVP, change model.Change) []model.RSVP {
	i := indexOf(rows, change.Row.ID)

	switch change.Kind {
	case model.ChangeInsert, model.ChangeUpdate:
		if i >= 0 {
			out := clone(rows)
			out[i] = change.Row
			return out
		}
		out := make([]model.RSVP, 0, len(rows)+1)
		out = append(out, change.Row)
		return append(out, rows...)
	case model.ChangeDelete:
		if i < 0 {
			return clone(rows)
		}
		out := make([]model.RSVP, 0, len(rows)-1)
		out = append(out, rows[:i]...)
		return append(out, rows[i+1:]...)
	}
	return clone(rows)
}

func indexOf(rows []model.RSVP, id uuid.UUID) int {
	for i := range rows {
		if rows[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(rows []model.RSVP) []model.RSVP {
	out := make([]model.RSVP, len(rows))
	copy(out, rows)
	return out
}
