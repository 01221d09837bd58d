package guestlist

import (
	"fmt"
	"slices"
	"strings"

	"rsvpdesk/internal/model"
)

const FilterAll = "all"

type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// Query is a presentation of the view. The zero value shows every row,
// newest first.
type Query struct {
	Status string
	Search string
	Sort   SortOrder
}

// ParseQuery validates raw query parameters. Empty values take defaults.
func ParseQuery(status, search, sort string) (Query, error) {
	q := Query{Status: FilterAll, Search: strings.TrimSpace(search), Sort: SortNewest}

	if status != "" && status != FilterAll {
		if !model.Status(status).Valid() {
			return Query{}, fmt.Errorf("unknown status filter %q", status)
		}
		q.Status = status
	}

	switch SortOrder(sort) {
	case "":
	case SortNewest, SortOldest:
		q.Sort = SortOrder(sort)
	default:
		return Query{}, fmt.Errorf("unknown sort order %q", sort)
	}
	return q, nil
}

// Project filters, searches and sorts a copy of rows.
func Project(rows []model.RSVP, q Query) []model.RSVP {
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]model.RSVP, 0, len(rows))
	for _, r := range rows {
		if q.Status != "" && q.Status != FilterAll && string(r.Status) != q.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Name), needle) &&
			!strings.Contains(strings.ToLower(r.Email), needle) {
			continue
		}
		out = append(out, r)
	}

	slices.SortStableFunc(out, func(a, b model.RSVP) int {
		if q.Sort == SortOldest {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Tally is the headline count shown above a guest list.
type Tally struct {
	Total      int `json:"total"`
	Attending  int `json:"attending"`
	Declined   int `json:"declined"`
	Waitlisted int `json:"waitlisted"`
	CheckedIn  int `json:"checked_in"`
	// Seats counts attending guests including their plus-ones.
	Seats int `json:"seats"`
}

func Count(rows []model.RSVP) Tally {
	var t Tally
	for i := range rows {
		r := &rows[i]
		t.Total++
		switch r.Status {
		case model.StatusAttending:
			t.Attending++
			t.Seats += r.Seats()
		case model.StatusDeclined:
			t.Declined++
		case model.StatusWaitlisted:
			t.Waitlisted++
		}
		if r.CheckedIn {
			t.CheckedIn++
		}
	}
	return t
}
