package validator

import (
	"context"
	"strings"
	"testing"
	"time"
)

type eventForm struct {
	StartsAt time.Time `validate:"required,future"`
	Capacity *int      `validate:"omitempty,positive"`
}

type rsvpForm struct {
	Email  string `validate:"required,email"`
	Status string `validate:"required,rsvpstatus"`
}

func TestValidate(t *testing.T) {
	neg := -3
	five := 5

	tests := []struct {
		name    string
		in      any
		wantErr string
	}{
		{"future event", eventForm{StartsAt: time.Now().Add(time.Hour), Capacity: &five}, ""},
		{"unlimited capacity", eventForm{StartsAt: time.Now().Add(time.Hour)}, ""},
		{"past event", eventForm{StartsAt: time.Now().Add(-time.Hour)}, ErrDateNotInFuture},
		{"negative capacity", eventForm{StartsAt: time.Now().Add(time.Hour), Capacity: &neg}, ErrNotPositive},
		{"valid rsvp", rsvpForm{Email: "a@example.com", Status: "waitlisted"}, ""},
		{"unknown status", rsvpForm{Email: "a@example.com", Status: "maybe"}, ErrUnknownStatus},
		{"bad email", rsvpForm{Email: "a-at-example", Status: "declined"}, ErrInvalidEmail},
		{"missing status", rsvpForm{Email: "a@example.com"}, ErrFieldRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
