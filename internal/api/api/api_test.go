package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rsvpdesk/cmd/middleware"
	"rsvpdesk/internal/dto"
	"rsvpdesk/internal/repo"
	"rsvpdesk/internal/service"
	"rsvpdesk/internal/stream"
)

const testToken = "door-staff"

type envelope struct {
	Status string          `json:"status"`
	Error  *dto.Error      `json:"error"`
	Data   json.RawMessage `json:"data"`
}

type harness struct {
	handler http.Handler
	hub     *stream.Hub
	store   repo.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zerolog.Nop()
	store, err := repo.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"), &log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := stream.NewHub(64)
	svc := service.NewService(store, hub, &log, service.Options{
		Timeout:             5 * time.Second,
		ReconnectMaxElapsed: time.Second,
	})
	return &harness{
		handler: NewRouters(&Routers{Service: svc, Mode: "test", AdminToken: testToken}),
		hub:     hub,
		store:   store,
	}
}

func (h *harness) do(t *testing.T, method, path string, body any, admin bool) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(middleware.AdminTokenHeader, testToken)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return v
}

func (h *harness) createEvent(t *testing.T, capacity *int, plusOne bool) dto.EventResponse {
	t.Helper()
	code, env := h.do(t, http.MethodPost, "/v1/events", map[string]any{
		"title":           "Summer social",
		"starts_at":       time.Now().Add(72 * time.Hour).UTC(),
		"location":        "Pier 4",
		"capacity":        capacity,
		"allows_plus_one": plusOne,
	}, true)
	if code != http.StatusCreated {
		t.Fatalf("create event: code = %d, error = %+v", code, env.Error)
	}
	return decode[dto.EventResponse](t, env.Data)
}

func rsvpBody(name, status string, party int) map[string]any {
	return map[string]any{
		"name":       name,
		"email":      strings.ToLower(name) + "@example.com",
		"status":     status,
		"party_size": party,
	}
}

func intPtr(v int) *int { return &v }

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(t, http.MethodGet, "/v1/events", nil, false)
	if code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != dto.Unauthorized {
		t.Fatalf("code = %d, env = %+v", code, env)
	}

	code, _ = h.do(t, http.MethodGet, "/v1/events", nil, true)
	if code != http.StatusOK {
		t.Fatalf("code = %d with token", code)
	}
}

func TestCreateEventValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"past start", map[string]any{"title": "Old news", "starts_at": time.Now().Add(-time.Hour), "location": "Here"}},
		{"zero capacity", map[string]any{"title": "Tiny", "starts_at": time.Now().Add(time.Hour), "location": "Here", "capacity": 0}},
		{"missing title", map[string]any{"starts_at": time.Now().Add(time.Hour), "location": "Here"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := h.do(t, http.MethodPost, "/v1/events", tt.body, true)
			if code != http.StatusBadRequest || env.Error == nil {
				t.Fatalf("code = %d, env = %+v", code, env)
			}
		})
	}
}

func TestRSVPFlow(t *testing.T) {
	h := newHarness(t)
	event := h.createEvent(t, intPtr(2), true)
	base := "/v1/events/" + event.ID.String()

	code, env := h.do(t, http.MethodPost, base+"/rsvps", rsvpBody("Ann", "attending", 0), false)
	if code != http.StatusCreated {
		t.Fatalf("ann: code = %d, env = %+v", code, env)
	}
	ann := decode[dto.SubmitRSVPResponse](t, env.Data)
	if ann.Decision != "admitted" || ann.RSVP.Status != "attending" {
		t.Fatalf("ann = %+v", ann)
	}

	code, env = h.do(t, http.MethodPost, base+"/rsvps", rsvpBody("Bob", "attending", 1), false)
	if code != http.StatusCreated {
		t.Fatalf("bob: code = %d", code)
	}
	bob := decode[dto.SubmitRSVPResponse](t, env.Data)
	if bob.Decision != "waitlisted" || bob.RSVP.Status != "waitlisted" || bob.Message != dto.WaitlistMessage {
		t.Fatalf("bob = %+v", bob)
	}

	code, env = h.do(t, http.MethodPost, base+"/rsvps", rsvpBody("Cat", "declined", 0), false)
	if code != http.StatusCreated || decode[dto.SubmitRSVPResponse](t, env.Data).RSVP.Status != "declined" {
		t.Fatalf("cat: code = %d", code)
	}

	code, env = h.do(t, http.MethodPost, base+"/rsvps", rsvpBody("ANN", "declined", 0), false)
	if code != http.StatusConflict || env.Error.Code != dto.RSVPDuplicate {
		t.Fatalf("duplicate: code = %d, env = %+v", code, env)
	}

	code, env = h.do(t, http.MethodGet, base, nil, false)
	if code != http.StatusOK {
		t.Fatalf("get event: code = %d", code)
	}
	summary := decode[dto.EventResponse](t, env.Data)
	if summary.Occupancy != 1 || summary.IsFull || summary.AvailableSeats == nil || *summary.AvailableSeats != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	code, env = h.do(t, http.MethodGet, base+"/guests?status=waitlisted", nil, true)
	if code != http.StatusOK {
		t.Fatalf("guests: code = %d", code)
	}
	list := decode[dto.GuestListResponse](t, env.Data)
	if len(list.Guests) != 1 || list.Guests[0].ID != bob.RSVP.ID {
		t.Fatalf("guests = %+v", list.Guests)
	}
	if list.Tally.Total != 3 || list.Tally.Seats != 1 {
		t.Fatalf("tally = %+v", list.Tally)
	}

	code, _ = h.do(t, http.MethodGet, base+"/guests?sort=sideways", nil, true)
	if code != http.StatusBadRequest {
		t.Fatalf("bad sort: code = %d", code)
	}

	checkin := "/v1/rsvps/" + ann.RSVP.ID.String() + "/checkin"
	code, env = h.do(t, http.MethodPost, checkin, nil, true)
	if code != http.StatusOK || decode[dto.CheckInResponse](t, env.Data).AlreadyCheckedIn {
		t.Fatalf("check in: code = %d", code)
	}
	code, env = h.do(t, http.MethodPost, checkin, nil, true)
	if code != http.StatusOK || !decode[dto.CheckInResponse](t, env.Data).AlreadyCheckedIn {
		t.Fatalf("second check in: code = %d", code)
	}

	code, env = h.do(t, http.MethodGet, "/v1/rsvps/"+ann.RSVP.ID.String(), nil, false)
	if code != http.StatusOK || !decode[dto.RSVPResponse](t, env.Data).CheckedIn {
		t.Fatalf("get rsvp: code = %d", code)
	}

	code, _ = h.do(t, http.MethodDelete, "/v1/rsvps/"+ann.RSVP.ID.String(), nil, true)
	if code != http.StatusOK {
		t.Fatalf("delete: code = %d", code)
	}
	_, env = h.do(t, http.MethodGet, base, nil, false)
	if occ := decode[dto.EventResponse](t, env.Data).Occupancy; occ != 0 {
		t.Fatalf("occupancy after delete = %d, want 0", occ)
	}
}

func TestRSVPErrors(t *testing.T) {
	h := newHarness(t)
	solo := h.createEvent(t, nil, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		admin  bool
		code   int
		errTag string
	}{
		{"plus one not allowed", http.MethodPost, "/v1/events/" + solo.ID.String() + "/rsvps", rsvpBody("Dan", "attending", 1), false, http.StatusBadRequest, dto.PartySizeLimit},
		{"unknown status", http.MethodPost, "/v1/events/" + solo.ID.String() + "/rsvps", rsvpBody("Eve", "maybe", 0), false, http.StatusBadRequest, dto.FieldIncorrect},
		{"bad email", http.MethodPost, "/v1/events/" + solo.ID.String() + "/rsvps", map[string]any{"name": "Fay", "email": "nope", "status": "attending"}, false, http.StatusBadRequest, dto.FieldIncorrect},
		{"unknown event", http.MethodPost, "/v1/events/1b4e28ba-2fa1-11d2-883f-0016d3cca427/rsvps", rsvpBody("Gus", "attending", 0), false, http.StatusNotFound, dto.EventNotFound},
		{"malformed event id", http.MethodGet, "/v1/events/42", nil, false, http.StatusBadRequest, dto.FieldIncorrect},
		{"unknown rsvp check in", http.MethodPost, "/v1/rsvps/1b4e28ba-2fa1-11d2-883f-0016d3cca427/checkin", nil, true, http.StatusNotFound, dto.RSVPNotFound},
		{"unknown rsvp delete", http.MethodDelete, "/v1/rsvps/1b4e28ba-2fa1-11d2-883f-0016d3cca427", nil, true, http.StatusNotFound, dto.RSVPNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := h.do(t, tt.method, tt.path, tt.body, tt.admin)
			if code != tt.code {
				t.Fatalf("code = %d, want %d (env %+v)", code, tt.code, env)
			}
			if env.Error == nil || env.Error.Code != tt.errTag {
				t.Fatalf("error = %+v, want %s", env.Error, tt.errTag)
			}
		})
	}
}

func TestStreamGuests(t *testing.T) {
	h := newHarness(t)
	event := h.createEvent(t, nil, false)

	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/"+event.ID.String()+"/guests/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(middleware.AdminTokenHeader, testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	nextFrame := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data:") {
				return strings.TrimPrefix(line, "data:")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if first := nextFrame(); strings.Contains(first, "@example.com") {
		t.Fatalf("first frame should be empty, got %s", first)
	}

	code, _ := h.do(t, http.MethodPost, "/v1/events/"+event.ID.String()+"/rsvps", rsvpBody("Live", "attending", 0), false)
	if code != http.StatusCreated {
		t.Fatalf("submit: code = %d", code)
	}

	for {
		if frame := nextFrame(); strings.Contains(frame, "live@example.com") {
			break
		}
	}

	cancel()
	deadline := time.Now().Add(3 * time.Second)
	for h.hub.Subscribers(event.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream subscription was not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"create event", http.MethodPost, "/v1/events", map[string]any{
			"title": "Closed doors", "starts_at": time.Now().Add(time.Hour), "location": "Nowhere",
		}},
		{"list events", http.MethodGet, "/v1/events", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := h.do(t, tt.method, tt.path, tt.body, true)
			if code != http.StatusServiceUnavailable || env.Error == nil || env.Error.Code != dto.ServiceUnavailable {
				t.Fatalf("code = %d, env = %+v", code, env)
			}
		})
	}
}
