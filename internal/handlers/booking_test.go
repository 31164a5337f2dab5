package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicdesk/clinic-scheduler/internal/availability"
	"github.com/clinicdesk/clinic-scheduler/internal/calendar"
	"github.com/clinicdesk/clinic-scheduler/internal/clinic"
	"github.com/clinicdesk/clinic-scheduler/internal/model"
	"github.com/clinicdesk/clinic-scheduler/internal/scheduling"
)

type memStore struct {
	mu    sync.Mutex
	appts map[string]model.Appointment
	recs  []model.ReconciliationRecord
}

func newMemStore() *memStore {
	return &memStore{appts: map[string]model.Appointment{}}
}

func (s *memStore) Create(_ context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[appt.ID] = *appt
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

func (s *memStore) Update(_ context.Context, appt model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[appt.ID]; !ok {
		return model.ErrNotFound
	}
	s.appts[appt.ID] = appt
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[id]; !ok {
		return model.ErrNotFound
	}
	delete(s.appts, id)
	return nil
}

func (s *memStore) ListActiveBetween(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.Active() && a.Start.Before(to) && a.End.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) List(_ context.Context, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if len(out) == limit {
			break
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) EnqueueReconciliation(_ context.Context, rec model.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memStore) DeleteReconciliationFor(_ context.Context, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.recs[:0]
	for _, r := range s.recs {
		if r.AppointmentID != appointmentID {
			kept = append(kept, r)
		}
	}
	s.recs = kept
	return nil
}

type memGateway struct {
	mu      sync.Mutex
	events  map[string]calendar.Event
	nextRef int
}

func newMemGateway() *memGateway {
	return &memGateway{events: map[string]calendar.Event{}}
}

func (g *memGateway) ListBusy(_ context.Context, from, to time.Time) ([]availability.Interval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var busy []availability.Interval
	for _, ev := range g.events {
		if ev.Start.Before(to) && ev.End.After(from) {
			busy = append(busy, availability.Interval{Start: ev.Start, End: ev.End})
		}
	}
	return busy, nil
}

func (g *memGateway) CreateEvent(_ context.Context, ev calendar.Event, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextRef++
	ref := "evt-" + strconv.Itoa(g.nextRef)
	g.events[ref] = ev
	return ref, nil
}

func (g *memGateway) DeleteEvent(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.events[ref]; !ok {
		return calendar.ErrNotFound
	}
	delete(g.events, ref)
	return nil
}

type stuckLister struct {
	records []model.ReconciliationRecord
}

func (s *stuckLister) ListStuck(context.Context, int) ([]model.ReconciliationRecord, error) {
	return s.records, nil
}

func newTestHandler(t *testing.T) (*SchedulerHandler, *stuckLister, clinic.Hours) {
	t.Helper()
	hours, err := clinic.LoadHours(clinic.HoursConfig{})
	if err != nil {
		t.Fatalf("LoadHours: %v", err)
	}
	engine := scheduling.NewEngine(newMemStore(), newMemGateway(), clinic.DefaultCatalog(), hours, nil, slog.Default(), scheduling.Config{})
	stuck := &stuckLister{}
	return NewSchedulerHandler(engine, stuck, slog.Default()), stuck, hours
}

// nextOpenDay returns 10:00 clinic time on the next weekday at least two days out.
func nextOpenDay(hours clinic.Hours) time.Time {
	day := time.Now().In(hours.Location()).AddDate(0, 0, 2)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, hours.Location())
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func bookBody(start time.Time, service string) string {
	b, _ := json.Marshal(map[string]string{
		"patient_name":  "Asha Verma",
		"patient_phone": "+919876543210",
		"service":       service,
		"start_time":    start.Format(time.RFC3339),
	})
	return string(b)
}

func TestBookEndpoint_Created(t *testing.T) {
	h, _, hours := newTestHandler(t)
	start := nextOpenDay(hours)

	rec := doJSON(t, h.Book, http.MethodPost, "/api/v1/appointments/book", bookBody(start, "checkup"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AppointmentID == "" || resp.Status != model.StatusConfirmed || resp.Origin != model.OriginRemote {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestBookEndpoint_Validation(t *testing.T) {
	h, _, hours := newTestHandler(t)
	start := nextOpenDay(hours)

	rec := doJSON(t, h.Book, http.MethodPost, "/api/v1/appointments/book", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}

	rec = doJSON(t, h.Book, http.MethodPost, "/api/v1/appointments/book",
		`{"patient_name":"A","service":"checkup","start_time":"`+start.Format(time.RFC3339)+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing phone, got %d", rec.Code)
	}

	rec = doJSON(t, h.Book, http.MethodPost, "/api/v1/appointments/book", bookBody(start, "haircut"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown service, got %d", rec.Code)
	}

	rec = doJSON(t, h.Book, http.MethodGet, "/api/v1/appointments/book", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestBookEndpoint_ConflictCarriesAlternatives(t *testing.T) {
	h, _, hours := newTestHandler(t)
	start := nextOpenDay(hours)

	if rec := doJSON(t, h.Book, http.MethodPost, "/", bookBody(start, "checkup")); rec.Code != http.StatusCreated {
		t.Fatalf("first booking failed: %d", rec.Code)
	}
	rec := doJSON(t, h.Book, http.MethodPost, "/", bookBody(start, "checkup"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp conflictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Alternatives) == 0 {
		t.Fatal("expected alternative slots in conflict response")
	}
}

func TestSlotsEndpoint(t *testing.T) {
	h, _, hours := newTestHandler(t)
	start := nextOpenDay(hours)
	from := time.Date(start.Year(), start.Month(), start.Day(), 9, 0, 0, 0, hours.Location())
	to := from.Add(8 * time.Hour)

	target := "/api/v1/slots?service=checkup&from=" + from.Format(time.RFC3339) + "&to=" + to.Format(time.RFC3339)
	// Query strings need URL escaping for "+" in timezone offsets; use UTC formats.
	target = strings.ReplaceAll(target, "+", "%2B")

	rec := doJSON(t, h.Slots, http.MethodGet, target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp slotsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Slots) == 0 {
		t.Fatal("expected free slots on an open day")
	}
	if resp.Degraded {
		t.Fatal("gateway is up; must not be degraded")
	}

	rec = doJSON(t, h.Slots, http.MethodGet, "/api/v1/slots?service=checkup&from=bad&to=worse", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", rec.Code)
	}
	rec = doJSON(t, h.Slots, http.MethodGet, "/api/v1/slots", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing service, got %d", rec.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	h, _, hours := newTestHandler(t)
	start := nextOpenDay(hours)

	rec := doJSON(t, h.Book, http.MethodPost, "/", bookBody(start, "checkup"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("booking failed: %d", rec.Code)
	}
	var appt appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h.Cancel, http.MethodPost, "/", `{"appointment_id":"`+appt.AppointmentID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h.Cancel, http.MethodPost, "/", `{"appointment_id":"no-such-id"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doJSON(t, h.Cancel, http.MethodPost, "/", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rec.Code)
	}
}

func TestRescheduleEndpoint(t *testing.T) {
	h, _, hours := newTestHandler(t)
	start := nextOpenDay(hours)

	rec := doJSON(t, h.Book, http.MethodPost, "/", bookBody(start, "checkup"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("booking failed: %d", rec.Code)
	}
	var appt appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}

	newStart := start.Add(3 * time.Hour)
	body, _ := json.Marshal(map[string]string{
		"appointment_id": appt.AppointmentID,
		"start_time":     newStart.Format(time.RFC3339),
	})
	rec = doJSON(t, h.Reschedule, http.MethodPost, "/", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var moved appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &moved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if moved.AppointmentID == appt.AppointmentID {
		t.Fatal("reschedule must issue a new appointment id")
	}

	body, _ = json.Marshal(map[string]string{
		"appointment_id": "no-such-id",
		"start_time":     newStart.Format(time.RFC3339),
	})
	rec = doJSON(t, h.Reschedule, http.MethodPost, "/", string(body))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListEndpoint(t *testing.T) {
	h, _, hours := newTestHandler(t)
	start := nextOpenDay(hours)

	if rec := doJSON(t, h.Book, http.MethodPost, "/", bookBody(start, "checkup")); rec.Code != http.StatusCreated {
		t.Fatalf("booking failed: %d", rec.Code)
	}

	rec := doJSON(t, h.List, http.MethodGet, "/api/v1/appointments", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(items))
	}

	rec = doJSON(t, h.Get, http.MethodGet, "/api/v1/appointments/get?id="+items[0].AppointmentID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from get, got %d", rec.Code)
	}
	rec = doJSON(t, h.Get, http.MethodGet, "/api/v1/appointments/get?id=nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from get, got %d", rec.Code)
	}
}

func TestStuckRecordsEndpoint(t *testing.T) {
	h, stuck, _ := newTestHandler(t)
	stuck.records = []model.ReconciliationRecord{
		{ID: 7, AppointmentID: "a1", Op: model.ReconcileOpCreate, Attempts: 10, LastError: "remote calendar unavailable", Stuck: true},
	}

	rec := doJSON(t, h.StuckRecords, http.MethodGet, "/api/v1/reconciliation/stuck", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []stuckRecordItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].RecordID != 7 || items[0].LastError == "" {
		t.Fatalf("unexpected items: %+v", items)
	}
}
