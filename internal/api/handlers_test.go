package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/bulk"
	"github.com/clinicdesk/frontdesk-core/internal/calendar"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/queue"
	"github.com/clinicdesk/frontdesk-core/internal/store/memory"
)

type apiFixture struct {
	handler   http.Handler
	store     *memory.Store
	patientID string
	doctorID  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	q := queue.NewService(st, nil, zerolog.Nop())
	c := calendar.NewService(st, nil, zerolog.Nop())
	e := bulk.NewEngine(q, c, st, zerolog.Nop())

	p, err := q.RegisterPatient(ctx, "Test Patient", "555-0100", nil, nil)
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	d, err := model.NewDoctor("Dr. Test", []string{"General Practice"}, "Room 1", time.Now())
	if err != nil {
		t.Fatalf("new doctor: %v", err)
	}
	doc, err := st.InsertDoctor(ctx, d)
	if err != nil {
		t.Fatalf("insert doctor: %v", err)
	}

	return &apiFixture{
		handler: NewRouter(RouterConfig{
			Queue:    q,
			Calendar: c,
			Bulk:     e,
			Log:      zerolog.Nop(),
			Env:      "test",
			Version:  "test",
		}),
		store:     st,
		patientID: p.ID.String(),
		doctorID:  doc.ID.String(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestCheckInEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/check-in", CheckInRequest{PatientID: f.patientID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var entry QueueEntryResponse
	if err := json.NewDecoder(rec.Body).Decode(&entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.QueueNumber != 1 || entry.Status != "waiting" || entry.Priority != "normal" {
		t.Errorf("entry = %+v, want number 1, waiting, default normal priority", entry)
	}

	// Same patient again while active: 409.
	rec = f.do(t, http.MethodPost, "/queue/check-in", CheckInRequest{PatientID: f.patientID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	if e := decodeErr(t, rec); e.Error != "already_queued" {
		t.Errorf("error = %q, want already_queued", e.Error)
	}
}

func TestCheckInBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/check-in", CheckInRequest{PatientID: "not-a-uuid"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if e := decodeErr(t, rec); e.Error != "invalid_patient_id" {
		t.Errorf("error = %q, want invalid_patient_id", e.Error)
	}
}

func TestTransitionEndpointErrorMapping(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/queue/check-in", CheckInRequest{PatientID: f.patientID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("check-in: %d", rec.Code)
	}
	var entry QueueEntryResponse
	if err := json.NewDecoder(rec.Body).Decode(&entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	base := fmt.Sprintf("/queue/%s", entry.ID)

	// with_doctor before assignment: 409 unassigned_doctor.
	rec = f.do(t, http.MethodPost, base+"/transition", TransitionRequest{Status: "with_doctor"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if e := decodeErr(t, rec); e.Error != "unassigned_doctor" {
		t.Errorf("error = %q, want unassigned_doctor", e.Error)
	}

	rec = f.do(t, http.MethodPost, base+"/assign-doctor", AssignDoctorRequest{DoctorID: f.doctorID})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: %d, body %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, base+"/transition", TransitionRequest{Status: "with_doctor"})
	if rec.Code != http.StatusOK {
		t.Fatalf("retry after assignment: %d, body %s", rec.Code, rec.Body)
	}

	// Illegal edge: 409 invalid_transition.
	rec = f.do(t, http.MethodPost, base+"/transition", TransitionRequest{Status: "no_show"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if e := decodeErr(t, rec); e.Error != "invalid_transition" {
		t.Errorf("error = %q, want invalid_transition", e.Error)
	}
}

func TestAppointmentConflictResponse(t *testing.T) {
	f := newAPIFixture(t)

	first := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: f.patientID, DoctorID: f.doctorID,
		Date: "2026-09-01", Time: "10:00", DurationMinutes: 30,
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("create: %d, body %s", first.Code, first.Body)
	}
	var appt AppointmentResponse
	if err := json.NewDecoder(first.Body).Decode(&appt); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: f.patientID, DoctorID: f.doctorID,
		Date: "2026-09-01", Time: "10:15", DurationMinutes: 30,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	e := decodeErr(t, rec)
	if e.Error != "slot_conflict" {
		t.Errorf("error = %q, want slot_conflict", e.Error)
	}
	if e.ConflictWith != appt.ID.String() {
		t.Errorf("conflict_with = %q, want the first appointment", e.ConflictWith)
	}
}

func TestAppointmentNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/appointments/7f9c24e5-95f1-4c29-9b1f-6d4bbe3f3b79/cancel", CancelAppointmentRequest{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestBulkEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: f.patientID, DoctorID: f.doctorID,
		Date: "2026-09-01", Time: "10:00", DurationMinutes: 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	var appt AppointmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&appt); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = f.do(t, http.MethodPost, "/bulk", BulkRequest{
		Kind: "cancel",
		IDs:  []string{appt.ID.String()},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk: %d, body %s", rec.Code, rec.Body)
	}
	var res model.BulkResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Applied) != 1 || len(res.Failed) != 0 {
		t.Errorf("result = %+v, want one applied", res)
	}

	rec = f.do(t, http.MethodPost, "/bulk", BulkRequest{Kind: "defragment"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: %d, want 400", rec.Code)
	}
}

func TestReadinessReportsFeedStaleness(t *testing.T) {
	bus := broadcast.New(zerolog.Nop())
	h := NewHealthHandler(nil, nil, bus, 30*time.Second, "test", "test")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	// A stale feed degrades readiness but does not fail it; writes still
	// land on the store.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Dependencies["sync_feed"] != "stale" {
		t.Errorf("response = %+v, want degraded with stale sync_feed", resp)
	}

	// A remote event refreshes the feed.
	ev, err := model.NewChangeEvent(model.EntityQueue, uuid.New(), model.OpInsert, 1, struct{}{})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	bus.Receive(ev)

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Dependencies["sync_feed"] != "ok" {
		t.Errorf("response = %+v, want ok after a feed event", resp)
	}
}
