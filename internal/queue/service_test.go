package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/store"
	"github.com/clinicdesk/frontdesk-core/internal/store/memory"
)

type serviceFixture struct {
	svc   *Service
	store *memory.Store
	bus   *broadcast.Broadcaster
	now   time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	st := memory.New()
	bus := broadcast.New(zerolog.Nop())
	svc := NewService(st, bus, zerolog.Nop())
	f := &serviceFixture{
		svc:   svc,
		store: st,
		bus:   bus,
		now:   time.Date(2026, 8, 28, 8, 30, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *serviceFixture) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	p, err := f.svc.RegisterPatient(context.Background(), "Test Patient", "555-0100", nil, nil)
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	return p.ID
}

func (f *serviceFixture) addDoctor(t *testing.T) uuid.UUID {
	t.Helper()
	d, err := model.NewDoctor("Dr. Test", []string{"General Practice"}, "Room 1", f.now)
	if err != nil {
		t.Fatalf("new doctor: %v", err)
	}
	created, err := f.store.InsertDoctor(context.Background(), d)
	if err != nil {
		t.Fatalf("insert doctor: %v", err)
	}
	return created.ID
}

// countEvents subscribes to queue events on the fixture's bus and returns a
// live counter.
func (f *serviceFixture) countEvents(t *testing.T) *int {
	t.Helper()
	n := new(int)
	unsub := f.bus.Subscribe(model.EntityQueue, func(model.ChangeEvent) { *n++ })
	t.Cleanup(unsub)
	return n
}

func TestCheckInAssignsSequentialNumbers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: f.addPatient(t), Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	second, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: f.addPatient(t), Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("second check-in: %v", err)
	}

	if first.QueueNumber != 1 || second.QueueNumber != 2 {
		t.Errorf("queue numbers = %d, %d, want 1, 2", first.QueueNumber, second.QueueNumber)
	}
	if first.Status != model.QueueWaiting {
		t.Errorf("status = %q, want waiting", first.Status)
	}
	if first.Day != "2026-08-28" {
		t.Errorf("day = %q, want 2026-08-28", first.Day)
	}
}

func TestCheckInUnknownPatient(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.CheckIn(context.Background(), CheckInInput{PatientID: uuid.New(), Priority: model.PriorityNormal})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCheckInRejectsSecondActiveEntry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	patientID := f.addPatient(t)

	entry, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: patientID, Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}

	if _, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: patientID, Priority: model.PriorityUrgent}); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("duplicate check-in: got %v, want ErrAlreadyQueued", err)
	}

	// After the entry terminates the patient may check in again, and the
	// old queue number is not reused.
	if _, err := f.svc.Transition(ctx, entry.ID, model.QueueCancelled, "desk"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	again, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: patientID, Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("re-check-in after cancel: %v", err)
	}
	if again.QueueNumber <= entry.QueueNumber {
		t.Errorf("reissued number %d not above %d", again.QueueNumber, entry.QueueNumber)
	}
}

// Two terminals checking in the same patient must serialize to one entry
// even when both pass the active-entry pre-check before either inserts; the
// store arbitrates inside its write lock.
func TestConcurrentCheckInsSingleEntry(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 200; round++ {
		f := newServiceFixture(t)
		patientID := f.addPatient(t)

		start := make(chan struct{})
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = f.svc.CheckIn(ctx, CheckInInput{PatientID: patientID, Priority: model.PriorityNormal})
			}(i)
		}
		close(start)
		wg.Wait()

		var wins int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyQueued):
			default:
				t.Fatalf("round %d: unexpected error: %v", round, err)
			}
		}
		if wins != 1 {
			t.Fatalf("round %d: %d check-ins succeeded, want exactly 1", round, wins)
		}

		entries, err := f.store.ListQueueEntries(ctx, store.QueueFilter{Day: "2026-08-28", PatientID: &patientID})
		if err != nil {
			t.Fatalf("list entries: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("round %d: patient has %d entries, want 1", round, len(entries))
		}
	}
}

func TestTransitionLifecycleWithEvents(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	patientID := f.addPatient(t)
	doctorID := f.addDoctor(t)

	entry, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: patientID, Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	events := f.countEvents(t)

	// No doctor assigned yet.
	if _, err := f.svc.Transition(ctx, entry.ID, model.QueueWithDoctor, "desk"); !errors.Is(err, ErrUnassignedDoctor) {
		t.Fatalf("got %v, want ErrUnassignedDoctor", err)
	}
	if *events != 0 {
		t.Fatalf("failed transition emitted %d events", *events)
	}

	if _, err := f.svc.AssignDoctor(ctx, entry.ID, doctorID); err != nil {
		t.Fatalf("assign doctor: %v", err)
	}
	called, err := f.svc.Transition(ctx, entry.ID, model.QueueWithDoctor, "desk")
	if err != nil {
		t.Fatalf("retry after assignment: %v", err)
	}
	if called.CalledTime == nil || !called.CalledTime.Equal(f.now) {
		t.Errorf("CalledTime = %v, want %v", called.CalledTime, f.now)
	}
	afterCall := *events

	// Idempotent re-application: success, no new event.
	same, err := f.svc.Transition(ctx, entry.ID, model.QueueWithDoctor, "desk")
	if err != nil {
		t.Fatalf("idempotent transition: %v", err)
	}
	if same.Status != model.QueueWithDoctor {
		t.Errorf("status = %q, want with_doctor", same.Status)
	}
	if *events != afterCall {
		t.Errorf("idempotent transition emitted an event (%d -> %d)", afterCall, *events)
	}

	done, err := f.svc.Transition(ctx, entry.ID, model.QueueCompleted, "desk")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedTime == nil {
		t.Error("CompletedTime not stamped")
	}
	if *events != afterCall+1 {
		t.Errorf("completion events = %d, want %d", *events, afterCall+1)
	}
}

func TestAssignDoctorRejectsTerminalEntry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doctorID := f.addDoctor(t)

	entry, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: f.addPatient(t), Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if _, err := f.svc.Transition(ctx, entry.ID, model.QueueNoShow, "desk"); err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if _, err := f.svc.AssignDoctor(ctx, entry.ID, doctorID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestEmergencyIntake(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	patientID := f.addPatient(t)

	ec, entry, err := f.svc.EmergencyIntake(ctx, EmergencyIntakeInput{
		PatientID:      patientID,
		Severity:       model.SeverityCritical,
		ChiefComplaint: "chest pain",
	})
	if err != nil {
		t.Fatalf("emergency intake: %v", err)
	}

	if entry.Priority != model.PriorityEmergency {
		t.Errorf("priority = %q, want emergency", entry.Priority)
	}
	if entry.Severity != model.SeverityCritical {
		t.Errorf("severity = %q, want critical", entry.Severity)
	}
	if entry.EmergencyCaseID == nil || *entry.EmergencyCaseID != ec.ID {
		t.Error("entry not linked to its emergency case")
	}
	if ec.QueueEntryID != entry.ID {
		t.Error("case not linked back to its queue entry")
	}

	// The triage case mirrors the entry's lifecycle.
	doctorID := f.addDoctor(t)
	if _, err := f.svc.AssignDoctor(ctx, entry.ID, doctorID); err != nil {
		t.Fatalf("assign doctor: %v", err)
	}
	if _, err := f.svc.Transition(ctx, entry.ID, model.QueueWithDoctor, "triage"); err != nil {
		t.Fatalf("with_doctor: %v", err)
	}
	mirrored, err := f.store.GetEmergencyCase(ctx, ec.ID)
	if err != nil {
		t.Fatalf("load case: %v", err)
	}
	if mirrored.Status != model.EmergencyWithDoctor {
		t.Errorf("case status = %q, want with-doctor", mirrored.Status)
	}
}

func TestEmergencyIntakeOutranksEarlierArrivals(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: f.addPatient(t), Priority: model.PriorityNormal}); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	f.now = f.now.Add(time.Hour)
	_, entry, err := f.svc.EmergencyIntake(ctx, EmergencyIntakeInput{
		PatientID:      f.addPatient(t),
		Severity:       model.SeverityUrgent,
		ChiefComplaint: "deep laceration",
	})
	if err != nil {
		t.Fatalf("emergency intake: %v", err)
	}

	order, err := f.svc.ServingOrder(ctx, entry.Day)
	if err != nil {
		t.Fatalf("serving order: %v", err)
	}
	if len(order) != 2 || order[0].ID != entry.ID {
		t.Error("emergency entry must head the serving order")
	}
}

func TestStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doctorID := f.addDoctor(t)

	a, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: f.addPatient(t), DoctorID: &doctorID, Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	b, err := f.svc.CheckIn(ctx, CheckInInput{PatientID: f.addPatient(t), Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if _, err := f.svc.Transition(ctx, a.ID, model.QueueWithDoctor, "desk"); err != nil {
		t.Fatalf("with_doctor: %v", err)
	}
	if _, err := f.svc.Transition(ctx, b.ID, model.QueueCancelled, "desk"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stats, err := f.svc.Stats(ctx, a.Day)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Total: 2, WithDoctor: 1, Cancelled: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestUpdateDoctorAvailability(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doctorID := f.addDoctor(t)

	if _, err := f.svc.UpdateDoctorAvailability(ctx, doctorID, model.AvailabilityStatus("golfing")); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	updated, err := f.svc.UpdateDoctorAvailability(ctx, doctorID, model.DoctorAvailable)
	if err != nil {
		t.Fatalf("update availability: %v", err)
	}
	if updated.Availability != model.DoctorAvailable {
		t.Errorf("availability = %q, want available", updated.Availability)
	}
}

func TestUpdateDoctorScheduleValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doctorID := f.addDoctor(t)

	var bad [7]model.DaySchedule
	bad[time.Monday] = model.DaySchedule{Enabled: true, Start: "17:00", End: "09:00"}
	if _, err := f.svc.UpdateDoctorSchedule(ctx, doctorID, bad); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("inverted day: got %v, want ErrValidation", err)
	}

	var good [7]model.DaySchedule
	for d := time.Monday; d <= time.Friday; d++ {
		good[d] = model.DaySchedule{Enabled: true, Start: "09:00", End: "17:00"}
	}
	updated, err := f.svc.UpdateDoctorSchedule(ctx, doctorID, good)
	if err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	if !updated.WeeklySchedule[time.Wednesday].Enabled {
		t.Error("schedule not applied")
	}
}
