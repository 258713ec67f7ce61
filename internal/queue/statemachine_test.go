package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk-core/internal/model"
)

func waitingEntry(doctorID *uuid.UUID) model.QueueEntry {
	return model.QueueEntry{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		DoctorID:    doctorID,
		QueueNumber: 1,
		Day:         "2026-08-28",
		Priority:    model.PriorityNormal,
		Status:      model.QueueWaiting,
		ArrivalTime: time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC),
		Sequence:    1,
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.QueueStatus
		want     bool
	}{
		{model.QueueWaiting, model.QueueWithDoctor, true},
		{model.QueueWaiting, model.QueueCancelled, true},
		{model.QueueWaiting, model.QueueNoShow, true},
		{model.QueueWaiting, model.QueueCompleted, false},
		{model.QueueWithDoctor, model.QueueCompleted, true},
		{model.QueueWithDoctor, model.QueueCancelled, true},
		{model.QueueWithDoctor, model.QueueNoShow, false},
		{model.QueueWithDoctor, model.QueueWaiting, false},
		{model.QueueCompleted, model.QueueWaiting, false},
		{model.QueueCompleted, model.QueueWithDoctor, false},
		{model.QueueCancelled, model.QueueWaiting, false},
		{model.QueueNoShow, model.QueueWithDoctor, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestApplyTransitionStampsCalledTime(t *testing.T) {
	doctorID := uuid.New()
	entry := waitingEntry(&doctorID)
	now := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)

	res, err := ApplyTransition(entry, model.QueueWithDoctor, now)
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if !res.Changed {
		t.Fatal("expected a state change")
	}
	if res.Entry.Status != model.QueueWithDoctor {
		t.Errorf("status = %q, want with_doctor", res.Entry.Status)
	}
	if res.Entry.CalledTime == nil || !res.Entry.CalledTime.Equal(now) {
		t.Errorf("CalledTime = %v, want %v", res.Entry.CalledTime, now)
	}
	if res.Entry.CompletedTime != nil {
		t.Error("CompletedTime set before completion")
	}
}

func TestApplyTransitionStampsCompletedTime(t *testing.T) {
	doctorID := uuid.New()
	entry := waitingEntry(&doctorID)
	entry.Status = model.QueueWithDoctor
	now := time.Date(2026, 8, 28, 9, 45, 0, 0, time.UTC)

	res, err := ApplyTransition(entry, model.QueueCompleted, now)
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if res.Entry.CompletedTime == nil || !res.Entry.CompletedTime.Equal(now) {
		t.Errorf("CompletedTime = %v, want %v", res.Entry.CompletedTime, now)
	}
}

func TestApplyTransitionIdempotent(t *testing.T) {
	entry := waitingEntry(nil)

	res, err := ApplyTransition(entry, model.QueueWaiting, time.Now())
	if err != nil {
		t.Fatalf("re-applying current status: %v", err)
	}
	if res.Changed {
		t.Error("re-applying current status must not report a change")
	}
	if res.Entry.Status != model.QueueWaiting {
		t.Errorf("status = %q, want waiting", res.Entry.Status)
	}
}

func TestApplyTransitionRequiresDoctor(t *testing.T) {
	entry := waitingEntry(nil)

	_, err := ApplyTransition(entry, model.QueueWithDoctor, time.Now())
	if !errors.Is(err, ErrUnassignedDoctor) {
		t.Fatalf("got %v, want ErrUnassignedDoctor", err)
	}

	// Entry itself is untouched; assigning and retrying succeeds.
	doctorID := uuid.New()
	entry.DoctorID = &doctorID
	if _, err := ApplyTransition(entry, model.QueueWithDoctor, time.Now()); err != nil {
		t.Fatalf("retry after assignment: %v", err)
	}
}

func TestApplyTransitionRejectsInvalid(t *testing.T) {
	doctorID := uuid.New()

	cases := []struct {
		name   string
		from   model.QueueStatus
		target model.QueueStatus
	}{
		{"waiting to completed", model.QueueWaiting, model.QueueCompleted},
		{"with_doctor to no_show", model.QueueWithDoctor, model.QueueNoShow},
		{"completed to waiting", model.QueueCompleted, model.QueueWaiting},
		{"cancelled to with_doctor", model.QueueCancelled, model.QueueWithDoctor},
		{"unknown target", model.QueueWaiting, model.QueueStatus("archived")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := waitingEntry(&doctorID)
			entry.Status = tc.from
			if _, err := ApplyTransition(entry, tc.target, time.Now()); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("got %v, want ErrInvalidTransition", err)
			}
		})
	}
}
