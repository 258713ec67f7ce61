package queue

import (
	"errors"
	"time"

	"github.com/clinicdesk/frontdesk-core/internal/model"
)

var (
	ErrInvalidTransition = errors.New("invalid queue transition")
	// ErrUnassignedDoctor blocks entering with_doctor before a doctor is
	// assigned. Assign first, then retry.
	ErrUnassignedDoctor = errors.New("queue entry has no assigned doctor")
)

// transitions maps each non-terminal status to the statuses reachable from
// it. Terminal statuses have no outgoing edges.
var transitions = map[model.QueueStatus][]model.QueueStatus{
	model.QueueWaiting:    {model.QueueWithDoctor, model.QueueCancelled, model.QueueNoShow},
	model.QueueWithDoctor: {model.QueueCompleted, model.QueueCancelled},
}

// CanTransition reports whether target is reachable from from in one step.
func CanTransition(from, to model.QueueStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionResult is the outcome of applying a transition to a copy of the
// entry. Changed is false for the idempotent re-application of the current
// status, which is a success that must not emit a second event.
type TransitionResult struct {
	Entry   model.QueueEntry
	Changed bool
}

// ApplyTransition validates and applies a lifecycle transition on a copy of
// entry, stamping CalledTime on entering with_doctor and CompletedTime on
// entering completed. The entry itself is not persisted here.
func ApplyTransition(entry model.QueueEntry, target model.QueueStatus, now time.Time) (TransitionResult, error) {
	if !target.Valid() {
		return TransitionResult{}, ErrInvalidTransition
	}
	if entry.Status == target {
		return TransitionResult{Entry: entry, Changed: false}, nil
	}
	if !CanTransition(entry.Status, target) {
		return TransitionResult{}, ErrInvalidTransition
	}
	if target == model.QueueWithDoctor && entry.DoctorID == nil {
		return TransitionResult{}, ErrUnassignedDoctor
	}

	entry.Status = target
	switch target {
	case model.QueueWithDoctor:
		t := now
		entry.CalledTime = &t
	case model.QueueCompleted:
		t := now
		entry.CompletedTime = &t
	}
	return TransitionResult{Entry: entry, Changed: true}, nil
}
