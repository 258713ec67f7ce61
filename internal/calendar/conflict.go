package calendar

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

// ConflictError reports an appointment overlap, naming the competing
// appointment so the caller can surface it. No alternate slot is suggested;
// picking one is a caller decision.
type ConflictError struct {
	// With is the id of the existing appointment occupying the slot.
	With uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot conflicts with appointment %s", e.With)
}

// asConflict converts the store's commit-time overlap rejection into a
// ConflictError, nil for any other error.
func asConflict(err error) *ConflictError {
	var ov *store.OverlapError
	if errors.As(err, &ov) {
		return &ConflictError{With: ov.With}
	}
	return nil
}

// findConflict scans existing non-cancelled appointments for one whose
// half-open interval overlaps [start, start+duration) on the same date for
// the same doctor. exclude skips the appointment being moved.
func findConflict(existing []model.Appointment, doctorID uuid.UUID, date string, startMinute, durationMinutes int, exclude *uuid.UUID) *ConflictError {
	newStart, newEnd := startMinute, startMinute+durationMinutes
	for _, a := range existing {
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.DoctorID != doctorID || a.Date != date {
			continue
		}
		if a.Status == model.AppointmentCancelled {
			continue
		}
		aStart, aEnd := a.Interval()
		if model.Overlaps(aStart, aEnd, newStart, newEnd) {
			return &ConflictError{With: a.ID}
		}
	}
	return nil
}
