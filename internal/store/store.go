// Package store defines the durable-store contract the coordination core is
// written against. The core performs no blocking I/O of its own; every
// implementation hands results back as plain data and signals lost optimistic
// writes with ErrStaleSequence.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk-core/internal/model"
)

var (
	ErrNotFound = errors.New("entity not found")
	// ErrStaleSequence is the optimistic-concurrency failure: the caller's
	// expected sequence no longer matches the stored entity. The losing
	// writer must refresh and retry; the write is never silently dropped.
	ErrStaleSequence = errors.New("stale sequence")
	// ErrActiveEntryExists is the commit-time arbitration for the
	// one-active-queue-entry-per-patient-per-day rule. Callers pre-check for
	// a friendlier error, but two writers can both pass that check; the
	// store rejects the loser here.
	ErrActiveEntryExists = errors.New("patient already has an active queue entry for the day")
)

// OverlapError is the commit-time arbitration for doctor double-booking: an
// insert or move whose interval overlaps an existing non-cancelled
// appointment is rejected by the store even when the caller's conflict
// pre-check passed against a stale view. With names the competing
// appointment when the store can identify it.
type OverlapError struct {
	With uuid.UUID
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("appointment overlaps existing appointment %s", e.With)
}

// QueueFilter narrows ListQueueEntries. Zero values match everything.
type QueueFilter struct {
	Day       string
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Statuses  []model.QueueStatus
}

// AppointmentFilter narrows ListAppointments. Date matches one day;
// DateFrom/DateTo select an inclusive window when Date is empty.
type AppointmentFilter struct {
	DoctorID *uuid.UUID
	Date     string
	DateFrom string
	DateTo   string
	Statuses []model.AppointmentStatus
}

// DoctorPatch updates a doctor in place. Nil fields are left untouched.
type DoctorPatch struct {
	Availability   *model.AvailabilityStatus
	WeeklySchedule *[7]model.DaySchedule
}

// QueueEntryPatch updates a queue entry in place. Nil fields are left
// untouched.
type QueueEntryPatch struct {
	DoctorID      **uuid.UUID
	Status        *model.QueueStatus
	CalledTime    **time.Time
	CompletedTime **time.Time
	Notes         *string
}

// AppointmentPatch updates an appointment in place. Nil fields are left
// untouched.
type AppointmentPatch struct {
	DoctorID        *uuid.UUID
	Date            *string
	Time            *string
	DurationMinutes *int
	Status          *model.AppointmentStatus
	Notes           *string
	ReminderSentAt  **time.Time
}

// EmergencyCasePatch updates an emergency case in place.
type EmergencyCasePatch struct {
	Status *model.EmergencyStatus
}

// Store is the single source of truth the core reconciles against. Inserts
// return the entity stamped with its initial sequence; updates take the
// caller's last-seen sequence and fail with ErrStaleSequence when another
// writer got there first. Subscribe feeds every accepted mutation, including
// ones this client produced itself, to the handler.
type Store interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	InsertPatient(ctx context.Context, p *model.Patient) (*model.Patient, error)

	GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
	ListDoctors(ctx context.Context) ([]model.Doctor, error)
	InsertDoctor(ctx context.Context, d *model.Doctor) (*model.Doctor, error)
	UpdateDoctor(ctx context.Context, id uuid.UUID, expectedSeq int64, patch DoctorPatch) (*model.Doctor, error)

	GetQueueEntry(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error)
	ListQueueEntries(ctx context.Context, f QueueFilter) ([]model.QueueEntry, error)
	InsertQueueEntry(ctx context.Context, e *model.QueueEntry) (*model.QueueEntry, error)
	UpdateQueueEntry(ctx context.Context, id uuid.UUID, expectedSeq int64, patch QueueEntryPatch) (*model.QueueEntry, error)
	// NextQueueNumber issues the next queue number for the day. Numbers are
	// monotonic per day and never reused, even if the entry they were issued
	// for is discarded.
	NextQueueNumber(ctx context.Context, day string) (int, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	InsertAppointment(ctx context.Context, a *model.Appointment) (*model.Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, expectedSeq int64, patch AppointmentPatch) (*model.Appointment, error)

	GetEmergencyCase(ctx context.Context, id uuid.UUID) (*model.EmergencyCase, error)
	InsertEmergencyCase(ctx context.Context, c *model.EmergencyCase) (*model.EmergencyCase, error)
	UpdateEmergencyCase(ctx context.Context, id uuid.UUID, expectedSeq int64, patch EmergencyCasePatch) (*model.EmergencyCase, error)

	Subscribe(entityType model.EntityType, handler func(model.ChangeEvent)) (unsubscribe func())
}
