package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotMinutes is the calendar granularity. Appointment times must fall on
// a slot boundary and durations must be a positive multiple of it.
const SlotMinutes = 15

// ClockLayout is the appointment time-of-day format.
const ClockLayout = "15:04"

type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no-show"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentBooked, AppointmentConfirmed, AppointmentCompleted,
		AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string
	// Time is the slot start in ClockLayout.
	Time string
	// DurationMinutes is a positive multiple of SlotMinutes.
	DurationMinutes int
	Type            string
	Status          AppointmentStatus
	Notes           string
	ReminderSentAt  *time.Time
	CreatedAt       time.Time
	Sequence        int64
}

func NewAppointment(patientID, doctorID uuid.UUID, date, timeOfDay string, durationMinutes int, apptType string, now time.Time) (*Appointment, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: appointment needs a patient", ErrValidation)
	}
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: appointment needs a doctor", ErrValidation)
	}
	if err := ValidateSlot(date, timeOfDay, durationMinutes); err != nil {
		return nil, err
	}
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        doctorID,
		Date:            date,
		Time:            timeOfDay,
		DurationMinutes: durationMinutes,
		Type:            apptType,
		Status:          AppointmentBooked,
		CreatedAt:       now,
	}, nil
}

// ValidateSlot checks that date, time and duration describe a legal
// calendar slot.
func ValidateSlot(date, timeOfDay string, durationMinutes int) error {
	if _, err := time.Parse(DayLayout, date); err != nil {
		return fmt.Errorf("%w: bad date %q", ErrValidation, date)
	}
	start, err := MinuteOfDay(timeOfDay)
	if err != nil {
		return err
	}
	if start%SlotMinutes != 0 {
		return fmt.Errorf("%w: time %q is not on a %d-minute boundary", ErrValidation, timeOfDay, SlotMinutes)
	}
	if durationMinutes <= 0 || durationMinutes%SlotMinutes != 0 {
		return fmt.Errorf("%w: duration %d is not a positive multiple of %d", ErrValidation, durationMinutes, SlotMinutes)
	}
	return nil
}

// MinuteOfDay parses a ClockLayout time into minutes since midnight.
func MinuteOfDay(timeOfDay string) (int, error) {
	t, err := time.Parse(ClockLayout, timeOfDay)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrValidation, timeOfDay)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Interval returns the half-open minute interval [start, end) the
// appointment occupies on its date.
func (a *Appointment) Interval() (start, end int) {
	start, _ = MinuteOfDay(a.Time)
	return start, start + a.DurationMinutes
}

// Overlaps reports whether two half-open minute intervals intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// BulkFailure records one item that a bulk operation could not apply.
type BulkFailure struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// BulkResult is the aggregate outcome of a best-effort bulk operation.
// Partial success is the designed success mode; Failed never aborts Applied.
type BulkResult struct {
	Applied []uuid.UUID   `json:"applied"`
	Failed  []BulkFailure `json:"failed"`
}
