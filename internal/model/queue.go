package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueWaiting    QueueStatus = "waiting"
	QueueWithDoctor QueueStatus = "with_doctor"
	QueueCompleted  QueueStatus = "completed"
	QueueCancelled  QueueStatus = "cancelled"
	QueueNoShow     QueueStatus = "no_show"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueueWaiting, QueueWithDoctor, QueueCompleted, QueueCancelled, QueueNoShow:
		return true
	}
	return false
}

// Terminal reports whether the status ends the entry's pass through the
// clinic for the day.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueCancelled || s == QueueNoShow
}

// Active reports whether the entry still occupies the patient's single
// queue slot for the day.
func (s QueueStatus) Active() bool {
	return s == QueueWaiting || s == QueueWithDoctor
}

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

// Band returns the serving-order band. Lower is served first.
func (p Priority) Band() int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityUrgent:
		return 1
	default:
		return 2
	}
}

type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityUrgent     Severity = "urgent"
	SeveritySemiUrgent Severity = "semi-urgent"
	SeverityLessUrgent Severity = "less-urgent"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityUrgent, SeveritySemiUrgent, SeverityLessUrgent:
		return true
	}
	return false
}

// Rank orders severities inside the emergency band. Lower is served first.
// A zero value ranks last so non-emergency entries are unaffected.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityUrgent:
		return 1
	case SeveritySemiUrgent:
		return 2
	case SeverityLessUrgent:
		return 3
	default:
		return 4
	}
}

// QueueEntry is one patient's single active pass through the clinic on a
// given day. Queue numbers are unique per day and never reused.
type QueueEntry struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        *uuid.UUID
	EmergencyCaseID *uuid.UUID
	QueueNumber     int
	Day             string
	Priority        Priority
	// Severity is set only when Priority is emergency.
	Severity      Severity
	Status        QueueStatus
	ArrivalTime   time.Time
	CalledTime    *time.Time
	CompletedTime *time.Time
	Notes         string
	Sequence      int64
}

func NewQueueEntry(patientID uuid.UUID, doctorID *uuid.UUID, priority Priority, notes string, now time.Time) (*QueueEntry, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: queue entry needs a patient", ErrValidation)
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, priority)
	}
	return &QueueEntry{
		ID:          uuid.New(),
		PatientID:   patientID,
		DoctorID:    doctorID,
		Day:         now.Format(DayLayout),
		Priority:    priority,
		Status:      QueueWaiting,
		ArrivalTime: now,
		Notes:       notes,
	}, nil
}

type EmergencyStatus string

const (
	EmergencyWaiting    EmergencyStatus = "emergency-waiting"
	EmergencyWithDoctor EmergencyStatus = "with-doctor"
	EmergencyCompleted  EmergencyStatus = "completed"
)

// EmergencyCase holds the triage intake record. The live lifecycle state is
// carried by the linked QueueEntry, which rides the emergency priority band;
// Status mirrors the entry for display.
type EmergencyCase struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	QueueEntryID   uuid.UUID
	Severity       Severity
	ChiefComplaint string
	Status         EmergencyStatus
	Timestamp      time.Time
	Sequence       int64
}

func NewEmergencyCase(patientID uuid.UUID, severity Severity, chiefComplaint string, now time.Time) (*EmergencyCase, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: emergency case needs a patient", ErrValidation)
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}
	if chiefComplaint == "" {
		return nil, fmt.Errorf("%w: chief complaint is required", ErrValidation)
	}
	return &EmergencyCase{
		ID:             uuid.New(),
		PatientID:      patientID,
		Severity:       severity,
		ChiefComplaint: chiefComplaint,
		Status:         EmergencyWaiting,
		Timestamp:      now,
	}, nil
}

// EmergencyStatusFor maps a queue status onto the emergency case's mirror
// status. Cancelled and no-show collapse to completed for the case record.
func EmergencyStatusFor(s QueueStatus) EmergencyStatus {
	switch s {
	case QueueWithDoctor:
		return EmergencyWithDoctor
	case QueueCompleted, QueueCancelled, QueueNoShow:
		return EmergencyCompleted
	default:
		return EmergencyWaiting
	}
}
