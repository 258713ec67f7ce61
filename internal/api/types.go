package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk-core/internal/model"
)

type RegisterPatientRequest struct {
	FullName  string  `json:"full_name"`
	Phone     string  `json:"phone"`
	Email     *string `json:"email,omitempty"`
	Insurance *string `json:"insurance,omitempty"`
}

type CheckInRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id,omitempty"`
	Priority  string `json:"priority"`
	Notes     string `json:"notes,omitempty"`
}

type EmergencyIntakeRequest struct {
	PatientID      string `json:"patient_id"`
	Severity       string `json:"severity"`
	ChiefComplaint string `json:"chief_complaint"`
}

type TransitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor,omitempty"`
}

type AssignDoctorRequest struct {
	DoctorID string `json:"doctor_id"`
}

type AvailabilityRequest struct {
	Status string `json:"status"`
}

type ScheduleRequest struct {
	WeeklySchedule [7]model.DaySchedule `json:"weekly_schedule"`
}

type CreateAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type MoveAppointmentRequest struct {
	DoctorID string `json:"doctor_id,omitempty"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type BulkRescheduleRequest struct {
	AppointmentIDs []string `json:"appointment_ids"`
	Date           string   `json:"date"`
	Time           string   `json:"time"`
	DoctorID       string   `json:"doctor_id,omitempty"`
}

type BulkRequest struct {
	Kind        string   `json:"kind"`
	IDs         []string `json:"ids"`
	Date        string   `json:"date,omitempty"`
	Time        string   `json:"time,omitempty"`
	DoctorID    string   `json:"doctor_id,omitempty"`
	QueueStatus string   `json:"queue_status,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Actor       string   `json:"actor,omitempty"`
}

type QueueEntryResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty"`
	QueueNumber   int        `json:"queue_number"`
	Day           string     `json:"day"`
	Priority      string     `json:"priority"`
	Severity      string     `json:"severity,omitempty"`
	Status        string     `json:"status"`
	ArrivalTime   time.Time  `json:"arrival_time"`
	CalledTime    *time.Time `json:"called_time,omitempty"`
	CompletedTime *time.Time `json:"completed_time,omitempty"`
}

func queueEntryResponse(e *model.QueueEntry) QueueEntryResponse {
	return QueueEntryResponse{
		ID:            e.ID,
		PatientID:     e.PatientID,
		DoctorID:      e.DoctorID,
		QueueNumber:   e.QueueNumber,
		Day:           e.Day,
		Priority:      string(e.Priority),
		Severity:      string(e.Severity),
		Status:        string(e.Status),
		ArrivalTime:   e.ArrivalTime,
		CalledTime:    e.CalledTime,
		CompletedTime: e.CompletedTime,
	}
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	DurationMinutes int        `json:"duration_minutes"`
	Type            string     `json:"type,omitempty"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	ReminderSentAt  *time.Time `json:"reminder_sent_at,omitempty"`
}

func appointmentResponse(a *model.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Date:            a.Date,
		Time:            a.Time,
		DurationMinutes: a.DurationMinutes,
		Type:            a.Type,
		Status:          string(a.Status),
		Notes:           a.Notes,
		ReminderSentAt:  a.ReminderSentAt,
	}
}

type SyncStatusResponse struct {
	Stale           bool       `json:"stale"`
	LastEventAt     *time.Time `json:"last_event_at,omitempty"`
	StalenessWindow string     `json:"staleness_window"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// ConflictWith names the competing appointment on slot conflicts.
	ConflictWith string `json:"conflict_with,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
