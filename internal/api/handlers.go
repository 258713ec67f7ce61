package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/bulk"
	"github.com/clinicdesk/frontdesk-core/internal/calendar"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/queue"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

func registerPatientHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		p, err := svc.RegisterPatient(r.Context(), req.FullName, req.Phone, req.Email, req.Insurance)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func checkInHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		var doctorID *uuid.UUID
		if req.DoctorID != "" {
			id, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &id
		}
		priority := model.Priority(req.Priority)
		if req.Priority == "" {
			priority = model.PriorityNormal
		}

		entry, err := svc.CheckIn(r.Context(), queue.CheckInInput{
			PatientID: patientID,
			DoctorID:  doctorID,
			Priority:  priority,
			Notes:     req.Notes,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, queueEntryResponse(entry))
	}
}

func emergencyIntakeHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmergencyIntakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		ec, entry, err := svc.EmergencyIntake(r.Context(), queue.EmergencyIntakeInput{
			PatientID:      patientID,
			Severity:       model.Severity(req.Severity),
			ChiefComplaint: req.ChiefComplaint,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"case":        ec,
			"queue_entry": queueEntryResponse(entry),
		})
	}
}

func transitionHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", "id must be a valid UUID")
			return
		}
		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		entry, err := svc.Transition(r.Context(), id, model.QueueStatus(req.Status), req.Actor)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, queueEntryResponse(entry))
	}
}

func assignDoctorHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", "id must be a valid UUID")
			return
		}
		var req AssignDoctorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		entry, err := svc.AssignDoctor(r.Context(), entryID, doctorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, queueEntryResponse(entry))
	}
}

func servingOrderHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := r.URL.Query().Get("day")
		if day == "" {
			day = time.Now().Format(model.DayLayout)
		}
		entries, err := svc.ServingOrder(r.Context(), day)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		out := make([]QueueEntryResponse, 0, len(entries))
		for i := range entries {
			out = append(out, queueEntryResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func queueStatsHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := r.URL.Query().Get("day")
		if day == "" {
			day = time.Now().Format(model.DayLayout)
		}
		stats, err := svc.Stats(r.Context(), day)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func availabilityHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doc, err := svc.UpdateDoctorAvailability(r.Context(), doctorID, model.AvailabilityStatus(req.Status))
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func scheduleHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		var req ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		doc, err := svc.UpdateDoctorSchedule(r.Context(), doctorID, req.WeeklySchedule)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func createAppointmentHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		appt, err := svc.Create(r.Context(), calendar.CreateInput{
			PatientID:       patientID,
			DoctorID:        doctorID,
			Date:            req.Date,
			Time:            req.Time,
			DurationMinutes: req.DurationMinutes,
			Type:            req.Type,
			Notes:           req.Notes,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, appointmentResponse(appt))
	}
}

func moveAppointmentHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}
		var req MoveAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		var doctorID *uuid.UUID
		if req.DoctorID != "" {
			d, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &d
		}

		appt, err := svc.Move(r.Context(), id, calendar.MoveInput{DoctorID: doctorID, Date: req.Date, Time: req.Time})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}
		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		appt, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func bulkRescheduleHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkRescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		ids, ok := parseIDs(w, req.AppointmentIDs)
		if !ok {
			return
		}
		var doctorID *uuid.UUID
		if req.DoctorID != "" {
			d, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &d
		}

		res, err := svc.BulkReschedule(r.Context(), ids, req.Date, req.Time, doctorID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func upcomingAppointmentsHandler(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_days", "days must be a positive integer")
				return
			}
			days = n
		}
		appts, err := svc.Upcoming(r.Context(), days)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, appointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func bulkHandler(engine *bulk.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		ids, ok := parseIDs(w, req.IDs)
		if !ok {
			return
		}
		var doctorID *uuid.UUID
		if req.DoctorID != "" {
			d, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = &d
		}

		res, err := engine.Execute(r.Context(), bulk.Kind(req.Kind), ids, bulk.Params{
			Date:        req.Date,
			Time:        req.Time,
			DoctorID:    doctorID,
			QueueStatus: model.QueueStatus(req.QueueStatus),
			Reason:      req.Reason,
			Actor:       req.Actor,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// syncStatusHandler reports whether the local change-feed cache is fresh
// enough for conflict-sensitive work. A stale client should refresh from the
// store before create/move/bulk-reschedule.
func syncStatusHandler(bus *broadcast.Broadcaster, window time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := bus.LastEventAt()
		resp := SyncStatusResponse{
			Stale:           bus.Stale(window, time.Now()),
			StalenessWindow: window.String(),
		}
		if !last.IsZero() {
			resp.LastEventAt = &last
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseIDs(w http.ResponseWriter, raw []string) ([]uuid.UUID, bool) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "ids must be valid UUIDs")
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// handleDomainError maps domain outcomes onto HTTP statuses. Slot conflicts
// additionally name the competing appointment.
func handleDomainError(w http.ResponseWriter, err error) {
	var conflict *calendar.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:        "slot_conflict",
			Details:      err.Error(),
			ConflictWith: conflict.With.String(),
		})
	case errors.Is(err, store.ErrStaleSequence):
		writeError(w, http.StatusConflict, "stale_write", "entity changed concurrently, refresh and retry")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, queue.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, queue.ErrUnassignedDoctor):
		writeError(w, http.StatusConflict, "unassigned_doctor", err.Error())
	case errors.Is(err, queue.ErrAlreadyQueued):
		writeError(w, http.StatusConflict, "already_queued", err.Error())
	case errors.Is(err, model.ErrValidation), errors.Is(err, bulk.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
