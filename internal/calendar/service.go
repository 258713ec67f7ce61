// Package calendar validates and applies appointment mutations against a
// doctor's day, rejecting double-bookings at the boundary.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

type Service struct {
	store store.Store
	bus   *broadcast.Broadcaster
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(st store.Store, bus *broadcast.Broadcaster, log zerolog.Logger) *Service {
	return &Service{
		store: st,
		bus:   bus,
		log:   log,
		now:   time.Now,
	}
}

// CheckConflict returns a *ConflictError if [timeOfDay, timeOfDay+duration)
// overlaps any non-cancelled appointment for the doctor on date, nil if the
// slot is free. exclude skips one appointment id (the one being moved).
func (s *Service) CheckConflict(ctx context.Context, doctorID uuid.UUID, date, timeOfDay string, durationMinutes int, exclude *uuid.UUID) error {
	if err := model.ValidateSlot(date, timeOfDay, durationMinutes); err != nil {
		return err
	}
	start, err := model.MinuteOfDay(timeOfDay)
	if err != nil {
		return err
	}
	existing, err := s.store.ListAppointments(ctx, store.AppointmentFilter{DoctorID: &doctorID, Date: date})
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	if c := findConflict(existing, doctorID, date, start, durationMinutes, exclude); c != nil {
		return c
	}
	return nil
}

type CreateInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Date            string
	Time            string
	DurationMinutes int
	Type            string
	Notes           string
}

// Create books a new appointment after a conflict check. On conflict the
// returned error identifies the competing appointment and nothing is
// written.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Appointment, error) {
	appt, err := model.NewAppointment(in.PatientID, in.DoctorID, in.Date, in.Time, in.DurationMinutes, in.Type, s.now())
	if err != nil {
		return nil, err
	}
	appt.Notes = in.Notes

	if _, err := s.store.GetPatient(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.store.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if err := s.CheckConflict(ctx, in.DoctorID, in.Date, in.Time, in.DurationMinutes, nil); err != nil {
		return nil, err
	}

	created, err := s.store.InsertAppointment(ctx, appt)
	if err != nil {
		// A concurrent booking can take the slot between the conflict check
		// and the insert; the store arbitrates and names the winner.
		if c := asConflict(err); c != nil {
			return nil, c
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	s.publish(created, model.OpInsert)

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", in.DoctorID.String()).
		Str("date", in.Date).
		Str("time", in.Time).
		Msg("appointment created")
	return created, nil
}

type MoveInput struct {
	// DoctorID moves the appointment to another doctor when set.
	DoctorID *uuid.UUID
	Date     string
	Time     string
}

// Move reschedules an appointment, checking the destination slot while
// excluding the appointment itself from the scan.
func (s *Service) Move(ctx context.Context, id uuid.UUID, in MoveInput) (*model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	doctorID := appt.DoctorID
	if in.DoctorID != nil {
		doctorID = *in.DoctorID
		if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
			return nil, fmt.Errorf("load doctor: %w", err)
		}
	}
	if err := s.CheckConflict(ctx, doctorID, in.Date, in.Time, appt.DurationMinutes, &id); err != nil {
		return nil, err
	}

	patch := store.AppointmentPatch{Date: &in.Date, Time: &in.Time}
	if in.DoctorID != nil {
		patch.DoctorID = in.DoctorID
	}
	updated, err := s.store.UpdateAppointment(ctx, id, appt.Sequence, patch)
	if err != nil {
		if c := asConflict(err); c != nil {
			return nil, c
		}
		return nil, fmt.Errorf("move appointment: %w", err)
	}
	s.publish(updated, model.OpUpdate)

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("date", in.Date).
		Str("time", in.Time).
		Msg("appointment moved")
	return updated, nil
}

// BulkReschedule moves every id to the same destination slot. Items are
// independent: one conflict does not block or roll back the rest, so
// interleaved targets simply collect their own failures.
func (s *Service) BulkReschedule(ctx context.Context, ids []uuid.UUID, date, timeOfDay string, doctorID *uuid.UUID) (model.BulkResult, error) {
	var res model.BulkResult
	for _, id := range ids {
		_, err := s.Move(ctx, id, MoveInput{DoctorID: doctorID, Date: date, Time: timeOfDay})
		if err != nil {
			res.Failed = append(res.Failed, model.BulkFailure{ID: id, Reason: FailureReason(err)})
			continue
		}
		res.Applied = append(res.Applied, id)
	}
	return res, nil
}

// Cancel sets the appointment to cancelled, which removes it from all
// future conflict checks. The record is retained for the audit trail.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == model.AppointmentCancelled {
		return appt, nil
	}

	cancelled := model.AppointmentCancelled
	patch := store.AppointmentPatch{Status: &cancelled}
	if reason != "" {
		patch.Notes = &reason
	}
	updated, err := s.store.UpdateAppointment(ctx, id, appt.Sequence, patch)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	s.publish(updated, model.OpUpdate)
	return updated, nil
}

// UpdateStatus applies a status change (confirm, complete, no-show) without
// touching the slot.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) (*model.Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown appointment status %q", model.ErrValidation, status)
	}
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == status {
		return appt, nil
	}
	updated, err := s.store.UpdateAppointment(ctx, id, appt.Sequence, store.AppointmentPatch{Status: &status})
	if err != nil {
		// Reactivating a cancelled appointment re-enters conflict checking
		// and can find its old slot taken.
		if c := asConflict(err); c != nil {
			return nil, c
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	s.publish(updated, model.OpUpdate)
	return updated, nil
}

// MarkReminderSent flags that a reminder was dispatched for the
// appointment. Delivery itself belongs to the notification collaborator.
func (s *Service) MarkReminderSent(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	t := s.now()
	sent := &t
	updated, err := s.store.UpdateAppointment(ctx, id, appt.Sequence, store.AppointmentPatch{ReminderSentAt: &sent})
	if err != nil {
		return nil, fmt.Errorf("mark reminder: %w", err)
	}
	s.publish(updated, model.OpUpdate)
	return updated, nil
}

// Upcoming lists booked and confirmed appointments from today through the
// next days days.
func (s *Service) Upcoming(ctx context.Context, days int) ([]model.Appointment, error) {
	if days <= 0 {
		days = 7
	}
	now := s.now()
	from := now.Format(model.DayLayout)
	to := now.AddDate(0, 0, days).Format(model.DayLayout)
	return s.store.ListAppointments(ctx, store.AppointmentFilter{
		DateFrom: from,
		DateTo:   to,
		Statuses: []model.AppointmentStatus{model.AppointmentBooked, model.AppointmentConfirmed},
	})
}

// DoctorDay lists every appointment for a doctor on one date.
func (s *Service) DoctorDay(ctx context.Context, doctorID uuid.UUID, date string) ([]model.Appointment, error) {
	return s.store.ListAppointments(ctx, store.AppointmentFilter{DoctorID: &doctorID, Date: date})
}

func (s *Service) publish(a *model.Appointment, op model.Operation) {
	if s.bus == nil {
		return
	}
	ev, err := model.NewChangeEvent(model.EntityAppointment, a.ID, op, a.Sequence, a)
	if err != nil {
		s.log.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("marshal change event")
		return
	}
	s.bus.Publish(ev)
}
