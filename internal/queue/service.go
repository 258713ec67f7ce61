package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

// ErrAlreadyQueued enforces the one-active-entry-per-patient-per-day
// invariant at intake.
var ErrAlreadyQueued = errors.New("patient already has an active queue entry today")

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

type CheckInInput struct {
	PatientID uuid.UUID
	DoctorID  *uuid.UUID
	Priority  model.Priority
	Notes     string
}

// CheckIn creates the patient's queue entry for the day, issuing the next
// queue number. At most one active entry per patient per day is allowed.
func (s *Service) CheckIn(ctx context.Context, in CheckInInput) (*model.QueueEntry, error) {
	if _, err := s.store.GetPatient(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if in.DoctorID != nil {
		if _, err := s.store.GetDoctor(ctx, *in.DoctorID); err != nil {
			return nil, fmt.Errorf("load doctor: %w", err)
		}
	}

	now := s.now()
	entry, err := model.NewQueueEntry(in.PatientID, in.DoctorID, in.Priority, in.Notes, now)
	if err != nil {
		return nil, err
	}

	active, err := s.store.ListQueueEntries(ctx, store.QueueFilter{
		Day:       entry.Day,
		PatientID: &in.PatientID,
		Statuses:  []model.QueueStatus{model.QueueWaiting, model.QueueWithDoctor},
	})
	if err != nil {
		return nil, fmt.Errorf("check active entries: %w", err)
	}
	if len(active) > 0 {
		return nil, ErrAlreadyQueued
	}

	number, err := s.store.NextQueueNumber(ctx, entry.Day)
	if err != nil {
		return nil, fmt.Errorf("issue queue number: %w", err)
	}
	entry.QueueNumber = number

	created, err := s.store.InsertQueueEntry(ctx, entry)
	if errors.Is(err, store.ErrActiveEntryExists) {
		// A concurrent check-in won between the pre-check and the insert;
		// the store arbitrates. The issued number is discarded, not reused.
		return nil, ErrAlreadyQueued
	}
	if err != nil {
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}
	s.publish(model.EntityQueue, created.ID, model.OpInsert, created.Sequence, created)

	s.log.Info().
		Str("entry_id", created.ID.String()).
		Int("queue_number", created.QueueNumber).
		Str("priority", string(created.Priority)).
		Msg("patient checked in")
	return created, nil
}

type EmergencyIntakeInput struct {
	PatientID      uuid.UUID
	Severity       model.Severity
	ChiefComplaint string
}

// EmergencyIntake records a triage case and places it on the queue in the
// emergency band with its severity sub-rank. The two inserts are each
// individually consistent; there is no cross-entity transaction.
func (s *Service) EmergencyIntake(ctx context.Context, in EmergencyIntakeInput) (*model.EmergencyCase, *model.QueueEntry, error) {
	if _, err := s.store.GetPatient(ctx, in.PatientID); err != nil {
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}

	now := s.now()
	ec, err := model.NewEmergencyCase(in.PatientID, in.Severity, in.ChiefComplaint, now)
	if err != nil {
		return nil, nil, err
	}
	entry, err := model.NewQueueEntry(in.PatientID, nil, model.PriorityEmergency, in.ChiefComplaint, now)
	if err != nil {
		return nil, nil, err
	}
	entry.Severity = in.Severity
	entry.EmergencyCaseID = &ec.ID
	ec.QueueEntryID = entry.ID

	active, err := s.store.ListQueueEntries(ctx, store.QueueFilter{
		Day:       entry.Day,
		PatientID: &in.PatientID,
		Statuses:  []model.QueueStatus{model.QueueWaiting, model.QueueWithDoctor},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("check active entries: %w", err)
	}
	if len(active) > 0 {
		return nil, nil, ErrAlreadyQueued
	}

	number, err := s.store.NextQueueNumber(ctx, entry.Day)
	if err != nil {
		return nil, nil, fmt.Errorf("issue queue number: %w", err)
	}
	entry.QueueNumber = number

	createdCase, err := s.store.InsertEmergencyCase(ctx, ec)
	if err != nil {
		return nil, nil, fmt.Errorf("insert emergency case: %w", err)
	}
	s.publish(model.EntityEmergency, createdCase.ID, model.OpInsert, createdCase.Sequence, createdCase)

	createdEntry, err := s.store.InsertQueueEntry(ctx, entry)
	if errors.Is(err, store.ErrActiveEntryExists) {
		// Lost the intake race after the case record was written; the case
		// stays as triage audit and the caller retries against the entry
		// that won.
		s.log.Warn().Str("case_id", createdCase.ID.String()).Msg("emergency intake lost check-in race")
		return nil, nil, ErrAlreadyQueued
	}
	if err != nil {
		return nil, nil, fmt.Errorf("insert queue entry: %w", err)
	}
	s.publish(model.EntityQueue, createdEntry.ID, model.OpInsert, createdEntry.Sequence, createdEntry)

	s.log.Info().
		Str("case_id", createdCase.ID.String()).
		Str("severity", string(in.Severity)).
		Int("queue_number", createdEntry.QueueNumber).
		Msg("emergency intake")
	return createdCase, createdEntry, nil
}

// AssignDoctor sets or replaces the doctor on an active queue entry.
func (s *Service) AssignDoctor(ctx context.Context, entryID, doctorID uuid.UUID) (*model.QueueEntry, error) {
	entry, err := s.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load queue entry: %w", err)
	}
	if entry.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	d := &doctorID
	updated, err := s.store.UpdateQueueEntry(ctx, entryID, entry.Sequence, store.QueueEntryPatch{DoctorID: &d})
	if err != nil {
		return nil, fmt.Errorf("assign doctor: %w", err)
	}
	s.publish(model.EntityQueue, updated.ID, model.OpUpdate, updated.Sequence, updated)
	return updated, nil
}

// Transition moves a queue entry to target, enforcing the lifecycle table.
// Re-applying the entry's current status is an idempotent no-op success and
// emits no event. actor is recorded in the audit log only.
func (s *Service) Transition(ctx context.Context, entryID uuid.UUID, target model.QueueStatus, actor string) (*model.QueueEntry, error) {
	entry, err := s.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load queue entry: %w", err)
	}

	res, err := ApplyTransition(*entry, target, s.now())
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return entry, nil
	}

	patch := store.QueueEntryPatch{Status: &res.Entry.Status}
	if res.Entry.CalledTime != entry.CalledTime {
		patch.CalledTime = &res.Entry.CalledTime
	}
	if res.Entry.CompletedTime != entry.CompletedTime {
		patch.CompletedTime = &res.Entry.CompletedTime
	}

	updated, err := s.store.UpdateQueueEntry(ctx, entryID, entry.Sequence, patch)
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	s.publish(model.EntityQueue, updated.ID, model.OpUpdate, updated.Sequence, updated)

	if updated.EmergencyCaseID != nil {
		s.mirrorEmergencyStatus(ctx, *updated.EmergencyCaseID, updated.Status)
	}

	s.log.Info().
		Str("entry_id", entryID.String()).
		Str("from", string(entry.Status)).
		Str("to", string(target)).
		Str("actor", actor).
		Msg("queue transition")
	return updated, nil
}

// mirrorEmergencyStatus keeps the emergency case's display status in step
// with its queue entry. Best effort: a race on the case record is logged,
// not surfaced, since the entry is the authoritative lifecycle.
func (s *Service) mirrorEmergencyStatus(ctx context.Context, caseID uuid.UUID, status model.QueueStatus) {
	ec, err := s.store.GetEmergencyCase(ctx, caseID)
	if err != nil {
		s.log.Warn().Err(err).Str("case_id", caseID.String()).Msg("load emergency case for mirror")
		return
	}
	mirrored := model.EmergencyStatusFor(status)
	if ec.Status == mirrored {
		return
	}
	updated, err := s.store.UpdateEmergencyCase(ctx, caseID, ec.Sequence, store.EmergencyCasePatch{Status: &mirrored})
	if err != nil {
		s.log.Warn().Err(err).Str("case_id", caseID.String()).Msg("mirror emergency status")
		return
	}
	s.publish(model.EntityEmergency, updated.ID, model.OpUpdate, updated.Sequence, updated)
}

// ServingOrder answers "who is next" for the day.
func (s *Service) ServingOrder(ctx context.Context, day string) ([]model.QueueEntry, error) {
	entries, err := s.store.ListQueueEntries(ctx, store.QueueFilter{
		Day:      day,
		Statuses: []model.QueueStatus{model.QueueWaiting},
	})
	if err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}
	return Order(entries), nil
}

// Stats are the day's queue counts by status.
type Stats struct {
	Total      int `json:"total"`
	Waiting    int `json:"waiting"`
	WithDoctor int `json:"with_doctor"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
	NoShow     int `json:"no_show"`
}

func (s *Service) Stats(ctx context.Context, day string) (Stats, error) {
	entries, err := s.store.ListQueueEntries(ctx, store.QueueFilter{Day: day})
	if err != nil {
		return Stats{}, fmt.Errorf("list entries: %w", err)
	}
	var st Stats
	st.Total = len(entries)
	for _, e := range entries {
		switch e.Status {
		case model.QueueWaiting:
			st.Waiting++
		case model.QueueWithDoctor:
			st.WithDoctor++
		case model.QueueCompleted:
			st.Completed++
		case model.QueueCancelled:
			st.Cancelled++
		case model.QueueNoShow:
			st.NoShow++
		}
	}
	return st, nil
}

// RegisterPatient creates a patient record ahead of check-in.
func (s *Service) RegisterPatient(ctx context.Context, fullName, phone string, email, insurance *string) (*model.Patient, error) {
	p, err := model.NewPatient(fullName, phone, email, insurance, s.now())
	if err != nil {
		return nil, err
	}
	created, err := s.store.InsertPatient(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	s.publish(model.EntityPatient, created.ID, model.OpInsert, created.Sequence, created)
	return created, nil
}

// UpdateDoctorAvailability changes a doctor's availability status.
func (s *Service) UpdateDoctorAvailability(ctx context.Context, doctorID uuid.UUID, status model.AvailabilityStatus) (*model.Doctor, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown availability %q", model.ErrValidation, status)
	}
	doc, err := s.store.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	updated, err := s.store.UpdateDoctor(ctx, doctorID, doc.Sequence, store.DoctorPatch{Availability: &status})
	if err != nil {
		return nil, fmt.Errorf("update availability: %w", err)
	}
	s.publish(model.EntityDoctor, updated.ID, model.OpUpdate, updated.Sequence, updated)
	return updated, nil
}

// UpdateDoctorSchedule replaces a doctor's weekly schedule template.
func (s *Service) UpdateDoctorSchedule(ctx context.Context, doctorID uuid.UUID, schedule [7]model.DaySchedule) (*model.Doctor, error) {
	for day, ds := range schedule {
		if !ds.Enabled {
			continue
		}
		start, err := model.MinuteOfDay(ds.Start)
		if err != nil {
			return nil, err
		}
		end, err := model.MinuteOfDay(ds.End)
		if err != nil {
			return nil, err
		}
		if start >= end {
			return nil, fmt.Errorf("%w: schedule day %d ends before it starts", model.ErrValidation, day)
		}
	}
	doc, err := s.store.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	updated, err := s.store.UpdateDoctor(ctx, doctorID, doc.Sequence, store.DoctorPatch{WeeklySchedule: &schedule})
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	s.publish(model.EntityDoctor, updated.ID, model.OpUpdate, updated.Sequence, updated)
	return updated, nil
}

func (s *Service) publish(t model.EntityType, id uuid.UUID, op model.Operation, seq int64, entity any) {
	if s.bus == nil {
		return
	}
	ev, err := model.NewChangeEvent(t, id, op, seq, entity)
	if err != nil {
		s.log.Error().Err(err).Str("entity_id", id.String()).Msg("marshal change event")
		return
	}
	s.bus.Publish(ev)
}
