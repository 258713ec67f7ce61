// Package memory implements the store contract in process. It is the
// reference implementation: unit tests and the convergence simulator run on
// it, and a single-terminal deployment can use it directly.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

type Store struct {
	mu sync.RWMutex

	patients     map[uuid.UUID]model.Patient
	doctors      map[uuid.UUID]model.Doctor
	queueEntries map[uuid.UUID]model.QueueEntry
	appointments map[uuid.UUID]model.Appointment
	emergencies  map[uuid.UUID]model.EmergencyCase

	queueCounters map[string]int

	subMu  sync.RWMutex
	subs   map[model.EntityType]map[int]func(model.ChangeEvent)
	nextID int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		patients:      make(map[uuid.UUID]model.Patient),
		doctors:       make(map[uuid.UUID]model.Doctor),
		queueEntries:  make(map[uuid.UUID]model.QueueEntry),
		appointments:  make(map[uuid.UUID]model.Appointment),
		emergencies:   make(map[uuid.UUID]model.EmergencyCase),
		queueCounters: make(map[string]int),
		subs:          make(map[model.EntityType]map[int]func(model.ChangeEvent)),
	}
}

func (s *Store) Subscribe(entityType model.EntityType, handler func(model.ChangeEvent)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs[entityType] == nil {
		s.subs[entityType] = make(map[int]func(model.ChangeEvent))
	}
	id := s.nextID
	s.nextID++
	s.subs[entityType][id] = handler
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs[entityType], id)
	}
}

// emit fans an accepted mutation out to subscribers. Called outside the
// state lock so handlers may call back into the store.
func (s *Store) emit(entityType model.EntityType, id uuid.UUID, op model.Operation, seq int64, entity any) {
	ev, err := model.NewChangeEvent(entityType, id, op, seq, entity)
	if err != nil {
		return
	}
	s.subMu.RLock()
	handlers := make([]func(model.ChangeEvent), 0, len(s.subs[entityType]))
	for _, h := range s.subs[entityType] {
		handlers = append(handlers, h)
	}
	s.subMu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Patients

func (s *Store) GetPatient(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) InsertPatient(_ context.Context, p *model.Patient) (*model.Patient, error) {
	s.mu.Lock()
	cp := *p
	cp.Sequence = 1
	s.patients[cp.ID] = cp
	s.mu.Unlock()
	s.emit(model.EntityPatient, cp.ID, model.OpInsert, cp.Sequence, cp)
	return &cp, nil
}

// Doctors

func (s *Store) GetDoctor(_ context.Context, id uuid.UUID) (*model.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) ListDoctors(_ context.Context) ([]model.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *Store) InsertDoctor(_ context.Context, d *model.Doctor) (*model.Doctor, error) {
	s.mu.Lock()
	cp := *d
	cp.Sequence = 1
	s.doctors[cp.ID] = cp
	s.mu.Unlock()
	s.emit(model.EntityDoctor, cp.ID, model.OpInsert, cp.Sequence, cp)
	return &cp, nil
}

func (s *Store) UpdateDoctor(_ context.Context, id uuid.UUID, expectedSeq int64, patch store.DoctorPatch) (*model.Doctor, error) {
	s.mu.Lock()
	d, ok := s.doctors[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if d.Sequence != expectedSeq {
		s.mu.Unlock()
		return nil, store.ErrStaleSequence
	}
	if patch.Availability != nil {
		d.Availability = *patch.Availability
	}
	if patch.WeeklySchedule != nil {
		d.WeeklySchedule = *patch.WeeklySchedule
	}
	d.Sequence++
	s.doctors[id] = d
	s.mu.Unlock()
	s.emit(model.EntityDoctor, id, model.OpUpdate, d.Sequence, d)
	return &d, nil
}

// Queue entries

func (s *Store) GetQueueEntry(_ context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.queueEntries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListQueueEntries(_ context.Context, f store.QueueFilter) ([]model.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.QueueEntry
	for _, e := range s.queueEntries {
		if !matchQueue(e, f) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out, nil
}

func matchQueue(e model.QueueEntry, f store.QueueFilter) bool {
	if f.Day != "" && e.Day != f.Day {
		return false
	}
	if f.PatientID != nil && e.PatientID != *f.PatientID {
		return false
	}
	if f.DoctorID != nil && (e.DoctorID == nil || *e.DoctorID != *f.DoctorID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if e.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) InsertQueueEntry(_ context.Context, e *model.QueueEntry) (*model.QueueEntry, error) {
	s.mu.Lock()
	if e.Status.Active() && s.activeEntryExistsLocked(e.PatientID, e.Day) {
		s.mu.Unlock()
		return nil, store.ErrActiveEntryExists
	}
	cp := *e
	cp.Sequence = 1
	s.queueEntries[cp.ID] = cp
	s.mu.Unlock()
	s.emit(model.EntityQueue, cp.ID, model.OpInsert, cp.Sequence, cp)
	return &cp, nil
}

// activeEntryExistsLocked reports whether the patient already holds a
// waiting or with_doctor entry for the day. Callers hold s.mu; this check
// and the insert it guards are a single critical section, which is what
// makes two racing check-ins serialize to one winner.
func (s *Store) activeEntryExistsLocked(patientID uuid.UUID, day string) bool {
	for _, cur := range s.queueEntries {
		if cur.PatientID == patientID && cur.Day == day && cur.Status.Active() {
			return true
		}
	}
	return false
}

func (s *Store) UpdateQueueEntry(_ context.Context, id uuid.UUID, expectedSeq int64, patch store.QueueEntryPatch) (*model.QueueEntry, error) {
	s.mu.Lock()
	e, ok := s.queueEntries[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if e.Sequence != expectedSeq {
		s.mu.Unlock()
		return nil, store.ErrStaleSequence
	}
	if patch.DoctorID != nil {
		e.DoctorID = *patch.DoctorID
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.CalledTime != nil {
		e.CalledTime = *patch.CalledTime
	}
	if patch.CompletedTime != nil {
		e.CompletedTime = *patch.CompletedTime
	}
	if patch.Notes != nil {
		e.Notes = *patch.Notes
	}
	e.Sequence++
	s.queueEntries[id] = e
	s.mu.Unlock()
	s.emit(model.EntityQueue, id, model.OpUpdate, e.Sequence, e)
	return &e, nil
}

func (s *Store) NextQueueNumber(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueCounters[day]++
	return s.queueCounters[day], nil
}

// Appointments

func (s *Store) GetAppointment(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListAppointments(_ context.Context, f store.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if !matchAppointment(a, f) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func matchAppointment(a model.Appointment, f store.AppointmentFilter) bool {
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.Date == "" {
		if f.DateFrom != "" && a.Date < f.DateFrom {
			return false
		}
		if f.DateTo != "" && a.Date > f.DateTo {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if a.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) InsertAppointment(_ context.Context, a *model.Appointment) (*model.Appointment, error) {
	s.mu.Lock()
	if err := s.overlapLocked(*a); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	cp := *a
	cp.Sequence = 1
	s.appointments[cp.ID] = cp
	s.mu.Unlock()
	s.emit(model.EntityAppointment, cp.ID, model.OpInsert, cp.Sequence, cp)
	return &cp, nil
}

// overlapLocked rejects a write whose interval overlaps a non-cancelled
// appointment of the same doctor on the same date. Callers hold s.mu, so
// the check and the commit it guards serialize racing writers; the row
// being written is excluded by ID so moves can keep their own slot.
func (s *Store) overlapLocked(a model.Appointment) error {
	if a.Status == model.AppointmentCancelled {
		return nil
	}
	aStart, aEnd := a.Interval()
	for _, cur := range s.appointments {
		if cur.ID == a.ID || cur.DoctorID != a.DoctorID || cur.Date != a.Date {
			continue
		}
		if cur.Status == model.AppointmentCancelled {
			continue
		}
		bStart, bEnd := cur.Interval()
		if model.Overlaps(aStart, aEnd, bStart, bEnd) {
			return &store.OverlapError{With: cur.ID}
		}
	}
	return nil
}

func (s *Store) UpdateAppointment(_ context.Context, id uuid.UUID, expectedSeq int64, patch store.AppointmentPatch) (*model.Appointment, error) {
	s.mu.Lock()
	a, ok := s.appointments[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if a.Sequence != expectedSeq {
		s.mu.Unlock()
		return nil, store.ErrStaleSequence
	}
	if patch.DoctorID != nil {
		a.DoctorID = *patch.DoctorID
	}
	if patch.Date != nil {
		a.Date = *patch.Date
	}
	if patch.Time != nil {
		a.Time = *patch.Time
	}
	if patch.DurationMinutes != nil {
		a.DurationMinutes = *patch.DurationMinutes
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
	if patch.ReminderSentAt != nil {
		a.ReminderSentAt = *patch.ReminderSentAt
	}
	if err := s.overlapLocked(a); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	a.Sequence++
	s.appointments[id] = a
	s.mu.Unlock()
	s.emit(model.EntityAppointment, id, model.OpUpdate, a.Sequence, a)
	return &a, nil
}

// Emergency cases

func (s *Store) GetEmergencyCase(_ context.Context, id uuid.UUID) (*model.EmergencyCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.emergencies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) InsertEmergencyCase(_ context.Context, c *model.EmergencyCase) (*model.EmergencyCase, error) {
	s.mu.Lock()
	cp := *c
	cp.Sequence = 1
	s.emergencies[cp.ID] = cp
	s.mu.Unlock()
	s.emit(model.EntityEmergency, cp.ID, model.OpInsert, cp.Sequence, cp)
	return &cp, nil
}

func (s *Store) UpdateEmergencyCase(_ context.Context, id uuid.UUID, expectedSeq int64, patch store.EmergencyCasePatch) (*model.EmergencyCase, error) {
	s.mu.Lock()
	c, ok := s.emergencies[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if c.Sequence != expectedSeq {
		s.mu.Unlock()
		return nil, store.ErrStaleSequence
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	c.Sequence++
	s.emergencies[id] = c
	s.mu.Unlock()
	s.emit(model.EntityEmergency, id, model.OpUpdate, c.Sequence, c)
	return &c, nil
}
