// Package postgres implements the store contract on pgx, with optimistic
// sequence checks in SQL and a redis pub/sub change feed standing in for the
// original realtime channel.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/store"
)

const channelPrefix = "frontdesk:events:"

type Store struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		pool:   pool,
		rdb:    rdb,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close stops every feed subscription.
func (s *Store) Close() {
	s.cancel()
}

// emit records the event in the audit log and publishes it on the redis
// channel every connected client listens to, including this one.
func (s *Store) emit(ctx context.Context, entityType model.EntityType, id uuid.UUID, op model.Operation, seq int64, entity any) {
	ev, err := model.NewChangeEvent(entityType, id, op, seq, entity)
	if err != nil {
		s.log.Error().Err(err).Str("entity_id", id.String()).Msg("marshal change event")
		return
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO change_events (entity_type, entity_id, operation, payload, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, string(ev.EntityType), ev.EntityID, string(ev.Operation), ev.Payload, ev.Sequence); err != nil {
		s.log.Error().Err(err).Str("entity_id", id.String()).Msg("insert change event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, channelPrefix+string(entityType), data).Err(); err != nil {
		s.log.Error().Err(err).Str("entity_type", string(entityType)).Msg("publish change event")
	}
}

// Subscribe consumes the redis channel for entityType and invokes handler
// for every event, including ones this client published itself; receivers
// deduplicate by sequence.
func (s *Store) Subscribe(entityType model.EntityType, handler func(model.ChangeEvent)) func() {
	ctx, cancel := context.WithCancel(s.ctx)
	sub := s.rdb.Subscribe(ctx, channelPrefix+string(entityType))

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad change event payload")
					continue
				}
				handler(ev)
			}
		}
	}()

	return func() {
		cancel()
		_ = sub.Close()
	}
}

// Patients

func scanPatient(row pgx.Row) (*model.Patient, error) {
	var p model.Patient
	err := row.Scan(&p.ID, &p.FullName, &p.Phone, &p.Email, &p.Insurance, &p.CreatedAt, &p.Sequence)
	if err != nil {
		return nil, translateScanErr(err)
	}
	return &p, nil
}

func (s *Store) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, full_name, phone, email, insurance, created_at, sequence
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (s *Store) InsertPatient(ctx context.Context, p *model.Patient) (*model.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO patients (id, full_name, phone, email, insurance, created_at, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		RETURNING id, full_name, phone, email, insurance, created_at, sequence
	`, p.ID, p.FullName, p.Phone, p.Email, p.Insurance, p.CreatedAt)
	created, err := scanPatient(row)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EntityPatient, created.ID, model.OpInsert, created.Sequence, created)
	return created, nil
}

// Doctors

func scanDoctor(row pgx.Row) (*model.Doctor, error) {
	var d model.Doctor
	var schedule []byte
	err := row.Scan(&d.ID, &d.FullName, &d.Specializations, &d.Location, &d.Availability, &schedule, &d.CreatedAt, &d.Sequence)
	if err != nil {
		return nil, translateScanErr(err)
	}
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &d.WeeklySchedule); err != nil {
			return nil, fmt.Errorf("decode weekly schedule: %w", err)
		}
	}
	return &d, nil
}

const doctorCols = "id, full_name, specializations, location, availability, weekly_schedule, created_at, sequence"

func (s *Store) GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (s *Store) ListDoctors(ctx context.Context) ([]model.Doctor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY full_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) InsertDoctor(ctx context.Context, d *model.Doctor) (*model.Doctor, error) {
	schedule, err := json.Marshal(d.WeeklySchedule)
	if err != nil {
		return nil, fmt.Errorf("encode weekly schedule: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, full_name, specializations, location, availability, weekly_schedule, created_at, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		RETURNING `+doctorCols+`
	`, d.ID, d.FullName, d.Specializations, d.Location, d.Availability, schedule, d.CreatedAt)
	created, err := scanDoctor(row)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EntityDoctor, created.ID, model.OpInsert, created.Sequence, created)
	return created, nil
}

func (s *Store) UpdateDoctor(ctx context.Context, id uuid.UUID, expectedSeq int64, patch store.DoctorPatch) (*model.Doctor, error) {
	var sets []string
	var args []any
	if patch.Availability != nil {
		args = append(args, *patch.Availability)
		sets = append(sets, fmt.Sprintf("availability = $%d", len(args)))
	}
	if patch.WeeklySchedule != nil {
		schedule, err := json.Marshal(*patch.WeeklySchedule)
		if err != nil {
			return nil, fmt.Errorf("encode weekly schedule: %w", err)
		}
		args = append(args, schedule)
		sets = append(sets, fmt.Sprintf("weekly_schedule = $%d", len(args)))
	}
	row, err := s.optimisticUpdate(ctx, "doctors", doctorCols, sets, args, id, expectedSeq)
	if err != nil {
		return nil, err
	}
	updated, err := scanDoctor(row)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EntityDoctor, id, model.OpUpdate, updated.Sequence, updated)
	return updated, nil
}

// optimisticUpdate runs an UPDATE guarded by the expected sequence and
// distinguishes a missing row from a lost race.
func (s *Store) optimisticUpdate(ctx context.Context, table, cols string, sets []string, args []any, id uuid.UUID, expectedSeq int64) (pgx.Row, error) {
	sets = append(sets, "sequence = sequence + 1")
	args = append(args, id, expectedSeq)
	q := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND sequence = $%d RETURNING %s",
		table, strings.Join(sets, ", "), len(args)-1, len(args), cols,
	)
	row := s.pool.QueryRow(ctx, q, args...)
	// The caller's scan sees pgx.ErrNoRows for both a missing row and a
	// stale sequence; disambiguate here so it can report ErrStaleSequence.
	return &staleCheckRow{row: row, store: s, ctx: ctx, table: table, id: id}, nil
}

type staleCheckRow struct {
	row   pgx.Row
	store *Store
	ctx   context.Context
	table string
	id    uuid.UUID
}

func (r *staleCheckRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var exists bool
	checkErr := r.store.pool.QueryRow(r.ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", r.table), r.id,
	).Scan(&exists)
	if checkErr != nil {
		return checkErr
	}
	if exists {
		return errStale
	}
	return pgx.ErrNoRows
}

// errStale is translated by the scan helpers into store.ErrStaleSequence.
var errStale = errors.New("optimistic update lost")

func translateScanErr(err error) error {
	switch {
	case errors.Is(err, errStale):
		return store.ErrStaleSequence
	case errors.Is(err, pgx.ErrNoRows):
		return store.ErrNotFound
	}
	// Schema-level arbitration: racing writers that both passed their
	// application pre-checks land on these constraints.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.ConstraintName {
		case "patient_queue_single_active":
			return store.ErrActiveEntryExists
		case "appointments_no_overlap":
			return &store.OverlapError{}
		}
	}
	return err
}

// Queue entries

const queueCols = "id, patient_id, doctor_id, emergency_case_id, queue_number, day, priority, severity, status, arrival_time, called_time, completed_time, notes, sequence"

func scanQueueEntry(row pgx.Row) (*model.QueueEntry, error) {
	var e model.QueueEntry
	err := row.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.EmergencyCaseID, &e.QueueNumber, &e.Day,
		&e.Priority, &e.Severity, &e.Status, &e.ArrivalTime, &e.CalledTime, &e.CompletedTime, &e.Notes, &e.Sequence)
	if err != nil {
		return nil, translateScanErr(err)
	}
	return &e, nil
}

func (s *Store) GetQueueEntry(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+queueCols+` FROM patient_queue WHERE id = $1`, id)
	return scanQueueEntry(row)
}

func (s *Store) ListQueueEntries(ctx context.Context, f store.QueueFilter) ([]model.QueueEntry, error) {
	var where []string
	var args []any
	if f.Day != "" {
		args = append(args, f.Day)
		where = append(where, fmt.Sprintf("day = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	q := `SELECT ` + queueCols + ` FROM patient_queue`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY queue_number"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) InsertQueueEntry(ctx context.Context, e *model.QueueEntry) (*model.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO patient_queue (id, patient_id, doctor_id, emergency_case_id, queue_number, day, priority, severity, status, arrival_time, called_time, completed_time, notes, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		RETURNING `+queueCols+`
	`, e.ID, e.PatientID, e.DoctorID, e.EmergencyCaseID, e.QueueNumber, e.Day, e.Priority, e.Severity,
		e.Status, e.ArrivalTime, e.CalledTime, e.CompletedTime, e.Notes)
	created, err := scanQueueEntry(row)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EntityQueue, created.ID, model.OpInsert, created.Sequence, created)
	return created, nil
}

func (s *Store) UpdateQueueEntry(ctx context.Context, id uuid.UUID, expectedSeq int64, patch store.QueueEntryPatch) (*model.QueueEntry, error) {
	var sets []string
	var args []any
	if patch.DoctorID != nil {
		args = append(args, *patch.DoctorID)
		sets = append(sets, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.CalledTime != nil {
		args = append(args, *patch.CalledTime)
		sets = append(sets, fmt.Sprintf("called_time = $%d", len(args)))
	}
	if patch.CompletedTime != nil {
		args = append(args, *patch.CompletedTime)
		sets = append(sets, fmt.Sprintf("completed_time = $%d", len(args)))
	}
	if patch.Notes != nil {
		args = append(args, *patch.Notes)
		sets = append(sets, fmt.Sprintf("notes = $%d", len(args)))
	}
	row, err := s.optimisticUpdate(ctx, "patient_queue", queueCols, sets, args, id, expectedSeq)
	if err != nil {
		return nil, err
	}
	updated, err := scanQueueEntry(row)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EntityQueue, id, model.OpUpdate, updated.Sequence, updated)
	return updated, nil
}

func (s *Store) NextQueueNumber(ctx context.Context, day string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO queue_counters (day, last_number)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_number = queue_counters.last_number + 1
		RETURNING last_number
	`, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next queue number: %w", err)
	}
	return n, nil
}

// Appointments

const apptCols = "id, patient_id, doctor_id, date, time, duration_minutes, type, status, notes, reminder_sent_at, created_at, sequence"

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time, &a.DurationMinutes,
		&a.Type, &a.Status, &a.Notes, &a.ReminderSentAt, &a.CreatedAt, &a.Sequence)
	if err != nil {
		return nil, translateScanErr(err)
	}
	return &a, nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (s *Store) ListAppointments(ctx context.Context, f store.AppointmentFilter) ([]model.Appointment, error) {
	var where []string
	var args []any
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.Date != "" {
		args = append(args, f.Date)
		where = append(where, fmt.Sprintf("date = $%d", len(args)))
	} else {
		if f.DateFrom != "" {
			args = append(args, f.DateFrom)
			where = append(where, fmt.Sprintf("date >= $%d", len(args)))
		}
		if f.DateTo != "" {
			args = append(args, f.DateTo)
			where = append(where, fmt.Sprintf("date <= $%d", len(args)))
		}
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	q := `SELECT ` + apptCols + ` FROM appointments`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY date, time"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) InsertAppointment(ctx context.Context, a *model.Appointment) (*model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, time, duration_minutes, type, status, notes, reminder_sent_at, created_at, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		RETURNING `+apptCols+`
	`, a.ID, a.PatientID, a.DoctorID, a.Date, a.Time, a.DurationMinutes, a.Type, a.Status, a.Notes, a.ReminderSentAt, a.CreatedAt)
	created, err := scanAppointment(row)
	if err != nil {
		return nil, s.nameOverlap(ctx, err, a.DoctorID, a.Date, a.Time, a.DurationMinutes, a.ID)
	}
	s.emit(ctx, model.EntityAppointment, created.ID, model.OpInsert, created.Sequence, created)
	return created, nil
}

// nameOverlap fills in the competing appointment ID after the exclusion
// constraint rejected a write; the constraint error itself does not carry
// it. Best effort: the zero UUID stays if the competitor was cancelled or
// moved in the meantime.
func (s *Store) nameOverlap(ctx context.Context, err error, doctorID uuid.UUID, date, timeOfDay string, durationMinutes int, exclude uuid.UUID) error {
	var ov *store.OverlapError
	if !errors.As(err, &ov) {
		return err
	}
	start, perr := model.MinuteOfDay(timeOfDay)
	if perr != nil {
		return err
	}
	var id uuid.UUID
	qerr := s.pool.QueryRow(ctx, `
		SELECT id FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status <> 'cancelled' AND id <> $3
		  AND split_part(time, ':', 1)::int * 60 + split_part(time, ':', 2)::int < $4
		  AND $5 < split_part(time, ':', 1)::int * 60 + split_part(time, ':', 2)::int + duration_minutes
		LIMIT 1
	`, doctorID, date, exclude, start+durationMinutes, start).Scan(&id)
	if qerr == nil {
		ov.With = id
	}
	return err
}

func (s *Store) UpdateAppointment(ctx context.Context, id uuid.UUID, expectedSeq int64, patch store.AppointmentPatch) (*model.Appointment, error) {
	var sets []string
	var args []any
	if patch.DoctorID != nil {
		args = append(args, *patch.DoctorID)
		sets = append(sets, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if patch.Date != nil {
		args = append(args, *patch.Date)
		sets = append(sets, fmt.Sprintf("date = $%d", len(args)))
	}
	if patch.Time != nil {
		args = append(args, *patch.Time)
		sets = append(sets, fmt.Sprintf("time = $%d", len(args)))
	}
	if patch.DurationMinutes != nil {
		args = append(args, *patch.DurationMinutes)
		sets = append(sets, fmt.Sprintf("duration_minutes = $%d", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.Notes != nil {
		args = append(args, *patch.Notes)
		sets = append(sets, fmt.Sprintf("notes = $%d", len(args)))
	}
	if patch.ReminderSentAt != nil {
		args = append(args, *patch.ReminderSentAt)
		sets = append(sets, fmt.Sprintf("reminder_sent_at = $%d", len(args)))
	}
	row, err := s.optimisticUpdate(ctx, "appointments", apptCols, sets, args, id, expectedSeq)
	if err != nil {
		return nil, err
	}
	updated, err := scanAppointment(row)
	if err != nil {
		if cur, gerr := s.GetAppointment(ctx, id); gerr == nil {
			doctorID, date, timeOfDay, duration := cur.DoctorID, cur.Date, cur.Time, cur.DurationMinutes
			if patch.DoctorID != nil {
				doctorID = *patch.DoctorID
			}
			if patch.Date != nil {
				date = *patch.Date
			}
			if patch.Time != nil {
				timeOfDay = *patch.Time
			}
			if patch.DurationMinutes != nil {
				duration = *patch.DurationMinutes
			}
			err = s.nameOverlap(ctx, err, doctorID, date, timeOfDay, duration, id)
		}
		return nil, err
	}
	s.emit(ctx, model.EntityAppointment, id, model.OpUpdate, updated.Sequence, updated)
	return updated, nil
}

// Emergency cases

const emergencyCols = "id, patient_id, queue_entry_id, severity, chief_complaint, status, timestamp, sequence"

func scanEmergencyCase(row pgx.Row) (*model.EmergencyCase, error) {
	var c model.EmergencyCase
	err := row.Scan(&c.ID, &c.PatientID, &c.QueueEntryID, &c.Severity, &c.ChiefComplaint, &c.Status, &c.Timestamp, &c.Sequence)
	if err != nil {
		return nil, translateScanErr(err)
	}
	return &c, nil
}

func (s *Store) GetEmergencyCase(ctx context.Context, id uuid.UUID) (*model.EmergencyCase, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+emergencyCols+` FROM emergency_cases WHERE id = $1`, id)
	return scanEmergencyCase(row)
}

func (s *Store) InsertEmergencyCase(ctx context.Context, c *model.EmergencyCase) (*model.EmergencyCase, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO emergency_cases (id, patient_id, queue_entry_id, severity, chief_complaint, status, timestamp, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		RETURNING `+emergencyCols+`
	`, c.ID, c.PatientID, c.QueueEntryID, c.Severity, c.ChiefComplaint, c.Status, c.Timestamp)
	created, err := scanEmergencyCase(row)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EntityEmergency, created.ID, model.OpInsert, created.Sequence, created)
	return created, nil
}

func (s *Store) UpdateEmergencyCase(ctx context.Context, id uuid.UUID, expectedSeq int64, patch store.EmergencyCasePatch) (*model.EmergencyCase, error) {
	var sets []string
	var args []any
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	row, err := s.optimisticUpdate(ctx, "emergency_cases", emergencyCols, sets, args, id, expectedSeq)
	if err != nil {
		return nil, err
	}
	updated, err := scanEmergencyCase(row)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EntityEmergency, id, model.OpUpdate, updated.Sequence, updated)
	return updated, nil
}
