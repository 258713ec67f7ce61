package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/db"
	"github.com/clinicdesk/frontdesk-core/internal/model"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("service", "seed").Logger()

func main() {
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 20)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	patientIDs, err := seedPatients(context.Background(), pool, 500)
	if err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedAppointments(context.Background(), pool, doctorIDs, patientIDs, 300); err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	specializations := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	weekday := model.DaySchedule{Enabled: true, Start: "09:00", End: "17:00"}
	var schedule [7]model.DaySchedule
	for d := time.Monday; d <= time.Friday; d++ {
		schedule[d] = weekday
	}
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		specialty := specializations[gofakeit.Number(0, len(specializations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, full_name, specializations, location, availability, weekly_schedule, created_at, sequence)
			VALUES ($1, $2, $3, $4, $5, $6, now(), 1)
		`, id, name, []string{specialty}, gofakeit.City(), string(model.DoctorAvailable), scheduleJSON)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 100

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			phone := gofakeit.Phone()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, full_name, phone, email, insurance, created_at, sequence)
				VALUES ($1, $2, $3, $4, $5, now(), 1)
			`, id, name, phone, email, gofakeit.Company())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return ids, nil
}

// seedAppointments books non-overlapping slots per doctor over the coming
// week: each doctor's day is filled left to right so no conflict can occur.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, doctorIDs, patientIDs []uuid.UUID, count int) error {
	log.Info().Int("count", count).Msg("seeding appointments")

	types := []string{"consultation", "follow-up", "check-up", "vaccination"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// next free minute per (doctor, date)
	cursor := make(map[string]int)
	today := time.Now()

	for i := 0; i < count; i++ {
		doctorID := doctorIDs[gofakeit.Number(0, len(doctorIDs)-1)]
		patientID := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]
		date := today.AddDate(0, 0, gofakeit.Number(0, 6)).Format(model.DayLayout)
		duration := model.SlotMinutes * gofakeit.Number(1, 4)

		key := doctorID.String() + "|" + date
		start, ok := cursor[key]
		if !ok {
			start = 9 * 60
		}
		if start+duration > 17*60 {
			continue
		}
		cursor[key] = start + duration

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, doctor_id, date, time, duration_minutes, type, status, notes, created_at, sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', now(), 1)
		`, uuid.New(), patientID, doctorID, date,
			fmt.Sprintf("%02d:%02d", start/60, start%60), duration,
			types[gofakeit.Number(0, len(types)-1)], string(model.AppointmentBooked))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("appointments seeded")
	return nil
}
