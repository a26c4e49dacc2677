package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/healthbridge/slot-ledger/internal/config"
	"github.com/healthbridge/slot-ledger/internal/db"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "seed").Logger()

func main() {
	logger.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.ApplySchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}
	logger.Info().Msg("schema applied")

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(ctx, pool, 50)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, 5000); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedSlots(ctx, pool, doctorIDs); err != nil {
		logger.Fatal().Err(err).Msg("seed slots")
	}

	logger.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
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

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("patients progress")
	}

	logger.Info().Msg("patients seeded")
	return nil
}

// seedSlots gives each doctor a week of half-hour available slots, 09:00 to
// 17:00 UTC. Slots within one schedule are back-to-back, never overlapping.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	logger.Info().Int("doctors", len(doctorIDs)).Msg("seeding slots")

	const (
		days        = 7
		slotMinutes = 30
		dayStart    = 9
		dayEnd      = 17
	)

	firstDay := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	for _, doctorID := range doctorIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for d := 0; d < days; d++ {
			day := firstDay.Add(time.Duration(d) * 24 * time.Hour)
			for h := dayStart; h < dayEnd; h++ {
				for m := 0; m < 60; m += slotMinutes {
					start := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
					end := start.Add(slotMinutes * time.Minute)

					_, err := tx.Exec(ctx, `
						INSERT INTO time_slots (id, doctor_id, date, start_time, end_time, status, created_at, updated_at)
						VALUES ($1, $2, $3, $4, $5, 'available', now(), now())
					`, uuid.New(), doctorID, day, start, end)
					if err != nil {
						_ = tx.Rollback(ctx)
						return err
					}
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	logger.Info().Msg("slots seeded")
	return nil
}
