package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgExclusionViolation = "23P01"
	pgCheckViolation     = "23514"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	var patientID *uuid.UUID

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&patientID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.PatientID = patientID
	return &s, nil
}

func scanSlots(rows pgx.Rows) ([]TimeSlot, error) {
	defer rows.Close()

	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const slotColumns = `id, doctor_id, date, start_time, end_time, status, patient_id, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND status <> 'canceled'
		  AND start_time < $3
		  AND $2 < end_time
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (r *PgRepository) InsertSlot(ctx context.Context, slot TimeSlot) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO time_slots (id, doctor_id, date, start_time, end_time, status, patient_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, now(), now())
		RETURNING `+slotColumns+`
	`, slot.ID, slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime, slot.Status)

	created, err := scanSlot(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgExclusionViolation:
				return nil, ErrOverlap
			case pgCheckViolation:
				return nil, ErrInvalidInterval
			}
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) ClaimSlot(ctx context.Context, id uuid.UUID, patientID uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE time_slots
		SET status = 'booked',
		    patient_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
		RETURNING `+slotColumns+`
	`, id, patientID)

	return scanSlot(row)
}

func (r *PgRepository) TransitionSlot(ctx context.Context, id uuid.UUID, from []SlotStatus, to SlotStatus) (*TimeSlot, error) {
	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE time_slots
		SET status = $2,
		    patient_id = CASE WHEN $2 = 'canceled' THEN NULL ELSE patient_id END,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+slotColumns+`
	`, id, to, fromStatuses)

	return scanSlot(row)
}

func (r *PgRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND status = 'available'
		  AND start_time >= $2
		  AND end_time <= $3
		ORDER BY start_time ASC
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (r *PgRepository) FindStaleAvailable(ctx context.Context, now time.Time) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE status = 'available'
		  AND start_time < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (r *PgRepository) FindElapsedBooked(ctx context.Context, now time.Time) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE status = 'booked'
		  AND end_time < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO slot_events (event_type, slot_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert slot event: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
