package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL for the slot ledger. The exclusion constraint on
// time_slots is the store-level backstop for the non-overlap invariant: the
// per-doctor lease serializes writers on the happy path, but even if the
// lease fails open the insert cannot commit an overlapping active interval.
const Schema = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS doctors (
	id         uuid PRIMARY KEY,
	name       text NOT NULL,
	specialty  text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS patients (
	id         uuid PRIMARY KEY,
	name       text NOT NULL,
	email      text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS time_slots (
	id         uuid PRIMARY KEY,
	doctor_id  uuid NOT NULL REFERENCES doctors (id),
	date       date NOT NULL,
	start_time timestamptz NOT NULL,
	end_time   timestamptz NOT NULL,
	status     text NOT NULL DEFAULT 'available',
	patient_id uuid REFERENCES patients (id),
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT time_slots_interval_valid CHECK (start_time < end_time),
	CONSTRAINT time_slots_no_overlap EXCLUDE USING gist (
		doctor_id WITH =,
		tstzrange(start_time, end_time) WITH &&
	) WHERE (status <> 'canceled')
);

CREATE INDEX IF NOT EXISTS idx_time_slots_doctor_status_start
	ON time_slots (doctor_id, status, start_time);

CREATE TABLE IF NOT EXISTS slot_events (
	id         bigserial PRIMARY KEY,
	event_type text NOT NULL,
	slot_id    uuid,
	payload    jsonb,
	created_at timestamptz NOT NULL DEFAULT now()
);
`

func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
