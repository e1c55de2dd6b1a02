package storage

import (
	"context"

	"github.com/bookwiselabs/bookwise/libs/db"
)

// Migrate applies the booking schema. Statements are idempotent so every
// replica can run them at startup.
//
// The exclusion constraint is the database-level backstop for worker
// double-booking: even if two replicas pass the application overlap check
// concurrently, at most one insert commits. Its columns must match the
// configured overlap scope; under worker+location scope a same-worker
// booking at another location is legal, so the constraint compares
// location too.
func Migrate(ctx context.Context, pool *db.Pool, locationScoped bool) error {
	for _, stmt := range migrationStatements(locationScoped) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrationStatements(locationScoped bool) []string {
	constraint := `ALTER TABLE appointments ADD CONSTRAINT appointments_no_worker_overlap
		EXCLUDE USING gist (
			business_id WITH =,
			employee_id WITH =,
			tstzrange(start_time, end_time) WITH &&
		)
		WHERE (employee_id IS NOT NULL AND status NOT IN ('cancelled', 'no_show'))`
	if locationScoped {
		constraint = `ALTER TABLE appointments ADD CONSTRAINT appointments_no_worker_overlap
		EXCLUDE USING gist (
			business_id WITH =,
			employee_id WITH =,
			(COALESCE(location_id, '')) WITH =,
			tstzrange(start_time, end_time) WITH &&
		)
		WHERE (employee_id IS NOT NULL AND status NOT IN ('cancelled', 'no_show'))`
	}

	return []string{
		`CREATE EXTENSION IF NOT EXISTS btree_gist`,

		`CREATE TABLE IF NOT EXISTS appointments (
		id UUID PRIMARY KEY,
		business_id TEXT NOT NULL,
		location_id TEXT,
		service_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		employee_id TEXT,
		resource_id TEXT,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT NOT NULL DEFAULT '',
		cancellation_reason TEXT NOT NULL DEFAULT '',
		cancelled_at TIMESTAMPTZ,
		reminder_sent BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (end_time > start_time),
		CHECK (employee_id IS NULL OR resource_id IS NULL)
	)`,

		`ALTER TABLE appointments DROP CONSTRAINT IF EXISTS appointments_no_worker_overlap`,
		constraint,

		`CREATE INDEX IF NOT EXISTS idx_appointments_business_window
		ON appointments (business_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_employee_window
		ON appointments (employee_id, start_time) WHERE employee_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_reminder_due
		ON appointments (start_time) WHERE reminder_sent = false`,

		`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID NOT NULL DEFAULT gen_random_uuid(),
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		traceparent TEXT NOT NULL DEFAULT '',
		tracestate TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
		ON outbox_events (id) WHERE published_at IS NULL`,
	}
}
