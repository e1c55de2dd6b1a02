package storage

import (
	"context"

	"github.com/bookwiselabs/bookwise/libs/db"
)

// Migrate applies the notification schema. Statements are idempotent so
// every replica can run them at startup.
//
// The partial unique index is what makes planning idempotent: re-planning
// an appointment inserts nothing while a pending row for the same
// (appointment, type, channel) triple exists, but a cancelled row does not
// block re-planning after a reschedule.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		business_id TEXT NOT NULL,
		appointment_id TEXT,
		type TEXT NOT NULL,
		delivery_method TEXT NOT NULL,
		recipient TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		scheduled_for TIMESTAMPTZ NOT NULL,
		claimed_at TIMESTAMPTZ,
		sent_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_pending_dedup
		ON notifications (appointment_id, type, delivery_method) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_due
		ON notifications (scheduled_for) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_appointment
		ON notifications (appointment_id) WHERE appointment_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_followup_dedup
		ON notifications (business_id, user_id, created_at) WHERE type = 'follow_up'`,

	`CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT,
		phone TEXT,
		push_token TEXT,
		recurring BOOLEAN NOT NULL DEFAULT false,
		active BOOLEAN NOT NULL DEFAULT true,
		last_appointment_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clients_lapsed
		ON clients (COALESCE(last_appointment_at, created_at)) WHERE recurring = true AND active = true`,

	`CREATE TABLE IF NOT EXISTS user_channel_prefs (
		user_id TEXT NOT NULL,
		delivery_method TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, delivery_method)
	)`,

	`CREATE TABLE IF NOT EXISTS business_channel_settings (
		business_id TEXT NOT NULL,
		delivery_method TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		disabled_types TEXT[] NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (business_id, delivery_method)
	)`,

	`CREATE TABLE IF NOT EXISTS browser_inbox (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		notification_type TEXT NOT NULL DEFAULT '',
		read_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_browser_inbox_user
		ON browser_inbox (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS inbox_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

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

func Migrate(ctx context.Context, pool *db.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
