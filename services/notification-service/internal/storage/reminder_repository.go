package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookwiselabs/bookwise/libs/db"
)

// UpcomingAppointment is the slice of a booking the reminder sweep needs.
type UpcomingAppointment struct {
	ID         string
	BusinessID string
	ClientID   string
	ServiceID  string
	StartTime  time.Time
	EndTime    time.Time
}

// ReminderRepository reads the appointments table the booking service
// owns. The sweep is read-mostly: its only write is the reminder_sent flag.
type ReminderRepository struct {
	pool *db.Pool
}

func NewReminderRepository(pool *db.Pool) *ReminderRepository {
	return &ReminderRepository{pool: pool}
}

func (r *ReminderRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// DueForReminders locks and returns active appointments entering the
// reminder horizon that have not been planned yet. SKIP LOCKED keeps
// overlapping sweep runs from planning the same appointment twice.
func (r *ReminderRepository) DueForReminders(ctx context.Context, tx pgx.Tx, now time.Time, horizon time.Duration, limit int) ([]UpcomingAppointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, business_id, client_id, service_id, start_time, end_time
		FROM appointments
		WHERE reminder_sent = false
			AND status IN ('pending', 'confirmed')
			AND start_time > $1
			AND start_time <= $2
		ORDER BY start_time
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, now, now.Add(horizon), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []UpcomingAppointment
	for rows.Next() {
		var a UpcomingAppointment
		if err := rows.Scan(&a.ID, &a.BusinessID, &a.ClientID, &a.ServiceID, &a.StartTime, &a.EndTime); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *ReminderRepository) MarkPlanned(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true, updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
