package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookwiselabs/bookwise/libs/db"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
)

const notificationColumns = `
	id, user_id, business_id, COALESCE(appointment_id, ''), type, delivery_method,
	recipient, payload, status, COALESCE(error_message, ''),
	scheduled_for, claimed_at, sent_at, created_at, updated_at`

type NotificationRepository struct {
	pool *db.Pool
}

func NewNotificationRepository(pool *db.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert persists pending rows. Duplicate (appointment, type, method)
// triples are silently dropped by the partial unique index, which is what
// makes scheduler re-runs idempotent. Returns the number of rows kept.
func (r *NotificationRepository) Insert(ctx context.Context, tx pgx.Tx, ns []model.Notification) (int, error) {
	inserted := 0
	for i := range ns {
		n := &ns[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return inserted, err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO notifications
				(id, user_id, business_id, appointment_id, type, delivery_method, recipient, payload, status, scheduled_for)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, 'pending', $9)
			ON CONFLICT (appointment_id, type, delivery_method) WHERE status = 'pending' DO NOTHING
		`, n.ID, n.UserID, n.BusinessID, n.AppointmentID, n.Type, n.Method, n.Recipient, payload, n.ScheduledFor)
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// InsertStandalone is Insert wrapped in its own transaction, for callers
// that have nothing else to commit alongside the rows.
func (r *NotificationRepository) InsertStandalone(ctx context.Context, ns []model.Notification) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := r.Insert(ctx, tx, ns)
	if err != nil {
		return 0, err
	}
	return inserted, tx.Commit(ctx)
}

// ClaimDue stamps and returns up to limit due pending rows. The claim
// transaction commits before any sender is called; the final status write
// is conditional on the row still being pending, so a terminal status can
// never be overwritten. Rows claimed by a worker that died become eligible
// again once their claim stamp ages past reclaimAfter.
func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int, reclaimAfter time.Duration) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications
		SET claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'pending'
				AND scheduled_for <= $1
				AND (claimed_at IS NULL OR claimed_at <= $2)
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		now, now.Add(-reclaimAfter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, n)
	}
	return claimed, rows.Err()
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	return err
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', sent_at = $2, error_message = $3, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at, errMsg)
	return err
}

func (r *NotificationRepository) MarkCancelled(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'cancelled', error_message = $3, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at, reason)
	return err
}

// CancelPendingForAppointment sweeps not-yet-sent rows when an appointment
// is cancelled or rescheduled.
func (r *NotificationRepository) CancelPendingForAppointment(ctx context.Context, tx pgx.Tx, appointmentID, reason string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'cancelled', error_message = $2, updated_at = now()
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeTerminalBefore deletes terminal rows past the retention window.
func (r *NotificationRepository) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE status IN ('sent', 'failed', 'cancelled')
			AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RecentFollowUpExists reports whether a follow-up for this client and
// business was created inside the dedup window, in any status.
func (r *NotificationRepository) RecentFollowUpExists(ctx context.Context, businessID, userID string, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM notifications
			WHERE business_id = $1
				AND user_id = $2
				AND type = 'follow_up'
				AND created_at >= $3
		)
	`, businessID, userID, since).Scan(&exists)
	return exists, err
}

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	var payload []byte
	var claimedAt, sentAt *time.Time
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.BusinessID,
		&n.AppointmentID,
		&n.Type,
		&n.Method,
		&n.Recipient,
		&payload,
		&n.Status,
		&n.ErrorMessage,
		&n.ScheduledFor,
		&claimedAt,
		&sentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return model.Notification{}, err
	}
	n.ClaimedAt = claimedAt
	n.SentAt = sentAt
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return model.Notification{}, err
		}
	} else {
		n.Payload = map[string]any{}
	}
	return n, nil
}
