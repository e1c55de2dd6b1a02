package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bookwiselabs/bookwise/libs/db"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/outbox"
)

// OutboxRecorder writes dispatch outcomes into the outbox so the relay
// publishes them to Kafka with the rest of the event stream.
type OutboxRecorder struct {
	pool *db.Pool
	repo *outbox.Repository
}

func NewOutboxRecorder(pool *db.Pool, repo *outbox.Repository) *OutboxRecorder {
	return &OutboxRecorder{pool: pool, repo: repo}
}

func (r *OutboxRecorder) Record(ctx context.Context, n model.Notification, outcome, errMsg string) error {
	eventType := outbox.EventNotificationSent
	if outcome == "failed" {
		eventType = outbox.EventNotificationFailed
	}

	payload, err := json.Marshal(map[string]any{
		"notification_id": n.ID,
		"user_id":         n.UserID,
		"business_id":     n.BusinessID,
		"appointment_id":  n.AppointmentID,
		"type":            n.Type,
		"delivery_method": n.Method,
		"error":           errMsg,
		"occurred_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   n.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
