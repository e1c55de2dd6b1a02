// Package browser delivers in-app notifications by writing them to a
// per-user inbox table the web frontend polls.
package browser

import (
	"context"

	"github.com/google/uuid"

	"github.com/bookwiselabs/bookwise/libs/db"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/dispatch"
)

type Sender struct {
	pool *db.Pool
}

func NewSender(pool *db.Pool) *Sender {
	return &Sender{pool: pool}
}

// Send inserts the message into browser_inbox. The recipient of a browser
// row is the user id itself.
func (s *Sender) Send(ctx context.Context, msg dispatch.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO browser_inbox (id, user_id, subject, body, notification_type)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), msg.Recipient, msg.Subject, msg.Body, msg.Metadata["type"])
	return err
}
