package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookwiselabs/bookwise/libs/db"
)

var ErrClientNotFound = errors.New("client not found")

// Client carries the contact addresses the scheduler resolves per channel.
type Client struct {
	ID             string
	BusinessID     string
	Name           string
	Email          string
	Phone          string
	PushToken      string
	Recurring      bool
	Active         bool
	LastActivityAt time.Time
}

type ClientRepository struct {
	pool *db.Pool
}

func NewClientRepository(pool *db.Pool) *ClientRepository {
	return &ClientRepository{pool: pool}
}

const clientColumns = `
	id, business_id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(push_token, ''),
	recurring, active, COALESCE(last_appointment_at, created_at)`

func (r *ClientRepository) Get(ctx context.Context, id string) (Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.BusinessID, &c.Name, &c.Email, &c.Phone, &c.PushToken,
		&c.Recurring, &c.Active, &c.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	return c, err
}

// ListInactiveRecurring returns recurring, active clients whose last
// appointment (or signup, if they never booked) predates the cutoff.
func (r *ClientRepository) ListInactiveRecurring(ctx context.Context, cutoff time.Time, limit int) ([]Client, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE recurring = true
			AND active = true
			AND COALESCE(last_appointment_at, created_at) < $1
		ORDER BY COALESCE(last_appointment_at, created_at)
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Email, &c.Phone, &c.PushToken,
			&c.Recurring, &c.Active, &c.LastActivityAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// TouchLastAppointment records client activity when a booking lands.
func (r *ClientRepository) TouchLastAppointment(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE clients
		SET last_appointment_at = GREATEST(COALESCE(last_appointment_at, 'epoch'::timestamptz), $2)
		WHERE id = $1
	`, id, at)
	return err
}
