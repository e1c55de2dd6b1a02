package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookwiselabs/bookwise/libs/db"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/model"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/overlap"
)

const appointmentColumns = `
	id, business_id, COALESCE(location_id, ''), service_id, client_id,
	COALESCE(employee_id, ''), COALESCE(resource_id, ''),
	start_time, end_time, status, reminder_sent, COALESCE(notes, ''),
	cancelled_at, COALESCE(cancellation_reason, ''), created_at, updated_at`

// queryer lets the overlap check run on either the pool or an open
// transaction; the write path always uses the transaction so the check and
// the insert commit together.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// OverlapParams mirrors overlap.Options for the SQL side of the detector.
type OverlapParams struct {
	BusinessID   string
	EmployeeID   string
	LocationID   string
	Start        time.Time
	End          time.Time
	Buffer       time.Duration
	SameLocation bool
	ExcludeID    string
}

// HasOverlap runs the buffered half-open interval test against all active
// bookings for the worker. Touching endpoints are not conflicts.
func (r *AppointmentRepository) HasOverlap(ctx context.Context, q queryer, p OverlapParams) (bool, error) {
	if q == nil {
		q = r.pool
	}
	padded := overlap.Interval{Start: p.Start, End: p.End}.Pad(p.Buffer)

	sql := `
		SELECT EXISTS(
			SELECT 1 FROM appointments
			WHERE business_id = $1
				AND employee_id = $2
				AND status NOT IN ('cancelled', 'no_show')
				AND start_time < $4
				AND end_time > $3`
	args := []any{p.BusinessID, p.EmployeeID, padded.Start, padded.End}

	if p.SameLocation {
		args = append(args, p.LocationID)
		sql += ` AND COALESCE(location_id, '') = $5`
	}
	if p.ExcludeID != "" {
		args = append(args, p.ExcludeID)
		if p.SameLocation {
			sql += ` AND id <> $6`
		} else {
			sql += ` AND id <> $5`
		}
	}
	sql += `)`

	var exists bool
	err := q.QueryRow(ctx, sql, args...).Scan(&exists)
	return exists, err
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = model.StatusPending
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, business_id, location_id, service_id, client_id, employee_id, resource_id,
			 start_time, end_time, status, reminder_sent, notes)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, false, $11)
		RETURNING created_at, updated_at
	`, appt.ID, appt.BusinessID, appt.LocationID, appt.ServiceID, appt.ClientID,
		appt.EmployeeID, appt.ResourceID, appt.StartTime, appt.EndTime, appt.Status, appt.Notes).
		Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if isExclusionViolation(err) {
		return ErrOverlap
	}
	return err
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, businessID, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, id, businessID)
	return scanAppointment(row)
}

func (r *AppointmentRepository) Get(ctx context.Context, businessID, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, id, businessID)
	return scanAppointment(row)
}

// Update persists the mutable fields of an already-merged appointment. The
// caller decides whether the conflict check had to run first.
func (r *AppointmentRepository) Update(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET location_id = NULLIF($3, ''),
			service_id = $4,
			employee_id = NULLIF($5, ''),
			resource_id = NULLIF($6, ''),
			start_time = $7,
			end_time = $8,
			status = $9,
			reminder_sent = $10,
			notes = $11,
			updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, appt.ID, appt.BusinessID, appt.LocationID, appt.ServiceID, appt.EmployeeID,
		appt.ResourceID, appt.StartTime, appt.EndTime, appt.Status, appt.ReminderSent, appt.Notes)
	if isExclusionViolation(err) {
		return ErrOverlap
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, businessID, id, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3,
			updated_at = now()
		WHERE id = $1 AND business_id = $2
		RETURNING cancelled_at
	`, id, businessID, reason).Scan(&cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return cancelledAt, err
}

// Delete is the administrative escape hatch; cancellation is the normal
// end-of-life path.
func (r *AppointmentRepository) Delete(ctx context.Context, tx pgx.Tx, businessID, id string) error {
	tag, err := tx.Exec(ctx, `
		DELETE FROM appointments WHERE id = $1 AND business_id = $2
	`, id, businessID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBusy returns the active bookings for a worker that intersect the
// window, as bare intervals for the slot search.
func (r *AppointmentRepository) ListBusy(ctx context.Context, businessID, employeeID string, from, to time.Time) ([]overlap.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(location_id, ''), start_time, end_time
		FROM appointments
		WHERE business_id = $1
			AND employee_id = $2
			AND status NOT IN ('cancelled', 'no_show')
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, businessID, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []overlap.Booking
	for rows.Next() {
		var b overlap.Booking
		if err := rows.Scan(&b.ID, &b.LocationID, &b.Start, &b.End); err != nil {
			return nil, err
		}
		busy = append(busy, b)
	}
	return busy, rows.Err()
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.LocationID,
		&appt.ServiceID,
		&appt.ClientID,
		&appt.EmployeeID,
		&appt.ResourceID,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Status,
		&appt.ReminderSent,
		&appt.Notes,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}
