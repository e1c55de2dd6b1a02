package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bookwiselabs/bookwise/libs/db"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
)

// PrefsRepository answers the two questions the scheduler and dispatcher
// ask: does the recipient want this channel, and does the business allow
// it. Preferences are opt-out: no row means enabled.
type PrefsRepository struct {
	pool *db.Pool
}

func NewPrefsRepository(pool *db.Pool) *PrefsRepository {
	return &PrefsRepository{pool: pool}
}

func (r *PrefsRepository) UserMethodEnabled(ctx context.Context, userID string, m model.DeliveryMethod) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `
		SELECT enabled FROM user_channel_prefs
		WHERE user_id = $1 AND delivery_method = $2
	`, userID, m).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// EnabledUserMethods returns every delivery method the user has not opted
// out of, in stable order.
func (r *PrefsRepository) EnabledUserMethods(ctx context.Context, userID string) ([]model.DeliveryMethod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT delivery_method FROM user_channel_prefs
		WHERE user_id = $1 AND enabled = false
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	disabled := map[model.DeliveryMethod]bool{}
	for rows.Next() {
		var m model.DeliveryMethod
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		disabled[m] = true
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	var enabled []model.DeliveryMethod
	for _, m := range model.AllMethods() {
		if !disabled[m] {
			enabled = append(enabled, m)
		}
	}
	return enabled, nil
}

// BusinessAllows checks tenant-level channel settings: a business may turn
// a channel off entirely or blocklist specific notification types on it.
func (r *PrefsRepository) BusinessAllows(ctx context.Context, businessID string, m model.DeliveryMethod, t model.Type) (bool, error) {
	var enabled bool
	var disabledTypes []string
	err := r.pool.QueryRow(ctx, `
		SELECT enabled, COALESCE(disabled_types, '{}')
		FROM business_channel_settings
		WHERE business_id = $1 AND delivery_method = $2
	`, businessID, m).Scan(&enabled, &disabledTypes)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !enabled {
		return false, nil
	}
	for _, dt := range disabledTypes {
		if dt == string(t) {
			return false, nil
		}
	}
	return true, nil
}
