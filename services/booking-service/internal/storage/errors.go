package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when the referenced appointment does not exist.
	ErrNotFound = errors.New("appointment not found")
	// ErrOverlap is returned when a write would double-book a worker.
	ErrOverlap = errors.New("time slot overlaps an active booking")
)

// isExclusionViolation matches the no-overlap exclusion constraint on the
// appointments table (pg error 23P01). The constraint backstops the
// in-transaction overlap check so concurrent writers cannot both commit.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

func IsOverlap(err error) bool {
	return errors.Is(err, ErrOverlap)
}
