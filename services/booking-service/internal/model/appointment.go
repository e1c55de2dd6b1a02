package model

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an appointment. Transitions only move
// forward; cancelled and no_show are dead ends.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses accept no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Blocks reports whether an appointment in this status occupies its time
// slot for overlap purposes. Cancelled and no-show rows free the slot.
func (s Status) Blocks() bool {
	return s != StatusCancelled && s != StatusNoShow
}

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusConfirmed: 1,
	StatusCompleted: 2,
}

// CanTransition reports whether moving from s to next is allowed.
// Same-status writes are permitted as no-ops.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled || next == StatusNoShow {
		return true
	}
	return statusRank[next] > statusRank[s]
}

type Appointment struct {
	ID           string
	BusinessID   string
	LocationID   string
	ServiceID    string
	ClientID     string
	EmployeeID   string
	ResourceID   string
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	ReminderSent bool
	Notes        string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	ErrInvalidInterval   = errors.New("end_time must be after start_time")
	ErrDoubleAssignment  = errors.New("employee_id and resource_id are mutually exclusive")
	ErrInvalidStatus     = errors.New("invalid appointment status")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// Validate checks the fields the store never inspects: interval shape and
// the worker/resource assignment exclusivity.
func (a *Appointment) Validate() error {
	if !a.EndTime.After(a.StartTime) {
		return ErrInvalidInterval
	}
	if a.EmployeeID != "" && a.ResourceID != "" {
		return ErrDoubleAssignment
	}
	if a.Status != "" && !a.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}
