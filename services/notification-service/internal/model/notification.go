package model

import "time"

// DeliveryMethod is the channel a notification leaves through.
type DeliveryMethod string

const (
	MethodEmail    DeliveryMethod = "email"
	MethodSMS      DeliveryMethod = "sms"
	MethodWhatsApp DeliveryMethod = "whatsapp"
	MethodPush     DeliveryMethod = "push"
	MethodBrowser  DeliveryMethod = "browser"
)

func (m DeliveryMethod) Valid() bool {
	switch m {
	case MethodEmail, MethodSMS, MethodWhatsApp, MethodPush, MethodBrowser:
		return true
	}
	return false
}

func AllMethods() []DeliveryMethod {
	return []DeliveryMethod{MethodEmail, MethodSMS, MethodWhatsApp, MethodPush, MethodBrowser}
}

type Type string

const (
	TypeConfirmation Type = "booking_confirmation"
	TypeReminder24h  Type = "reminder_24h"
	TypeReminder1h   Type = "reminder_1h"
	TypeReminder15m  Type = "reminder_15m"
	TypeCancellation Type = "cancellation"
	TypeFollowUp     Type = "follow_up"
)

// Status is the per-notification state machine:
// pending -> sent | failed | cancelled, all terminal, no re-entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPending
}

type Notification struct {
	ID            string
	UserID        string
	BusinessID    string
	AppointmentID string
	Type          Type
	Method        DeliveryMethod
	Recipient     string
	Payload       map[string]any
	Status        Status
	ErrorMessage  string
	ScheduledFor  time.Time
	ClaimedAt     *time.Time
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
