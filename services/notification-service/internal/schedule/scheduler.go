// Package schedule turns appointment lifecycle events into pending
// notification rows. Planning is pure: callers supply the clock and the
// already-resolved recipient, the dispatcher picks the rows up later.
package schedule

import (
	"time"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
)

// ReminderOffsets maps each reminder type to how long before the
// appointment start it goes out.
var ReminderOffsets = map[model.Type]time.Duration{
	model.TypeReminder24h: 24 * time.Hour,
	model.TypeReminder1h:  time.Hour,
	model.TypeReminder15m: 15 * time.Minute,
}

// Recipient is a client with their enabled channels resolved. Methods the
// recipient opted out of never produce a row; the dispatcher re-checks
// preferences at send time in case they changed in between.
type Recipient struct {
	UserID    string
	Email     string
	Phone     string
	PushToken string
	Methods   []model.DeliveryMethod
}

func (rcp Recipient) address(m model.DeliveryMethod) string {
	switch m {
	case model.MethodEmail:
		return rcp.Email
	case model.MethodSMS, model.MethodWhatsApp:
		return rcp.Phone
	case model.MethodPush:
		return rcp.PushToken
	case model.MethodBrowser:
		return rcp.UserID
	}
	return ""
}

type AppointmentInfo struct {
	ID         string
	BusinessID string
	ServiceID  string
	StartTime  time.Time
	EndTime    time.Time
}

func payloadFor(appt AppointmentInfo) map[string]any {
	return map[string]any{
		"appointment_id": appt.ID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
	}
}

// PlanImmediate fans an event out into one due-now row per enabled channel
// with a usable address.
func PlanImmediate(t model.Type, appt AppointmentInfo, rcp Recipient, now time.Time) []model.Notification {
	var ns []model.Notification
	for _, m := range rcp.Methods {
		addr := rcp.address(m)
		if addr == "" {
			continue
		}
		ns = append(ns, model.Notification{
			UserID:        rcp.UserID,
			BusinessID:    appt.BusinessID,
			AppointmentID: appt.ID,
			Type:          t,
			Method:        m,
			Recipient:     addr,
			Payload:       payloadFor(appt),
			Status:        model.StatusPending,
			ScheduledFor:  now,
		})
	}
	return ns
}

// PlanReminders produces reminder rows for every offset whose send time is
// still ahead of now. An appointment booked two hours out gets the 1h and
// 15m reminders but not the 24h one.
func PlanReminders(appt AppointmentInfo, rcp Recipient, now time.Time) []model.Notification {
	var ns []model.Notification
	for t, offset := range ReminderOffsets {
		dueAt := appt.StartTime.Add(-offset)
		if !dueAt.After(now) {
			continue
		}
		for _, m := range rcp.Methods {
			addr := rcp.address(m)
			if addr == "" {
				continue
			}
			ns = append(ns, model.Notification{
				UserID:        rcp.UserID,
				BusinessID:    appt.BusinessID,
				AppointmentID: appt.ID,
				Type:          t,
				Method:        m,
				Recipient:     addr,
				Payload:       payloadFor(appt),
				Status:        model.StatusPending,
				ScheduledFor:  dueAt,
			})
		}
	}
	return ns
}

// PlanFollowUp builds the due-now win-back rows for a lapsed client.
func PlanFollowUp(businessID string, rcp Recipient, now time.Time) []model.Notification {
	var ns []model.Notification
	for _, m := range rcp.Methods {
		addr := rcp.address(m)
		if addr == "" {
			continue
		}
		ns = append(ns, model.Notification{
			UserID:       rcp.UserID,
			BusinessID:   businessID,
			Type:         model.TypeFollowUp,
			Method:       m,
			Recipient:    addr,
			Payload:      map[string]any{"business_id": businessID},
			Status:       model.StatusPending,
			ScheduledFor: now,
		})
	}
	return ns
}
