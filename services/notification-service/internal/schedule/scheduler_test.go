package schedule

import (
	"testing"
	"time"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
)

var testAppt = AppointmentInfo{
	ID:         "appt-1",
	BusinessID: "biz-1",
	ServiceID:  "svc-1",
	StartTime:  time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	EndTime:    time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
}

func fullRecipient() Recipient {
	return Recipient{
		UserID:    "client-1",
		Email:     "a@example.com",
		Phone:     "+3161234",
		PushToken: "tok-1",
		Methods:   model.AllMethods(),
	}
}

func TestPlanImmediate_FansOutPerChannel(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	ns := PlanImmediate(model.TypeConfirmation, testAppt, fullRecipient(), now)
	if len(ns) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(ns))
	}
	for _, n := range ns {
		if n.Status != model.StatusPending {
			t.Errorf("row must start pending, got %s", n.Status)
		}
		if !n.ScheduledFor.Equal(now) {
			t.Errorf("immediate rows are due now, got %s", n.ScheduledFor)
		}
		if n.AppointmentID != testAppt.ID {
			t.Errorf("missing appointment back-reference")
		}
	}
}

func TestPlanImmediate_SkipsChannelsWithoutAddress(t *testing.T) {
	rcp := fullRecipient()
	rcp.Phone = ""
	ns := PlanImmediate(model.TypeCancellation, testAppt, rcp, time.Now())
	// sms and whatsapp both need a phone number.
	if len(ns) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(ns))
	}
	for _, n := range ns {
		if n.Method == model.MethodSMS || n.Method == model.MethodWhatsApp {
			t.Errorf("%s row planned without a phone number", n.Method)
		}
	}
}

func TestPlanReminders_ComputesOffsets(t *testing.T) {
	rcp := Recipient{UserID: "client-1", Email: "a@example.com", Methods: []model.DeliveryMethod{model.MethodEmail}}
	now := testAppt.StartTime.Add(-48 * time.Hour)

	ns := PlanReminders(testAppt, rcp, now)
	if len(ns) != 3 {
		t.Fatalf("expected 3 reminder rows, got %d", len(ns))
	}
	byType := map[model.Type]model.Notification{}
	for _, n := range ns {
		byType[n.Type] = n
	}
	if got := byType[model.TypeReminder24h].ScheduledFor; !got.Equal(testAppt.StartTime.Add(-24 * time.Hour)) {
		t.Errorf("24h reminder due at %s", got)
	}
	if got := byType[model.TypeReminder1h].ScheduledFor; !got.Equal(testAppt.StartTime.Add(-time.Hour)) {
		t.Errorf("1h reminder due at %s", got)
	}
	if got := byType[model.TypeReminder15m].ScheduledFor; !got.Equal(testAppt.StartTime.Add(-15 * time.Minute)) {
		t.Errorf("15m reminder due at %s", got)
	}
}

func TestPlanReminders_DropsElapsedOffsets(t *testing.T) {
	rcp := Recipient{UserID: "client-1", Email: "a@example.com", Methods: []model.DeliveryMethod{model.MethodEmail}}
	// Booked two hours before start: the 24h window is already gone.
	now := testAppt.StartTime.Add(-2 * time.Hour)

	ns := PlanReminders(testAppt, rcp, now)
	if len(ns) != 2 {
		t.Fatalf("expected 2 reminder rows, got %d", len(ns))
	}
	for _, n := range ns {
		if n.Type == model.TypeReminder24h {
			t.Error("24h reminder planned after its window elapsed")
		}
	}
}

func TestPlanFollowUp_DueNow(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	rcp := Recipient{UserID: "client-1", Email: "a@example.com", Methods: []model.DeliveryMethod{model.MethodEmail, model.MethodSMS}}

	ns := PlanFollowUp("biz-1", rcp, now)
	if len(ns) != 1 {
		t.Fatalf("expected 1 row (no phone on file), got %d", len(ns))
	}
	n := ns[0]
	if n.Type != model.TypeFollowUp || n.AppointmentID != "" {
		t.Fatalf("unexpected row: %+v", n)
	}
	if !n.ScheduledFor.Equal(now) {
		t.Fatalf("follow-ups are due immediately, got %s", n.ScheduledFor)
	}
}
