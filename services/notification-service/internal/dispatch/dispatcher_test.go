package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
)

type fakeStore struct {
	rows    map[string]*model.Notification
	order   []string
	reasons map[string]string
}

func newFakeStore(ns ...model.Notification) *fakeStore {
	s := &fakeStore{rows: map[string]*model.Notification{}, reasons: map[string]string{}}
	for i := range ns {
		n := ns[i]
		s.rows[n.ID] = &n
		s.order = append(s.order, n.ID)
	}
	return s
}

func (s *fakeStore) ClaimDue(_ context.Context, now time.Time, limit int, reclaimAfter time.Duration) ([]model.Notification, error) {
	var claimed []model.Notification
	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}
		n := s.rows[id]
		if n.Status != model.StatusPending || n.ScheduledFor.After(now) {
			continue
		}
		if n.ClaimedAt != nil && n.ClaimedAt.After(now.Add(-reclaimAfter)) {
			continue
		}
		stamp := now
		n.ClaimedAt = &stamp
		claimed = append(claimed, *n)
	}
	return claimed, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id string, at time.Time) error {
	if n := s.rows[id]; n.Status == model.StatusPending {
		n.Status = model.StatusSent
		n.SentAt = &at
	}
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id string, _ time.Time, errMsg string) error {
	if n := s.rows[id]; n.Status == model.StatusPending {
		n.Status = model.StatusFailed
		n.ErrorMessage = errMsg
	}
	return nil
}

func (s *fakeStore) MarkCancelled(_ context.Context, id string, _ time.Time, reason string) error {
	if n := s.rows[id]; n.Status == model.StatusPending {
		n.Status = model.StatusCancelled
		s.reasons[id] = reason
	}
	return nil
}

func (s *fakeStore) PurgeTerminalBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakePrefs struct {
	disabledUser     map[model.DeliveryMethod]bool
	disabledBusiness map[model.DeliveryMethod]bool
}

func (p *fakePrefs) UserMethodEnabled(_ context.Context, _ string, m model.DeliveryMethod) (bool, error) {
	return !p.disabledUser[m], nil
}

func (p *fakePrefs) BusinessAllows(_ context.Context, _ string, m model.DeliveryMethod, _ model.Type) (bool, error) {
	return !p.disabledBusiness[m], nil
}

type recordingSender struct {
	sent []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingRow(id string, m model.DeliveryMethod, due time.Time) model.Notification {
	return model.Notification{
		ID:           id,
		UserID:       "client-1",
		BusinessID:   "biz-1",
		Type:         model.TypeConfirmation,
		Method:       m,
		Recipient:    "a@example.com",
		Payload:      map[string]any{"start_time": "2026-03-14T10:00:00Z"},
		Status:       model.StatusPending,
		ScheduledFor: due,
	}
}

func TestRunOnce_SendsDueRowsOnly(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := newFakeStore(
		pendingRow("n-1", model.MethodEmail, now.Add(-time.Minute)),
		pendingRow("n-2", model.MethodEmail, now),
		pendingRow("n-3", model.MethodEmail, now.Add(time.Hour)),
	)
	email := &recordingSender{}
	w := NewWorker(store, &fakePrefs{}, map[model.DeliveryMethod]Sender{model.MethodEmail: email}, nil, testLogger(), Config{})

	res, err := w.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Claimed != 2 || res.Sent != 2 {
		t.Fatalf("expected 2 claimed and sent, got %+v", res)
	}
	if len(email.sent) != 2 {
		t.Fatalf("sender saw %d messages", len(email.sent))
	}
	if store.rows["n-3"].Status != model.StatusPending {
		t.Error("future row must stay pending")
	}
}

func TestRunOnce_UserOptOutCancels(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore(pendingRow("n-1", model.MethodSMS, now))
	sms := &recordingSender{}
	prefs := &fakePrefs{disabledUser: map[model.DeliveryMethod]bool{model.MethodSMS: true}}
	w := NewWorker(store, prefs, map[model.DeliveryMethod]Sender{model.MethodSMS: sms}, nil, testLogger(), Config{})

	res, err := w.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %+v", res)
	}
	if len(sms.sent) != 0 {
		t.Error("cancelled row must never reach the sender")
	}
	if got := store.reasons["n-1"]; got != "recipient preference disabled" {
		t.Errorf("wrong cancel reason: %q", got)
	}
}

func TestRunOnce_BusinessDisabledCancels(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore(pendingRow("n-1", model.MethodWhatsApp, now))
	prefs := &fakePrefs{disabledBusiness: map[model.DeliveryMethod]bool{model.MethodWhatsApp: true}}
	w := NewWorker(store, prefs, map[model.DeliveryMethod]Sender{model.MethodWhatsApp: &recordingSender{}}, nil, testLogger(), Config{})

	res, err := w.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %+v", res)
	}
	if got := store.reasons["n-1"]; got != "channel disabled by business settings" {
		t.Errorf("wrong cancel reason: %q", got)
	}
}

func TestRunOnce_FailureDoesNotStopBatch(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore(
		pendingRow("n-1", model.MethodSMS, now),
		pendingRow("n-2", model.MethodEmail, now),
	)
	sms := &recordingSender{err: errors.New("gateway unreachable")}
	email := &recordingSender{}
	w := NewWorker(store, &fakePrefs{}, map[model.DeliveryMethod]Sender{
		model.MethodSMS:   sms,
		model.MethodEmail: email,
	}, nil, testLogger(), Config{})

	res, err := w.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Sent != 1 {
		t.Fatalf("expected one failure and one send, got %+v", res)
	}
	if store.rows["n-1"].Status != model.StatusFailed {
		t.Error("failing row must be marked failed")
	}
	if store.rows["n-1"].ErrorMessage != "gateway unreachable" {
		t.Errorf("error message not recorded: %q", store.rows["n-1"].ErrorMessage)
	}
	if store.rows["n-2"].Status != model.StatusSent {
		t.Error("row after a failure must still be dispatched")
	}
}

func TestRunOnce_MissingSenderCancels(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore(pendingRow("n-1", model.MethodPush, now))
	w := NewWorker(store, &fakePrefs{}, map[model.DeliveryMethod]Sender{}, nil, testLogger(), Config{})

	res, err := w.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %+v", res)
	}
}

func TestRunOnce_SecondRunClaimsNothing(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeStore(pendingRow("n-1", model.MethodEmail, now))
	email := &recordingSender{}
	w := NewWorker(store, &fakePrefs{}, map[model.DeliveryMethod]Sender{model.MethodEmail: email}, nil, testLogger(), Config{})

	if _, err := w.RunOnce(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	res, err := w.RunOnce(context.Background(), now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if res.Claimed != 0 {
		t.Fatalf("terminal rows must not be reclaimed, got %+v", res)
	}
	if len(email.sent) != 1 {
		t.Fatalf("row dispatched %d times", len(email.sent))
	}
}

func TestRender_ReminderBodyCarriesStartTime(t *testing.T) {
	n := pendingRow("n-1", model.MethodEmail, time.Now())
	n.Type = model.TypeReminder1h
	msg := render(n)
	if msg.Subject != "Appointment in one hour" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if msg.Metadata["notification_id"] != "n-1" {
		t.Error("metadata must carry the notification id")
	}
}
