package followup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/storage"
)

type fakeStore struct {
	recent   map[string]bool
	inserted []model.Notification
}

func (s *fakeStore) InsertStandalone(_ context.Context, ns []model.Notification) (int, error) {
	s.inserted = append(s.inserted, ns...)
	return len(ns), nil
}

func (s *fakeStore) RecentFollowUpExists(_ context.Context, _, userID string, _ time.Time) (bool, error) {
	return s.recent[userID], nil
}

type fakeClients struct {
	clients []storage.Client
	cutoff  time.Time
}

func (c *fakeClients) ListInactiveRecurring(_ context.Context, cutoff time.Time, _ int) ([]storage.Client, error) {
	c.cutoff = cutoff
	return c.clients, nil
}

type fakePrefs struct{}

func (fakePrefs) EnabledUserMethods(context.Context, string) ([]model.DeliveryMethod, error) {
	return []model.DeliveryMethod{model.MethodEmail}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_PlansForLapsedClients(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{recent: map[string]bool{}}
	clients := &fakeClients{clients: []storage.Client{
		{ID: "c-1", BusinessID: "biz-1", Email: "one@example.com"},
		{ID: "c-2", BusinessID: "biz-1", Email: "two@example.com"},
	}}
	g := NewGenerator(store, clients, fakePrefs{}, testLogger(), Config{})

	planned, err := g.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if planned != 2 {
		t.Fatalf("expected 2 clients planned, got %d", planned)
	}
	if want := now.Add(-90 * 24 * time.Hour); !clients.cutoff.Equal(want) {
		t.Errorf("inactivity cutoff %s, want %s", clients.cutoff, want)
	}
	for _, n := range store.inserted {
		if n.Type != model.TypeFollowUp {
			t.Errorf("unexpected row type %s", n.Type)
		}
	}
}

func TestRunOnce_SkipsRecentlyContacted(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{recent: map[string]bool{"c-1": true}}
	clients := &fakeClients{clients: []storage.Client{
		{ID: "c-1", BusinessID: "biz-1", Email: "one@example.com"},
		{ID: "c-2", BusinessID: "biz-1", Email: "two@example.com"},
	}}
	g := NewGenerator(store, clients, fakePrefs{}, testLogger(), Config{})

	planned, err := g.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if planned != 1 {
		t.Fatalf("expected 1 client planned, got %d", planned)
	}
	for _, n := range store.inserted {
		if n.UserID == "c-1" {
			t.Error("client inside the dedup window must be skipped")
		}
	}
}

func TestRunOnce_SkipsClientsWithNoAddresses(t *testing.T) {
	store := &fakeStore{recent: map[string]bool{}}
	clients := &fakeClients{clients: []storage.Client{{ID: "c-1", BusinessID: "biz-1"}}}
	g := NewGenerator(store, clients, fakePrefs{}, testLogger(), Config{})

	planned, err := g.RunOnce(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if planned != 0 || len(store.inserted) != 0 {
		t.Fatalf("nothing should be planned without a deliverable address, got %d", planned)
	}
}
