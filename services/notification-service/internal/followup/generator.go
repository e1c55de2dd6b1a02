// Package followup re-engages recurring clients who stopped booking. It is
// a planner, not a sender: rows it creates flow through the same dispatch
// pipeline as everything else.
package followup

import (
	"context"
	"log/slog"
	"time"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/schedule"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/storage"
)

type Store interface {
	InsertStandalone(ctx context.Context, ns []model.Notification) (int, error)
	RecentFollowUpExists(ctx context.Context, businessID, userID string, since time.Time) (bool, error)
}

type Clients interface {
	ListInactiveRecurring(ctx context.Context, cutoff time.Time, limit int) ([]storage.Client, error)
}

type Prefs interface {
	EnabledUserMethods(ctx context.Context, userID string) ([]model.DeliveryMethod, error)
}

type Config struct {
	Interval      time.Duration
	InactiveAfter time.Duration
	DedupWindow   time.Duration
	BatchSize     int
}

type Generator struct {
	store   Store
	clients Clients
	prefs   Prefs
	logger  *slog.Logger
	cfg     Config
}

func NewGenerator(store Store, clients Clients, prefs Prefs, logger *slog.Logger, cfg Config) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = 90 * 24 * time.Hour
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Generator{store: store, clients: clients, prefs: prefs, logger: logger, cfg: cfg}
}

func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			planned, err := g.RunOnce(ctx, time.Now().UTC())
			if err != nil {
				g.logger.Error("follow-up generation failed", "err", err)
			} else if planned > 0 {
				g.logger.Info("follow-ups planned", "clients", planned)
			}
		}
	}
}

// RunOnce plans follow-up rows for lapsed clients, skipping anyone who got
// one inside the dedup window. Returns the number of clients planned.
func (g *Generator) RunOnce(ctx context.Context, now time.Time) (int, error) {
	clients, err := g.clients.ListInactiveRecurring(ctx, now.Add(-g.cfg.InactiveAfter), g.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	planned := 0
	for _, c := range clients {
		recent, err := g.store.RecentFollowUpExists(ctx, c.BusinessID, c.ID, now.Add(-g.cfg.DedupWindow))
		if err != nil {
			return planned, err
		}
		if recent {
			continue
		}
		methods, err := g.prefs.EnabledUserMethods(ctx, c.ID)
		if err != nil {
			return planned, err
		}
		ns := schedule.PlanFollowUp(c.BusinessID, schedule.Recipient{
			UserID:    c.ID,
			Email:     c.Email,
			Phone:     c.Phone,
			PushToken: c.PushToken,
			Methods:   methods,
		}, now)
		if len(ns) == 0 {
			continue
		}
		if _, err := g.store.InsertStandalone(ctx, ns); err != nil {
			return planned, err
		}
		planned++
	}
	return planned, nil
}
