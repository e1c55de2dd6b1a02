package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/storage"
)

// Sweeper is the periodic half of the scheduler: it catches appointments
// entering the reminder horizon that no event-driven path planned yet
// (and re-plans rescheduled ones, whose reminder_sent flag was reset).
type Sweeper struct {
	reminders     *storage.ReminderRepository
	notifications *storage.NotificationRepository
	clients       *storage.ClientRepository
	prefs         *storage.PrefsRepository
	logger        *slog.Logger
	interval      time.Duration
	horizon       time.Duration
	batchSize     int
}

type SweeperConfig struct {
	Interval  time.Duration
	Horizon   time.Duration
	BatchSize int
}

func NewSweeper(reminders *storage.ReminderRepository, notifications *storage.NotificationRepository, clients *storage.ClientRepository, prefs *storage.PrefsRepository, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24*time.Hour + 5*time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		reminders:     reminders,
		notifications: notifications,
		clients:       clients,
		prefs:         prefs,
		logger:        logger,
		interval:      cfg.Interval,
		horizon:       cfg.Horizon,
		batchSize:     cfg.BatchSize,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			planned, err := s.RunOnce(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Error("reminder sweep failed", "err", err)
			} else if planned > 0 {
				s.logger.Info("reminders planned", "appointments", planned)
			}
		}
	}
}

// RunOnce plans reminders for one batch of upcoming appointments. The flag
// flip and the notification inserts commit together, so a crash mid-sweep
// re-plans the whole batch and the unique index drops the duplicates.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.reminders.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appts, err := s.reminders.DueForReminders(ctx, tx, now, s.horizon, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(appts) == 0 {
		return 0, tx.Commit(ctx)
	}

	planned := make([]string, 0, len(appts))
	for _, appt := range appts {
		client, err := s.clients.Get(ctx, appt.ClientID)
		if err != nil {
			if errors.Is(err, storage.ErrClientNotFound) {
				// Nothing to deliver to; mark planned so the sweep
				// does not rescan this row forever.
				s.logger.Warn("client missing for reminder", "appointment_id", appt.ID, "client_id", appt.ClientID)
				planned = append(planned, appt.ID)
				continue
			}
			return 0, err
		}
		methods, err := s.prefs.EnabledUserMethods(ctx, client.ID)
		if err != nil {
			return 0, err
		}
		rcp := Recipient{
			UserID:    client.ID,
			Email:     client.Email,
			Phone:     client.Phone,
			PushToken: client.PushToken,
			Methods:   methods,
		}
		ns := PlanReminders(AppointmentInfo{
			ID:         appt.ID,
			BusinessID: appt.BusinessID,
			ServiceID:  appt.ServiceID,
			StartTime:  appt.StartTime,
			EndTime:    appt.EndTime,
		}, rcp, now)
		if _, err := s.notifications.Insert(ctx, tx, ns); err != nil {
			return 0, err
		}
		planned = append(planned, appt.ID)
	}

	if err := s.reminders.MarkPlanned(ctx, tx, planned); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(planned), nil
}
