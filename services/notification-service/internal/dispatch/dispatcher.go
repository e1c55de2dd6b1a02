// Package dispatch drains due notification rows and pushes them through
// channel senders. Workers are stateless; any number of replicas can run
// against the same table because claiming uses SKIP LOCKED.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
)

var dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookwise_notifications_dispatched_total",
	Help: "Notification dispatch outcomes by status and delivery method.",
}, []string{"status", "method"})

// Cancel reasons written to rows the dispatcher drops at send time.
const (
	reasonUserOptOut       = "recipient preference disabled"
	reasonBusinessDisabled = "channel disabled by business settings"
	reasonNoSender         = "no sender configured for channel"
)

// Store is the slice of the notifications repository the worker uses.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, reclaimAfter time.Duration) ([]model.Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time, errMsg string) error
	MarkCancelled(ctx context.Context, id string, at time.Time, reason string) error
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Prefs re-checks channel consent at send time. Rows were planned against
// the preferences of that moment; they may have changed since.
type Prefs interface {
	UserMethodEnabled(ctx context.Context, userID string, m model.DeliveryMethod) (bool, error)
	BusinessAllows(ctx context.Context, businessID string, m model.DeliveryMethod, t model.Type) (bool, error)
}

// Recorder publishes dispatch outcomes, typically through the outbox.
// Recording is best-effort: a recorder error never changes row status.
type Recorder interface {
	Record(ctx context.Context, n model.Notification, outcome string, errMsg string) error
}

type Config struct {
	BatchSize     int
	Interval      time.Duration
	SendTimeout   time.Duration
	ReclaimAfter  time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

type Result struct {
	Claimed   int
	Sent      int
	Failed    int
	Cancelled int
}

type Worker struct {
	store    Store
	prefs    Prefs
	senders  map[model.DeliveryMethod]Sender
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
}

func NewWorker(store Store, prefs Prefs, senders map[model.DeliveryMethod]Sender, recorder Recorder, logger *slog.Logger, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.ReclaimAfter <= 0 {
		cfg.ReclaimAfter = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Worker{
		store:    store,
		prefs:    prefs,
		senders:  senders,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

func (w *Worker) Run(ctx context.Context) {
	dispatch := time.NewTicker(w.cfg.Interval)
	defer dispatch.Stop()
	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dispatch.C:
			res, err := w.RunOnce(ctx, time.Now().UTC())
			if err != nil {
				w.logger.Error("dispatch batch failed", "err", err)
			} else if res.Claimed > 0 {
				w.logger.Info("dispatch batch done",
					"claimed", res.Claimed, "sent", res.Sent, "failed", res.Failed, "cancelled", res.Cancelled)
			}
		case <-sweep.C:
			purged, err := w.store.PurgeTerminalBefore(ctx, time.Now().UTC().Add(-w.cfg.Retention))
			if err != nil {
				w.logger.Error("retention sweep failed", "err", err)
			} else if purged > 0 {
				w.logger.Info("retention sweep done", "purged", purged)
			}
		}
	}
}

// RunOnce claims one batch and works through it row by row. A failing row
// is marked failed and the batch continues; the claim itself committed
// before any send, so a worker crash mid-batch only delays the remaining
// rows until the claim stamp expires.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	claimed, err := w.store.ClaimDue(ctx, now, w.cfg.BatchSize, w.cfg.ReclaimAfter)
	if err != nil {
		return Result{}, err
	}

	res := Result{Claimed: len(claimed)}
	for _, n := range claimed {
		switch w.dispatchOne(ctx, n) {
		case model.StatusSent:
			res.Sent++
		case model.StatusFailed:
			res.Failed++
		case model.StatusCancelled:
			res.Cancelled++
		}
	}
	return res, nil
}

// dispatchOne returns the terminal status it gave the row, or
// StatusPending when the row was left claimed for a later retry.
func (w *Worker) dispatchOne(ctx context.Context, n model.Notification) model.Status {
	now := time.Now().UTC()

	userOK, err := w.prefs.UserMethodEnabled(ctx, n.UserID, n.Method)
	if err != nil {
		// Leave the row claimed; it becomes eligible again after the
		// reclaim window.
		w.logger.Error("user preference lookup failed", "notification_id", n.ID, "err", err)
		return model.StatusPending
	}
	if !userOK {
		return w.cancel(ctx, n, now, reasonUserOptOut)
	}

	bizOK, err := w.prefs.BusinessAllows(ctx, n.BusinessID, n.Method, n.Type)
	if err != nil {
		w.logger.Error("business settings lookup failed", "notification_id", n.ID, "err", err)
		return model.StatusPending
	}
	if !bizOK {
		return w.cancel(ctx, n, now, reasonBusinessDisabled)
	}

	sender, ok := w.senders[n.Method]
	if !ok {
		return w.cancel(ctx, n, now, reasonNoSender)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	err = sender.Send(sendCtx, render(n))
	cancel()
	if err != nil {
		w.logger.Warn("notification send failed",
			"notification_id", n.ID, "method", n.Method, "type", n.Type, "err", err)
		if markErr := w.store.MarkFailed(ctx, n.ID, now, err.Error()); markErr != nil {
			w.logger.Error("mark failed errored", "notification_id", n.ID, "err", markErr)
			return model.StatusPending
		}
		dispatchedTotal.WithLabelValues("failed", string(n.Method)).Inc()
		w.record(ctx, n, "failed", err.Error())
		return model.StatusFailed
	}

	if err := w.store.MarkSent(ctx, n.ID, now); err != nil {
		w.logger.Error("mark sent errored", "notification_id", n.ID, "err", err)
		return model.StatusPending
	}
	dispatchedTotal.WithLabelValues("sent", string(n.Method)).Inc()
	w.record(ctx, n, "sent", "")
	return model.StatusSent
}

func (w *Worker) cancel(ctx context.Context, n model.Notification, now time.Time, reason string) model.Status {
	if err := w.store.MarkCancelled(ctx, n.ID, now, reason); err != nil {
		w.logger.Error("mark cancelled errored", "notification_id", n.ID, "err", err)
		return model.StatusPending
	}
	dispatchedTotal.WithLabelValues("cancelled", string(n.Method)).Inc()
	return model.StatusCancelled
}

func (w *Worker) record(ctx context.Context, n model.Notification, outcome, errMsg string) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.Record(ctx, n, outcome, errMsg); err != nil {
		w.logger.Error("outcome record failed", "notification_id", n.ID, "err", err)
	}
}

// render builds the channel-agnostic message for a row. Senders decide how
// much of it their transport can carry.
func render(n model.Notification) Message {
	start, _ := n.Payload["start_time"].(string)
	meta := map[string]string{
		"notification_id": n.ID,
		"type":            string(n.Type),
	}
	if n.AppointmentID != "" {
		meta["appointment_id"] = n.AppointmentID
	}

	var subject, body string
	switch n.Type {
	case model.TypeConfirmation:
		subject = "Your booking is confirmed"
		body = fmt.Sprintf("Your appointment is confirmed for %s.", start)
	case model.TypeReminder24h:
		subject = "Appointment tomorrow"
		body = fmt.Sprintf("Reminder: your appointment starts at %s.", start)
	case model.TypeReminder1h:
		subject = "Appointment in one hour"
		body = fmt.Sprintf("Reminder: your appointment starts at %s.", start)
	case model.TypeReminder15m:
		subject = "Appointment in 15 minutes"
		body = fmt.Sprintf("Reminder: your appointment starts at %s.", start)
	case model.TypeCancellation:
		subject = "Your appointment was cancelled"
		body = fmt.Sprintf("Your appointment scheduled for %s has been cancelled.", start)
	case model.TypeFollowUp:
		subject = "We miss you"
		body = "It has been a while since your last visit. Book your next appointment today."
	default:
		subject = "Notification"
		body = "You have a new notification."
	}

	return Message{
		Recipient: n.Recipient,
		Subject:   subject,
		Body:      body,
		Metadata:  meta,
	}
}
