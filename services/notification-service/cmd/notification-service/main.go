package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookwiselabs/bookwise/libs/config"
	"github.com/bookwiselabs/bookwise/libs/db"
	"github.com/bookwiselabs/bookwise/libs/httpx"
	"github.com/bookwiselabs/bookwise/libs/kafkax"
	otelx "github.com/bookwiselabs/bookwise/libs/otel"
	"github.com/bookwiselabs/bookwise/libs/runtime"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/browser"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/consumer"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/dispatch"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/email"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/followup"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/inbox"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/model"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/outbox"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/schedule"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/storage"
	"github.com/bookwiselabs/bookwise/services/notification-service/internal/webhook"
)

// appointmentEvent is the lifecycle payload the booking service publishes.
type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	ServiceID     string `json:"service_id"`
	ClientID      string `json:"client_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Reason        string `json:"reason"`
}

const (
	topicAppointmentCreated     = "appointment.created.v1"
	topicAppointmentRescheduled = "appointment.rescheduled.v1"
	topicAppointmentCancelled   = "appointment.cancelled.v1"
)

type app struct {
	pool          *db.Pool
	logger        *slog.Logger
	notifications *storage.NotificationRepository
	clients       *storage.ClientRepository
	prefs         *storage.PrefsRepository
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool); err != nil {
		logger.Error("schema migration failed", "err", err)
		panic(err)
	}

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewNotificationRepository(pool)
	prefsRepo := storage.NewPrefsRepository(pool)
	clientsRepo := storage.NewClientRepository(pool)
	remindersRepo := storage.NewReminderRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	a := &app{
		pool:          pool,
		logger:        logger,
		notifications: notificationsRepo,
		clients:       clientsRepo,
		prefs:         prefsRepo,
	}

	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  []string{topicAppointmentCreated, topicAppointmentRescheduled, topicAppointmentCancelled},
	}, a.handleLifecycleEvent)
	go eventConsumer.Run(ctx)

	sweeper := schedule.NewSweeper(remindersRepo, notificationsRepo, clientsRepo, prefsRepo, logger, schedule.SweeperConfig{
		Interval:  config.Duration("REMINDER_SWEEP_INTERVAL", time.Minute),
		Horizon:   config.Duration("REMINDER_HORIZON", 24*time.Hour+5*time.Minute),
		BatchSize: config.Int("REMINDER_SWEEP_BATCH", 100),
	})
	go sweeper.Run(ctx)

	worker := dispatch.NewWorker(notificationsRepo, prefsRepo, buildSenders(pool, logger),
		dispatch.NewOutboxRecorder(pool, outboxRepo), logger, dispatch.Config{
			BatchSize:     config.Int("DISPATCH_BATCH_SIZE", 50),
			Interval:      config.Duration("DISPATCH_INTERVAL", 10*time.Second),
			SendTimeout:   config.Duration("DISPATCH_SEND_TIMEOUT", 15*time.Second),
			ReclaimAfter:  config.Duration("DISPATCH_RECLAIM_AFTER", 5*time.Minute),
			Retention:     config.Duration("NOTIFICATION_RETENTION", 30*24*time.Hour),
			SweepInterval: config.Duration("RETENTION_SWEEP_INTERVAL", time.Hour),
		})
	go worker.Run(ctx)

	generator := followup.NewGenerator(notificationsRepo, clientsRepo, prefsRepo, logger, followup.Config{
		Interval:      config.Duration("FOLLOWUP_INTERVAL", 24*time.Hour),
		InactiveAfter: config.Duration("FOLLOWUP_INACTIVE_AFTER", 90*24*time.Hour),
		DedupWindow:   config.Duration("FOLLOWUP_DEDUP_WINDOW", 30*24*time.Hour),
		BatchSize:     config.Int("FOLLOWUP_BATCH_SIZE", 200),
	})
	go generator.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.Handle("/metrics", promhttp.Handler())

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(config.Duration("HTTP_TIMEOUT", 30*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func (a *app) handleLifecycleEvent(ctx context.Context, msg kafka.Message) error {
	var evt appointmentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		a.logger.Error("invalid lifecycle payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if evt.AppointmentID == "" || evt.BusinessID == "" || evt.ClientID == "" {
		a.logger.Error("missing lifecycle fields", "topic", msg.Topic)
		return nil
	}
	start, err := time.Parse(time.RFC3339, evt.StartTime)
	if err != nil && msg.Topic != topicAppointmentCancelled {
		a.logger.Error("invalid start_time", "err", err, "topic", msg.Topic)
		return nil
	}
	end, _ := time.Parse(time.RFC3339, evt.EndTime)

	switch msg.Topic {
	case topicAppointmentCreated:
		return a.onCreated(ctx, evt, start, end)
	case topicAppointmentRescheduled:
		return a.onRescheduled(ctx, evt, start, end)
	case topicAppointmentCancelled:
		return a.onCancelled(ctx, evt, start, end)
	default:
		a.logger.Warn("unexpected topic", "topic", msg.Topic)
		return nil
	}
}

// onCreated plans the confirmation and any reminders whose window is still
// open, then stamps client activity for the follow-up generator.
func (a *app) onCreated(ctx context.Context, evt appointmentEvent, start, end time.Time) error {
	rcp, ok, err := a.resolveRecipient(ctx, evt.ClientID)
	if err != nil || !ok {
		return err
	}
	info := schedule.AppointmentInfo{
		ID:         evt.AppointmentID,
		BusinessID: evt.BusinessID,
		ServiceID:  evt.ServiceID,
		StartTime:  start,
		EndTime:    end,
	}
	now := time.Now().UTC()
	ns := schedule.PlanImmediate(model.TypeConfirmation, info, rcp, now)
	ns = append(ns, schedule.PlanReminders(info, rcp, now)...)
	if _, err := a.notifications.InsertStandalone(ctx, ns); err != nil {
		return err
	}
	return a.clients.TouchLastAppointment(ctx, evt.ClientID, start)
}

// onRescheduled voids pending rows for the old timing and plans a fresh
// confirmation. New reminders come from the sweep once the appointment
// re-enters the horizon; its reminder flag was reset with the move.
func (a *app) onRescheduled(ctx context.Context, evt appointmentEvent, start, end time.Time) error {
	rcp, ok, err := a.resolveRecipient(ctx, evt.ClientID)
	if err != nil {
		return err
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := a.notifications.CancelPendingForAppointment(ctx, tx, evt.AppointmentID, "appointment rescheduled"); err != nil {
		return err
	}
	if ok {
		info := schedule.AppointmentInfo{
			ID:         evt.AppointmentID,
			BusinessID: evt.BusinessID,
			ServiceID:  evt.ServiceID,
			StartTime:  start,
			EndTime:    end,
		}
		ns := schedule.PlanImmediate(model.TypeConfirmation, info, rcp, time.Now().UTC())
		if _, err := a.notifications.Insert(ctx, tx, ns); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (a *app) onCancelled(ctx context.Context, evt appointmentEvent, start, end time.Time) error {
	rcp, ok, err := a.resolveRecipient(ctx, evt.ClientID)
	if err != nil {
		return err
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := a.notifications.CancelPendingForAppointment(ctx, tx, evt.AppointmentID, "appointment cancelled"); err != nil {
		return err
	}
	if ok {
		info := schedule.AppointmentInfo{
			ID:         evt.AppointmentID,
			BusinessID: evt.BusinessID,
			ServiceID:  evt.ServiceID,
			StartTime:  start,
			EndTime:    end,
		}
		ns := schedule.PlanImmediate(model.TypeCancellation, info, rcp, time.Now().UTC())
		if _, err := a.notifications.Insert(ctx, tx, ns); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// resolveRecipient loads the client and their enabled channels. A missing
// client is not an error; there is just no one to notify.
func (a *app) resolveRecipient(ctx context.Context, clientID string) (schedule.Recipient, bool, error) {
	client, err := a.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			a.logger.Warn("client not found for event", "client_id", clientID)
			return schedule.Recipient{}, false, nil
		}
		return schedule.Recipient{}, false, err
	}
	methods, err := a.prefs.EnabledUserMethods(ctx, client.ID)
	if err != nil {
		return schedule.Recipient{}, false, err
	}
	return schedule.Recipient{
		UserID:    client.ID,
		Email:     client.Email,
		Phone:     client.Phone,
		PushToken: client.PushToken,
		Methods:   methods,
	}, true, nil
}

// buildSenders wires one sender per channel from the environment. Channels
// without a configured provider fall back to noop so planned rows drain
// instead of piling up.
func buildSenders(pool *db.Pool, logger *slog.Logger) map[model.DeliveryMethod]dispatch.Sender {
	senders := map[model.DeliveryMethod]dispatch.Sender{
		model.MethodEmail: email.NewSMTPSender(
			config.String("SMTP_HOST", "mailpit"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", "no-reply@bookwise.local"),
		),
		model.MethodBrowser: browser.NewSender(pool),
	}

	for _, ch := range []struct {
		method model.DeliveryMethod
		urlVar string
		tokVar string
	}{
		{model.MethodSMS, "SMS_WEBHOOK_URL", "SMS_WEBHOOK_TOKEN"},
		{model.MethodWhatsApp, "WHATSAPP_WEBHOOK_URL", "WHATSAPP_WEBHOOK_TOKEN"},
		{model.MethodPush, "PUSH_WEBHOOK_URL", "PUSH_WEBHOOK_TOKEN"},
	} {
		url := strings.TrimSpace(config.String(ch.urlVar, ""))
		if url == "" {
			logger.Warn("channel has no provider configured, using noop", "method", ch.method)
			senders[ch.method] = dispatch.NoopSender{}
			continue
		}
		senders[ch.method] = webhook.NewSender(string(ch.method), url, config.String(ch.tokVar, ""))
	}
	return senders
}
