package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bookwiselabs/bookwise/services/booking-service/internal/availability"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/model"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/outbox"
	"github.com/bookwiselabs/bookwise/services/booking-service/internal/storage"
)

var (
	appointmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookwise_appointments_created_total",
		Help: "Appointments persisted after passing the conflict gate.",
	})
	bookingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookwise_booking_conflicts_total",
		Help: "Appointment writes rejected because the slot overlaps an active booking.",
	})
)

// OverlapDefaults are the deployment-wide conflict gate settings. Requests
// may widen the buffer, but the scope is fixed: the schema's exclusion
// constraint is built for one scope, and a per-request switch could allow
// writes the constraint rejects.
type OverlapDefaults struct {
	Buffer         time.Duration
	LocationScoped bool
}

type AppointmentHandler struct {
	repo       *storage.AppointmentRepository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
	defaults   OverlapDefaults
}

func NewAppointmentHandler(repo *storage.AppointmentRepository, outboxRepo *outbox.Repository, logger *slog.Logger, defaults OverlapDefaults) *AppointmentHandler {
	return &AppointmentHandler{
		repo:       repo,
		outboxRepo: outboxRepo,
		logger:     logger,
		defaults:   defaults,
	}
}

type createAppointmentRequest struct {
	BusinessID    string `json:"business_id"`
	LocationID    string `json:"location_id"`
	ServiceID     string `json:"service_id"`
	ClientID      string `json:"client_id"`
	EmployeeID    string `json:"employee_id"`
	ResourceID    string `json:"resource_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Notes         string `json:"notes"`
	BufferMinutes *int   `json:"buffer_minutes"`
}

type updateAppointmentRequest struct {
	BusinessID    string  `json:"business_id"`
	AppointmentID string  `json:"appointment_id"`
	StartTime     *string `json:"start_time"`
	EndTime       *string `json:"end_time"`
	LocationID    *string `json:"location_id"`
	EmployeeID    *string `json:"employee_id"`
	ResourceID    *string `json:"resource_id"`
	Status        *string `json:"status"`
	Notes         *string `json:"notes"`
	BufferMinutes *int    `json:"buffer_minutes"`
}

type cancelAppointmentRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	LocationID    string `json:"location_id,omitempty"`
	ServiceID     string `json:"service_id"`
	ClientID      string `json:"client_id"`
	EmployeeID    string `json:"employee_id,omitempty"`
	ResourceID    string `json:"resource_id,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CancelReason  string `json:"cancellation_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *AppointmentHandler) overlapParams(appt *model.Appointment, bufferMinutes *int, excludeID string) storage.OverlapParams {
	buffer := h.defaults.Buffer
	if bufferMinutes != nil && *bufferMinutes >= 0 {
		buffer = time.Duration(*bufferMinutes) * time.Minute
	}
	return storage.OverlapParams{
		BusinessID:   appt.BusinessID,
		EmployeeID:   appt.EmployeeID,
		LocationID:   appt.LocationID,
		Start:        appt.StartTime,
		End:          appt.EndTime,
		Buffer:       buffer,
		SameLocation: h.defaults.LocationScoped,
		ExcludeID:    excludeID,
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.BusinessID == "" || req.ServiceID == "" || req.ClientID == "" {
		http.Error(w, "business_id, service_id and client_id are required", http.StatusBadRequest)
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	appt := &model.Appointment{
		BusinessID: req.BusinessID,
		LocationID: strings.TrimSpace(req.LocationID),
		ServiceID:  req.ServiceID,
		ClientID:   req.ClientID,
		EmployeeID: req.EmployeeID,
		ResourceID: req.ResourceID,
		StartTime:  startTime,
		EndTime:    endTime,
		Status:     model.StatusPending,
		Notes:      strings.TrimSpace(req.Notes),
	}
	if err := appt.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The check and the insert share one transaction; the exclusion
	// constraint catches whatever slips between concurrent transactions.
	if appt.EmployeeID != "" {
		clash, err := h.repo.HasOverlap(ctx, tx, h.overlapParams(appt, req.BufferMinutes, ""))
		if err != nil {
			h.logger.Error("overlap check failed", "err", err, "business_id", appt.BusinessID)
			http.Error(w, "overlap check failed", http.StatusInternalServerError)
			return
		}
		if clash {
			bookingConflicts.Inc()
			http.Error(w, "time slot overlaps an active booking", http.StatusConflict)
			return
		}
	}

	if err := h.repo.Create(ctx, tx, appt); err != nil {
		if storage.IsOverlap(err) {
			bookingConflicts.Inc()
			http.Error(w, "time slot overlaps an active booking", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	if err := h.writeLifecycleEvent(ctx, tx, outbox.EventAppointmentCreated, appt, nil); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	appointmentsCreated.Inc()
	writeJSON(w, http.StatusCreated, toResponse(*appt))
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := h.repo.GetForUpdate(ctx, tx, req.BusinessID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	merged, timingChanged, err := mergeUpdate(current, req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, model.ErrInvalidTransition) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	// The conflict gate only runs when time, worker or location moved; a
	// notes-only edit never races against its own row.
	if timingChanged && merged.EmployeeID != "" {
		clash, err := h.repo.HasOverlap(ctx, tx, h.overlapParams(&merged, req.BufferMinutes, merged.ID))
		if err != nil {
			h.logger.Error("overlap check failed", "err", err, "appointment_id", merged.ID)
			http.Error(w, "overlap check failed", http.StatusInternalServerError)
			return
		}
		if clash {
			bookingConflicts.Inc()
			http.Error(w, "time slot overlaps an active booking", http.StatusConflict)
			return
		}
	}
	if timingChanged {
		// New time, new reminders.
		merged.ReminderSent = false
	}

	if err := h.repo.Update(ctx, tx, &merged); err != nil {
		if storage.IsOverlap(err) {
			bookingConflicts.Inc()
			http.Error(w, "time slot overlaps an active booking", http.StatusConflict)
			return
		}
		http.Error(w, "failed to update appointment", http.StatusInternalServerError)
		return
	}

	if timingChanged {
		if err := h.writeLifecycleEvent(ctx, tx, outbox.EventAppointmentRescheduled, &merged, &current); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(merged))
}

// mergeUpdate applies the partial changes on top of the current row and
// reports whether any field feeding the conflict gate moved.
func mergeUpdate(current model.Appointment, req updateAppointmentRequest) (model.Appointment, bool, error) {
	merged := current

	if req.StartTime != nil {
		t, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			return model.Appointment{}, false, errors.New("invalid start_time")
		}
		merged.StartTime = t
	}
	if req.EndTime != nil {
		t, err := time.Parse(time.RFC3339, *req.EndTime)
		if err != nil {
			return model.Appointment{}, false, errors.New("invalid end_time")
		}
		merged.EndTime = t
	}
	if req.LocationID != nil {
		merged.LocationID = strings.TrimSpace(*req.LocationID)
	}
	if req.EmployeeID != nil {
		merged.EmployeeID = strings.TrimSpace(*req.EmployeeID)
	}
	if req.ResourceID != nil {
		merged.ResourceID = strings.TrimSpace(*req.ResourceID)
	}
	if req.Notes != nil {
		merged.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Status != nil {
		next := model.Status(strings.TrimSpace(*req.Status))
		if next == model.StatusCancelled {
			return model.Appointment{}, false, errors.New("use the cancel endpoint to cancel an appointment")
		}
		if !current.Status.CanTransition(next) {
			return model.Appointment{}, false, model.ErrInvalidTransition
		}
		merged.Status = next
	}

	if err := merged.Validate(); err != nil {
		return model.Appointment{}, false, err
	}

	timingChanged := !merged.StartTime.Equal(current.StartTime) ||
		!merged.EndTime.Equal(current.EndTime) ||
		merged.EmployeeID != current.EmployeeID ||
		merged.LocationID != current.LocationID
	return merged, timingChanged, nil
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, req.BusinessID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if appt.Status == model.StatusCancelled {
		writeJSON(w, http.StatusOK, toResponse(appt))
		return
	}
	if !appt.Status.CanTransition(model.StatusCancelled) {
		http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, req.BusinessID, appt.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt
	appt.CancelReason = req.Reason

	if err := h.writeLifecycleEvent(ctx, tx, outbox.EventAppointmentCancelled, &appt, nil); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

// Delete hard-deletes a row. Administrative use only; it still emits a
// cancellation event so pending reminders get swept.
func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if businessID == "" || id == "" {
		http.Error(w, "business_id and id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, businessID, id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if err := h.repo.Delete(ctx, tx, businessID, id); err != nil {
		http.Error(w, "failed to delete appointment", http.StatusInternalServerError)
		return
	}

	if appt.Status.Blocks() {
		appt.Status = model.StatusCancelled
		appt.CancelReason = "deleted by administrator"
		if err := h.writeLifecycleEvent(ctx, tx, outbox.EventAppointmentCancelled, &appt, nil); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.logger.Info("appointment deleted", "appointment_id", id, "business_id", businessID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toResponse(appt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	employeeID := strings.TrimSpace(q.Get("employee_id"))
	if businessID == "" || employeeID == "" {
		http.Error(w, "business_id and employee_id required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	durationMins, err := strconv.Atoi(q.Get("duration_minutes"))
	if err != nil || durationMins <= 0 {
		http.Error(w, "duration_minutes required", http.StatusBadRequest)
		return
	}
	duration := time.Duration(durationMins) * time.Minute
	step := duration
	if raw := strings.TrimSpace(q.Get("step_minutes")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			step = time.Duration(n) * time.Minute
		}
	}
	buffer := h.defaults.Buffer
	if raw := strings.TrimSpace(q.Get("buffer_minutes")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			buffer = time.Duration(n) * time.Minute
		}
	}

	// Fetch a window widened by the buffer so padded candidates still see
	// bookings just outside the requested range.
	busy, err := h.repo.ListBusy(r.Context(), businessID, employeeID, from.Add(-buffer), to.Add(buffer))
	if err != nil {
		http.Error(w, "failed to load bookings", http.StatusInternalServerError)
		return
	}

	starts := availability.Slots(from, to, duration, step, buffer, busy, time.Now().UTC())
	items := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		items = append(items, slotItem{
			StartTime: s.UTC().Format(time.RFC3339),
			EndTime:   s.Add(duration).UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

func (h *AppointmentHandler) writeLifecycleEvent(ctx context.Context, tx pgx.Tx, eventType string, appt *model.Appointment, previous *model.Appointment) error {
	body := map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"location_id":    appt.LocationID,
		"service_id":     appt.ServiceID,
		"client_id":      appt.ClientID,
		"employee_id":    appt.EmployeeID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	}
	if previous != nil {
		body["previous_start_time"] = previous.StartTime.UTC().Format(time.RFC3339)
		body["previous_end_time"] = previous.EndTime.UTC().Format(time.RFC3339)
	}
	if appt.CancelledAt != nil {
		body["cancelled_at"] = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	if appt.CancelReason != "" {
		body["reason"] = appt.CancelReason
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func toResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		LocationID:    appt.LocationID,
		ServiceID:     appt.ServiceID,
		ClientID:      appt.ClientID,
		EmployeeID:    appt.EmployeeID,
		ResourceID:    appt.ResourceID,
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
		Status:        string(appt.Status),
		Notes:         appt.Notes,
		CancelReason:  appt.CancelReason,
		CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
