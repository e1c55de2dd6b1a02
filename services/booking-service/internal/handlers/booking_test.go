package handlers

import (
	"errors"
	"testing"
	"time"

	"github.com/bookwiselabs/bookwise/services/booking-service/internal/model"
)

func baseAppointment() model.Appointment {
	return model.Appointment{
		ID:         "appt-1",
		BusinessID: "biz-1",
		ServiceID:  "svc-1",
		ClientID:   "client-1",
		EmployeeID: "emp-1",
		StartTime:  time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC),
		Status:     model.StatusConfirmed,
		Notes:      "original",
	}
}

func strPtr(s string) *string { return &s }

func TestMergeUpdate_NotesOnlyDoesNotTouchTiming(t *testing.T) {
	current := baseAppointment()
	merged, timingChanged, err := mergeUpdate(current, updateAppointmentRequest{
		Notes: strPtr("bring the blue chair"),
	})
	if err != nil {
		t.Fatalf("mergeUpdate failed: %v", err)
	}
	if timingChanged {
		t.Fatal("a notes-only edit must not trigger the conflict gate")
	}
	if merged.Notes != "bring the blue chair" {
		t.Fatalf("notes not applied: %q", merged.Notes)
	}
	if !merged.StartTime.Equal(current.StartTime) || merged.EmployeeID != current.EmployeeID {
		t.Fatal("untouched fields must carry over")
	}
}

func TestMergeUpdate_TimeChangeFlagsTiming(t *testing.T) {
	current := baseAppointment()
	merged, timingChanged, err := mergeUpdate(current, updateAppointmentRequest{
		StartTime: strPtr("2026-03-12T12:00:00Z"),
		EndTime:   strPtr("2026-03-12T13:00:00Z"),
	})
	if err != nil {
		t.Fatalf("mergeUpdate failed: %v", err)
	}
	if !timingChanged {
		t.Fatal("moving the interval must trigger the conflict gate")
	}
	if !merged.StartTime.Equal(time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("start not applied: %s", merged.StartTime)
	}
}

func TestMergeUpdate_WorkerChangeFlagsTiming(t *testing.T) {
	_, timingChanged, err := mergeUpdate(baseAppointment(), updateAppointmentRequest{
		EmployeeID: strPtr("emp-2"),
	})
	if err != nil {
		t.Fatalf("mergeUpdate failed: %v", err)
	}
	if !timingChanged {
		t.Fatal("reassigning the worker must trigger the conflict gate")
	}
}

func TestMergeUpdate_RejectsInvertedInterval(t *testing.T) {
	_, _, err := mergeUpdate(baseAppointment(), updateAppointmentRequest{
		EndTime: strPtr("2026-03-12T09:00:00Z"),
	})
	if !errors.Is(err, model.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestMergeUpdate_RejectsBackwardTransition(t *testing.T) {
	_, _, err := mergeUpdate(baseAppointment(), updateAppointmentRequest{
		Status: strPtr("pending"),
	})
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMergeUpdate_RejectsDoubleAssignment(t *testing.T) {
	_, _, err := mergeUpdate(baseAppointment(), updateAppointmentRequest{
		ResourceID: strPtr("bay-3"),
	})
	if !errors.Is(err, model.ErrDoubleAssignment) {
		t.Fatalf("expected ErrDoubleAssignment, got %v", err)
	}
}

func TestMergeUpdate_CancelGoesThroughCancelEndpoint(t *testing.T) {
	_, _, err := mergeUpdate(baseAppointment(), updateAppointmentRequest{
		Status: strPtr("cancelled"),
	})
	if err == nil {
		t.Fatal("status=cancelled must be rejected on the update endpoint")
	}
}

func TestOverlapParams_ScopeFixedByDeployment(t *testing.T) {
	appt := baseAppointment()
	h := NewAppointmentHandler(nil, nil, nil, OverlapDefaults{
		Buffer:         5 * time.Minute,
		LocationScoped: true,
	})

	p := h.overlapParams(&appt, nil, "appt-1")
	if !p.SameLocation {
		t.Fatal("scope must follow the configured default")
	}
	if p.Buffer != 5*time.Minute {
		t.Fatalf("default buffer not applied: %s", p.Buffer)
	}
	if p.ExcludeID != "appt-1" {
		t.Fatalf("exclude id not carried: %q", p.ExcludeID)
	}

	// Requests may widen the buffer but never flip the scope; the
	// exclusion constraint was built for one scope at migration time.
	buf := 20
	p = h.overlapParams(&appt, &buf, "")
	if p.Buffer != 20*time.Minute {
		t.Fatalf("request buffer not applied: %s", p.Buffer)
	}
	if !p.SameLocation {
		t.Fatal("scope must not change per request")
	}
}
