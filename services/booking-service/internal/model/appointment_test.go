package model

import "testing"

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusPending, StatusNoShow},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusNoShow},
		{StatusConfirmed, StatusConfirmed},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusConfirmed, StatusPending},
		{StatusCompleted, StatusConfirmed},
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusConfirmed},
		{StatusNoShow, StatusCompleted},
		{StatusPending, Status("archived")},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestStatusBlocks(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusCompleted} {
		if !s.Blocks() {
			t.Errorf("%s should block its slot", s)
		}
	}
	for _, s := range []Status{StatusCancelled, StatusNoShow} {
		if s.Blocks() {
			t.Errorf("%s should free its slot", s)
		}
	}
}
