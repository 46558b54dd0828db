package models

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	allowed := []struct{ from, to RideStatus }{
		{StatusRequested, StatusAccepted},
		{StatusRequested, StatusCancelled},
		{StatusAccepted, StatusStarted},
		{StatusAccepted, StatusCancelled},
		{StatusStarted, StatusCompleted},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Fatalf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to RideStatus }{
		{StatusAccepted, StatusRequested},
		{StatusStarted, StatusCancelled},
		{StatusStarted, StatusAccepted},
		{StatusCompleted, StatusStarted},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusRequested},
		{StatusRequested, StatusStarted},
		{StatusRequested, StatusCompleted},
	}
	for _, tr := range denied {
		if CanTransition(tr.from, tr.to) {
			t.Fatalf("expected %s -> %s to be rejected", tr.from, tr.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !StatusCompleted.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Fatal("completed and cancelled must be terminal")
	}
	if StatusRequested.IsTerminal() || StatusAccepted.IsTerminal() || StatusStarted.IsTerminal() {
		t.Fatal("non-terminal status reported terminal")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if KindOf(E(KindNotFound, "ride not found")) != KindNotFound {
		t.Fatal("expected not_found kind")
	}
	plain := errPlain{}
	if KindOf(plain) != KindInternal {
		t.Fatal("unclassified errors must collapse to internal")
	}
	if MessageOf(plain) != "something went wrong" {
		t.Fatal("unclassified errors must not leak their message")
	}
}

type errPlain struct{}

func (errPlain) Error() string { return "dial tcp: connection refused" }
