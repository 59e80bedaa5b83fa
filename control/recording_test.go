package control

import (
	"testing"

	"steprun/session"
)

// TestRecordingRequiresBrowser verifies start fails without an
// attached browser reference
func TestRecordingRequiresBrowser(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	r := NewRecorder(store, backend)

	if err := r.Start("dom"); err == nil {
		t.Error("Expected start rejected without browser")
	}
	if store.ActiveTask() != session.TaskNone {
		t.Errorf("Expected no task held, got %s", store.ActiveTask())
	}
}

// TestRecordingBlockedWhileExecuting verifies mutual exclusion with
// the execution controller
func TestRecordingBlockedWhileExecuting(t *testing.T) {
	store := planReadyStore(1)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)
	r := NewRecorder(store, backend)

	store.SetBrowser(&session.BrowserSessionRef{ID: "browser-1"})
	if err := e.ApproveAndStart(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := r.Start("dom"); err == nil {
		t.Error("Expected recording rejected while execution active")
	}
	if r.Active() {
		t.Error("Expected no capture started")
	}
	// No StartRecording request may have been sent
	for _, call := range backend.callList() {
		if call == "StartRecording" {
			t.Error("Expected no backend recording call")
		}
	}
}

// TestRecordingStopFinalizesUserSteps verifies captured steps land in
// the timeline numbered after existing steps with user-sourced actions
func TestRecordingStopFinalizesUserSteps(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	r := NewRecorder(store, backend)

	store.ApplyEvent(session.Event{
		Type:      session.EventStepCompleted,
		SessionID: "sess-1",
		Step:      &session.Step{ID: "ai-1", StepNumber: 1, Status: session.StepStatusPassed},
	})
	store.SetBrowser(&session.BrowserSessionRef{ID: "browser-1"})

	backend.recordedSteps = []session.Step{
		{ID: "rec-1", Description: "clicked login", Actions: []session.Action{{ID: "a1", ActionName: "click"}}},
		{ID: "rec-2", Description: "typed username", Actions: []session.Action{{ID: "a2", ActionName: "type"}}},
	}

	if err := r.Start("dom"); err != nil {
		t.Fatalf("Unexpected start error: %v", err)
	}
	if !r.Active() || r.Mode() != "dom" {
		t.Fatal("Expected active capture in dom mode")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Unexpected stop error: %v", err)
	}

	steps := store.Steps()
	if len(steps) != 3 {
		t.Fatalf("Expected 3 steps after capture, got %d", len(steps))
	}
	if steps[1].StepNumber != 2 || steps[2].StepNumber != 3 {
		t.Errorf("Expected recorded steps numbered 2,3, got %d,%d", steps[1].StepNumber, steps[2].StepNumber)
	}
	for _, st := range steps[1:] {
		for _, a := range st.Actions {
			if a.Source != session.ActionSourceUser {
				t.Errorf("Expected user-sourced action, got %s", a.Source)
			}
		}
	}
	if store.ActiveTask() != session.TaskNone {
		t.Errorf("Expected slot released after stop, got %s", store.ActiveTask())
	}
}

// TestRecordingModeFixedUntilStop verifies mode changes require a
// stop+start cycle
func TestRecordingModeFixedUntilStop(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	r := NewRecorder(store, backend)
	store.SetBrowser(&session.BrowserSessionRef{ID: "browser-1"})

	if err := r.Start("dom"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := r.Start("screenshot"); err == nil {
		t.Error("Expected second start rejected while capturing")
	}
	if r.Mode() != "dom" {
		t.Errorf("Expected mode unchanged, got %s", r.Mode())
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Unexpected stop error: %v", err)
	}
	if err := r.Start("screenshot"); err != nil {
		t.Errorf("Expected restart with new mode after stop: %v", err)
	}
}
