package web

import (
	"strings"
	"testing"

	"steprun/session"
)

func TestStatusUIWithoutSession(t *testing.T) {
	html := generateStatusUI(nil)
	if !strings.Contains(html, "No active session") {
		t.Error("expected empty-state message when no session is open")
	}
}

func TestStatusUIRendersSnapshot(t *testing.T) {
	snap := &session.Snapshot{
		Session: session.Session{
			ID:     "sess-1",
			Status: session.StatusPaused,
			Prompt: "Check the login flow",
			Title:  "Login flow",
			Plan: &session.Plan{
				Steps: []session.PlanStep{
					{StepNumber: 1, Description: "Open the login page"},
					{StepNumber: 2, Description: "Submit credentials"},
				},
			},
		},
		Steps: []session.Step{
			{StepNumber: 1, Description: "Open the login page", Status: session.StepStatusPassed, URL: "https://example.com/login"},
			{StepNumber: 2, Description: "Submit credentials", Status: session.StepStatusFailed},
		},
		ActiveTask:   session.TaskRunTillEnd,
		SkippedSteps: []int{2},
		SelectedStep: 1,
	}

	html := generateStatusUI(snap)

	for _, want := range []string{
		"Login flow",
		"paused",
		"task: run_till_end",
		"Open the login page",
		"https://example.com/login",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected UI to contain %q", want)
		}
	}

	// Skipped step renders as skipped, not failed
	if !strings.Contains(html, "skipped") {
		t.Error("expected skipped badge for a skipped step")
	}
}

func TestStatusUIShowsReplayFailure(t *testing.T) {
	snap := &session.Snapshot{
		Session: session.Session{ID: "sess-2", Status: session.StatusPaused, Prompt: "p"},
		ReplayFailure: &session.ReplayFailure{
			FailedAtStep: 3,
			TotalSteps:   5,
			ErrorMessage: "element not found",
		},
	}

	html := generateStatusUI(snap)
	if !strings.Contains(html, "Failed at step 3 of 5: element not found") {
		t.Error("expected replay failure banner")
	}
}

func TestUndoPendingLifecycle(t *testing.T) {
	app := NewApp(nil, nil)

	if got := app.takeUndo(); got != 0 {
		t.Errorf("expected no pending undo initially, got %d", got)
	}

	app.requestUndo(4)
	if got := app.takeUndo(); got != 4 {
		t.Errorf("expected pending undo 4, got %d", got)
	}

	// takeUndo consumes the target
	if got := app.takeUndo(); got != 0 {
		t.Errorf("expected pending undo cleared after take, got %d", got)
	}
}
