package db

import (
	"path/filepath"
	"testing"

	"steprun/api"
	"steprun/session"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenAt(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSessionCacheRoundTrip(t *testing.T) {
	d := openTestDB(t)

	sess := session.Session{
		ID:       "sess-1",
		Status:   session.StatusRunning,
		Prompt:   "Check the signup flow",
		Title:    "Signup",
		LLMModel: "claude-sonnet-4-5",
		Headless: true,
		Plan: &session.Plan{
			ID:       "plan-1",
			PlanText: "1. open page",
			Steps:    []session.PlanStep{{StepNumber: 1, Description: "open page"}},
		},
	}
	steps := []session.Step{
		{ID: "st-1", StepNumber: 1, Description: "open page", Status: session.StepStatusPassed},
	}

	if err := d.UpsertSession(sess, steps); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rec, err := d.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a cached session")
	}
	if rec.Session.Status != session.StatusRunning {
		t.Errorf("expected status running, got %s", rec.Session.Status)
	}
	if rec.Session.Plan == nil || len(rec.Session.Plan.Steps) != 1 {
		t.Error("expected plan to survive the round trip")
	}
	if len(rec.Steps) != 1 || rec.Steps[0].ID != "st-1" {
		t.Errorf("expected one cached step, got %+v", rec.Steps)
	}

	// Upsert replaces, never duplicates
	sess.Status = session.StatusCompleted
	if err := d.UpsertSession(sess, steps); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	records, err := d.ListSessions()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one session after re-upsert, got %d", len(records))
	}
	if records[0].Session.Status != session.StatusCompleted {
		t.Errorf("expected updated status, got %s", records[0].Session.Status)
	}
}

func TestGetSessionUnknownReturnsNil(t *testing.T) {
	d := openTestDB(t)

	rec, err := d.GetSession("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Error("expected nil for an unknown session")
	}
}

func TestScriptLinkIsFirstWriteWins(t *testing.T) {
	d := openTestDB(t)

	first := &api.Script{ID: "scr-1", SessionID: "sess-1", Name: "one", Code: "code-1"}
	second := &api.Script{ID: "scr-2", SessionID: "sess-1", Name: "two", Code: "code-2"}

	if err := d.SaveScript(first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := d.SaveScript(second); err != nil {
		t.Fatalf("conflicting save should be a no-op, got: %v", err)
	}

	got, err := d.ScriptBySession("sess-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got == nil || got.ID != "scr-1" {
		t.Errorf("expected the first linked script to win, got %+v", got)
	}
}

func TestSettingsCache(t *testing.T) {
	d := openTestDB(t)

	none, err := d.GetSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != nil {
		t.Error("expected nil before settings are cached")
	}

	in := api.Settings{DefaultLLMModel: "claude-sonnet-4-5", DefaultHeadless: true, MaxSteps: 40}
	if err := d.SaveSettings(in); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// Overwrite takes the latest value
	in.MaxSteps = 50
	if err := d.SaveSettings(in); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}

	out, err := d.GetSettings()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out == nil || out.MaxSteps != 50 {
		t.Errorf("expected cached settings with max steps 50, got %+v", out)
	}
}
