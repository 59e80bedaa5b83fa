package control

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"steprun/api"
	"steprun/session"
)

// fakeBackend records calls and fails on demand
type fakeBackend struct {
	mu            sync.Mutex
	calls         []string
	failApprove   bool
	failStart     bool
	failUndo      bool
	failStop      bool
	failSteps     map[int]int // step number -> remaining failures
	recordedSteps []session.Step
	failRecording bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failSteps: make(map[int]int)}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) callList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) GetSession(id string) (*api.SessionDetail, error) {
	b.record("GetSession")
	return &api.SessionDetail{Session: session.Session{ID: id}}, nil
}

func (b *fakeBackend) ResetSession(id string) error {
	b.record("ResetSession")
	return nil
}

func (b *fakeBackend) ApprovePlan(sessionID string) error {
	b.record("ApprovePlan")
	if b.failApprove {
		return errors.New("approval rejected")
	}
	return nil
}

func (b *fakeBackend) RejectPlan(sessionID string) error {
	b.record("RejectPlan")
	return nil
}

func (b *fakeBackend) RegeneratePlan(sessionID string, req api.RegeneratePlanRequest) (*session.Plan, error) {
	b.record("RegeneratePlan")
	return &session.Plan{ID: "plan-2", PlanText: req.PlanText}, nil
}

func (b *fakeBackend) StartRun(sessionID string) error {
	b.record("StartRun")
	if b.failStart {
		return errors.New("run rejected")
	}
	return nil
}

func (b *fakeBackend) ExecuteStep(sessionID string, stepNumber int) (*api.ExecuteStepResult, error) {
	b.record(fmt.Sprintf("ExecuteStep(%d)", stepNumber))
	b.mu.Lock()
	remaining := b.failSteps[stepNumber]
	if remaining > 0 {
		b.failSteps[stepNumber] = remaining - 1
	}
	b.mu.Unlock()
	if remaining > 0 {
		return &api.ExecuteStepResult{
			Success: false,
			Error:   "element not found",
			Step: &session.Step{
				ID:         fmt.Sprintf("step-%d", stepNumber),
				StepNumber: stepNumber,
				Status:     session.StepStatusFailed,
				Error:      "element not found",
			},
		}, nil
	}
	return &api.ExecuteStepResult{
		Success: true,
		Step: &session.Step{
			ID:         fmt.Sprintf("step-%d", stepNumber),
			StepNumber: stepNumber,
			Status:     session.StepStatusPassed,
		},
	}, nil
}

func (b *fakeBackend) Stop(sessionID string) error {
	b.record("Stop")
	if b.failStop {
		return errors.New("stop rejected")
	}
	return nil
}

func (b *fakeBackend) StopAll(sessionID string) error {
	b.record("StopAll")
	return nil
}

func (b *fakeBackend) UndoToStep(sessionID string, stepNumber int) error {
	b.record(fmt.Sprintf("UndoToStep(%d)", stepNumber))
	if b.failUndo {
		return errors.New("undo rejected")
	}
	return nil
}

func (b *fakeBackend) ForkFromStep(sessionID string, fromStep int) error {
	b.record(fmt.Sprintf("ForkFromStep(%d)", fromStep))
	return nil
}

func (b *fakeBackend) DeleteStep(sessionID string, stepNumber int) error {
	b.record(fmt.Sprintf("DeleteStep(%d)", stepNumber))
	return nil
}

func (b *fakeBackend) InsertStep(sessionID string, req api.InsertStepRequest) (*session.Step, error) {
	b.record("InsertStep")
	return &session.Step{ID: "inserted", StepNumber: req.AfterStep + 1, Description: req.Description}, nil
}

func (b *fakeBackend) UpdateAction(sessionID string, req api.UpdateActionRequest) (*session.Action, error) {
	b.record("UpdateAction")
	a := req.Action
	return &a, nil
}

func (b *fakeBackend) StartBrowserSession(req api.BrowserSessionRequest) (*session.BrowserSessionRef, error) {
	b.record("StartBrowserSession")
	return &session.BrowserSessionRef{ID: "browser-1", LiveViewURL: "http://live"}, nil
}

func (b *fakeBackend) StopBrowserSession(id string) error {
	b.record("StopBrowserSession")
	return nil
}

func (b *fakeBackend) StartRecording(sessionID string, mode string) error {
	b.record("StartRecording")
	if b.failRecording {
		return errors.New("recording rejected")
	}
	return nil
}

func (b *fakeBackend) StopRecording(sessionID string) ([]session.Step, error) {
	b.record("StopRecording")
	return b.recordedSteps, nil
}

func planReadyStore(nSteps int) *session.Store {
	plan := &session.Plan{ID: "plan-1", PlanText: "test plan"}
	for i := 1; i <= nSteps; i++ {
		plan.Steps = append(plan.Steps, session.PlanStep{
			StepNumber:  i,
			Description: fmt.Sprintf("step %d", i),
			ActionType:  "click",
		})
	}
	return session.NewStore(session.Session{
		ID:     "sess-1",
		Status: session.StatusPlanReady,
		Plan:   plan,
	})
}

// TestApproveAndStart verifies the approve-then-run sequence
func TestApproveAndStart(t *testing.T) {
	store := planReadyStore(2)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	if err := e.ApproveAndStart(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.Status() != session.StatusQueued {
		t.Errorf("Expected queued, got %s", store.Status())
	}
	if store.ActiveTask() != session.TaskExecuting {
		t.Errorf("Expected executing task held, got %s", store.ActiveTask())
	}
}

// TestApprovalFailureLeavesPlanReady verifies a failed approval does
// not partially execute
func TestApprovalFailureLeavesPlanReady(t *testing.T) {
	store := planReadyStore(2)
	backend := newFakeBackend()
	backend.failApprove = true
	e := NewExecutor(store, backend)

	if err := e.ApproveAndStart(); err == nil {
		t.Fatal("Expected approval failure")
	}
	if store.Status() != session.StatusPlanReady {
		t.Errorf("Expected plan_ready preserved, got %s", store.Status())
	}
	if store.ActiveTask() != session.TaskNone {
		t.Errorf("Expected task slot released, got %s", store.ActiveTask())
	}
	for _, call := range backend.callList() {
		if call == "StartRun" {
			t.Error("Expected no run start after failed approval")
		}
	}
}

// TestRunCompletionReleasesTask verifies an observed terminal event
// frees the active flag
func TestRunCompletionReleasesTask(t *testing.T) {
	store := planReadyStore(1)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	if err := e.ApproveAndStart(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	store.ApplyEvent(session.Event{
		Type:      session.EventRunCompleted,
		SessionID: "sess-1",
		Run:       &session.RunResult{Success: true},
	})
	if store.ActiveTask() != session.TaskNone {
		t.Errorf("Expected task released on run completion, got %s", store.ActiveTask())
	}
}

// TestRunTillEndSkipFlow: 3 steps, step 2
// fails, skip advances to step 3 and the skip stays recorded.
func TestRunTillEndSkipFlow(t *testing.T) {
	store := planReadyStore(3)
	store.SetStatus(session.StatusApproved)
	backend := newFakeBackend()
	backend.failSteps[2] = 99 // keeps failing
	e := NewExecutor(store, backend)

	if err := e.RunTillEnd(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	paused, at := e.RunTillEndPaused()
	if !paused || at != 2 {
		t.Fatalf("Expected pause at step 2, got paused=%v at=%d", paused, at)
	}
	if store.ActiveTask() != session.TaskRunTillEnd {
		t.Errorf("Expected run-till-end slot still held while paused, got %s", store.ActiveTask())
	}

	if err := e.SkipFailedStep(2); err != nil {
		t.Fatalf("Unexpected skip error: %v", err)
	}

	if store.Status() != session.StatusCompleted {
		t.Errorf("Expected completed after skipping, got %s", store.Status())
	}
	skipped := store.SkippedSteps()
	if len(skipped) != 1 || skipped[0] != 2 {
		t.Errorf("Expected step 2 in skipped set, got %v", skipped)
	}

	// Step 3 must have executed after the skip
	sawStep3 := false
	for _, call := range backend.callList() {
		if call == "ExecuteStep(3)" {
			sawStep3 = true
		}
	}
	if !sawStep3 {
		t.Error("Expected step 3 to execute after skip")
	}
	if store.ActiveTask() != session.TaskNone {
		t.Errorf("Expected slot released after completion, got %s", store.ActiveTask())
	}
}

// TestRunTillEndContinueRetries verifies continue retries the failed
// step instead of advancing
func TestRunTillEndContinueRetries(t *testing.T) {
	store := planReadyStore(2)
	store.SetStatus(session.StatusApproved)
	backend := newFakeBackend()
	backend.failSteps[1] = 1 // fails once, then passes
	e := NewExecutor(store, backend)

	if err := e.RunTillEnd(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if paused, at := e.RunTillEndPaused(); !paused || at != 1 {
		t.Fatalf("Expected pause at step 1, got paused=%v at=%d", paused, at)
	}

	if err := e.ContinueRunTillEnd(); err != nil {
		t.Fatalf("Unexpected continue error: %v", err)
	}
	if store.Status() != session.StatusCompleted {
		t.Errorf("Expected completed after retry, got %s", store.Status())
	}

	attempts := 0
	for _, call := range backend.callList() {
		if call == "ExecuteStep(1)" {
			attempts++
		}
	}
	if attempts != 2 {
		t.Errorf("Expected step 1 executed twice, got %d", attempts)
	}
}

// TestSkipValidation verifies skip targets are checked
func TestSkipValidation(t *testing.T) {
	store := planReadyStore(3)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	if err := e.SkipFailedStep(1); err == nil {
		t.Error("Expected skip rejected while not paused")
	}
}

// TestUndoRequiresBackendAck verifies no speculative truncation
func TestUndoRequiresBackendAck(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	backend.failUndo = true
	e := NewExecutor(store, backend)

	for i := 1; i <= 4; i++ {
		store.ApplyEvent(session.Event{
			Type:      session.EventStepCompleted,
			SessionID: "sess-1",
			Step:      &session.Step{ID: fmt.Sprintf("s%d", i), StepNumber: i, Status: session.StepStatusPassed},
		})
	}

	if err := e.UndoToStep(2); err == nil {
		t.Fatal("Expected undo failure")
	}
	if n := len(store.Steps()); n != 4 {
		t.Errorf("Expected steps untouched after rejected undo, got %d", n)
	}

	backend.failUndo = false
	if err := e.UndoToStep(2); err != nil {
		t.Fatalf("Unexpected undo error: %v", err)
	}
	if n := len(store.Steps()); n != 2 {
		t.Errorf("Expected truncation to 2 after ack, got %d", n)
	}
}

// TestUndoValidatesRange verifies out-of-range targets never reach the
// backend
func TestUndoValidatesRange(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	store.ApplyEvent(session.Event{
		Type:      session.EventStepCompleted,
		SessionID: "sess-1",
		Step:      &session.Step{ID: "s1", StepNumber: 1, Status: session.StepStatusPassed},
	})

	if err := e.UndoToStep(1); err == nil {
		t.Error("Expected undo to max step rejected")
	}
	if err := e.UndoToStep(5); err == nil {
		t.Error("Expected undo beyond range rejected")
	}
	if len(backend.callList()) != 0 {
		t.Errorf("Expected no backend calls, got %v", backend.callList())
	}
}

// TestReplayFailureOffersForkChoice verifies a mid-replay failure
// produces a ReplayFailure and fork clears it
func TestReplayFailureOffersForkChoice(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	backend.failSteps[3] = 99
	e := NewExecutor(store, backend)

	for i := 1; i <= 4; i++ {
		store.ApplyEvent(session.Event{
			Type:      session.EventStepCompleted,
			SessionID: "sess-1",
			Step:      &session.Step{ID: fmt.Sprintf("s%d", i), StepNumber: i, Status: session.StepStatusPassed},
		})
	}
	store.SetStatus(session.StatusCompleted)

	if err := e.Replay(false); err != nil {
		t.Fatalf("Unexpected replay error: %v", err)
	}

	rf := store.ReplayFailure()
	if rf == nil {
		t.Fatal("Expected a replay failure")
	}
	if rf.FailedAtStep != 3 || rf.TotalSteps != 4 {
		t.Errorf("Expected failure at 3/4, got %d/%d", rf.FailedAtStep, rf.TotalSteps)
	}
	if store.ActiveTask() != session.TaskNone {
		t.Errorf("Expected replay slot released, got %s", store.ActiveTask())
	}

	if err := e.ForkFromStep(2); err != nil {
		t.Fatalf("Unexpected fork error: %v", err)
	}
	if store.ReplayFailure() != nil {
		t.Error("Expected replay failure cleared by fork")
	}
	if store.Status() != session.StatusRerunning {
		t.Errorf("Expected rerunning after fork, got %s", store.Status())
	}
}

// TestReplayPrepareOnly verifies prepare-only attaches a browser
// without executing steps
func TestReplayPrepareOnly(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	store.ApplyEvent(session.Event{
		Type:      session.EventStepCompleted,
		SessionID: "sess-1",
		Step:      &session.Step{ID: "s1", StepNumber: 1, Status: session.StepStatusPassed},
	})
	store.SetStatus(session.StatusStopped)

	if err := e.Replay(true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.Browser() == nil {
		t.Error("Expected browser attached")
	}
	for _, call := range backend.callList() {
		if call == "ExecuteStep(1)" {
			t.Error("Expected no step execution in prepare-only replay")
		}
	}
	if store.ActiveTask() != session.TaskNone {
		t.Errorf("Expected slot released after prepare, got %s", store.ActiveTask())
	}
}

// TestStopIsIdempotentWhileIdle verifies stop without an active task
// is a no-op
func TestStopIsIdempotentWhileIdle(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	if err := e.Stop(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(backend.callList()) != 0 {
		t.Error("Expected no backend stop while idle")
	}
}

// TestStopAllTearsDownBrowser verifies stop-all also ends the browser
// session and clears the reference
func TestStopAllTearsDownBrowser(t *testing.T) {
	store := planReadyStore(1)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	store.SetBrowser(&session.BrowserSessionRef{ID: "browser-1"})
	if err := e.ApproveAndStart(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := e.StopAll(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.Browser() != nil {
		t.Error("Expected browser reference cleared")
	}
	if store.Status() != session.StatusStopped {
		t.Errorf("Expected stopped, got %s", store.Status())
	}
	sawBrowserStop := false
	for _, call := range backend.callList() {
		if call == "StopBrowserSession" {
			sawBrowserStop = true
		}
	}
	if !sawBrowserStop {
		t.Error("Expected browser session stop request")
	}
}

// TestInsertStepMidTimeline verifies an insert splices into the
// timeline with renumbering instead of being dropped as a collision
func TestInsertStepMidTimeline(t *testing.T) {
	store := planReadyStore(0)
	backend := newFakeBackend()
	e := NewExecutor(store, backend)

	for i, id := range []string{"a", "b", "c"} {
		store.ApplyEvent(session.Event{
			Type:      session.EventStepCompleted,
			SessionID: "sess-1",
			Step:      &session.Step{ID: id, StepNumber: i + 1, Status: session.StepStatusPassed},
		})
	}

	step, err := e.InsertStep(1, "manual step")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if step == nil || step.Description != "manual step" {
		t.Fatalf("Expected the inserted step back, got %+v", step)
	}

	snap := store.Snapshot()
	if snap.Diverged {
		t.Error("Expected no divergence flag from a local insert")
	}
	if len(snap.Steps) != 4 {
		t.Fatalf("Expected 4 steps after insert, got %d", len(snap.Steps))
	}
	if snap.Steps[1].Description != "manual step" || snap.Steps[1].StepNumber != 2 {
		t.Errorf("Expected inserted step at position 2, got %+v", snap.Steps[1])
	}
	if snap.Steps[2].ID != "b" || snap.Steps[2].StepNumber != 3 {
		t.Errorf("Expected old step 2 renumbered to 3, got %+v", snap.Steps[2])
	}
	if snap.Steps[3].ID != "c" || snap.Steps[3].StepNumber != 4 {
		t.Errorf("Expected old step 3 renumbered to 4, got %+v", snap.Steps[3])
	}
}

// TestPauseGateReadWhileDriving reads the pause gate from another
// goroutine while run-till-end is driving, matching how the HTTP
// handlers use the executor
func TestPauseGateReadWhileDriving(t *testing.T) {
	store := planReadyStore(3)
	store.SetStatus(session.StatusApproved)
	backend := newFakeBackend()
	backend.failSteps[2] = 1 // fails once, then passes
	e := NewExecutor(store, backend)

	runDone := make(chan error, 1)
	go func() {
		runDone <- e.RunTillEnd()
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if paused, at := e.RunTillEndPaused(); paused && at == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the pause gate")
		}
		time.Sleep(time.Millisecond)
	}
	if err := <-runDone; err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}

	if err := e.ContinueRunTillEnd(); err != nil {
		t.Fatalf("Unexpected continue error: %v", err)
	}
	if store.Status() != session.StatusCompleted {
		t.Errorf("Expected completed after retry, got %s", store.Status())
	}
	if paused, _ := e.RunTillEndPaused(); paused {
		t.Error("Expected pause gate cleared after completion")
	}
}
