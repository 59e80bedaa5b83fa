// Package control drives the run lifecycle for one session: approval,
// execution, pause/stop, run-till-end with skip gates, undo, fork and
// replay, plus the mutually exclusive recording mode. All browser
// impact goes through the backend; the controllers only decide what to
// ask for and when, holding the store's active-task slot while they do.
package control

import (
	"strconv"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"steprun/api"
	"steprun/session"
)

// Backend is the slice of the REST client the controllers depend on
type Backend interface {
	GetSession(id string) (*api.SessionDetail, error)
	ResetSession(id string) error
	ApprovePlan(sessionID string) error
	RejectPlan(sessionID string) error
	RegeneratePlan(sessionID string, req api.RegeneratePlanRequest) (*session.Plan, error)
	StartRun(sessionID string) error
	ExecuteStep(sessionID string, stepNumber int) (*api.ExecuteStepResult, error)
	Stop(sessionID string) error
	StopAll(sessionID string) error
	UndoToStep(sessionID string, stepNumber int) error
	ForkFromStep(sessionID string, fromStep int) error
	DeleteStep(sessionID string, stepNumber int) error
	InsertStep(sessionID string, req api.InsertStepRequest) (*session.Step, error)
	UpdateAction(sessionID string, req api.UpdateActionRequest) (*session.Action, error)
	StartBrowserSession(req api.BrowserSessionRequest) (*session.BrowserSessionRef, error)
	StopBrowserSession(id string) error
	StartRecording(sessionID string, mode string) error
	StopRecording(sessionID string) ([]session.Step, error)
}

// Executor is the execution controller for one session
type Executor struct {
	store   *session.Store
	backend Backend

	// mu guards the run state below. Drives run on background
	// goroutines while handlers and store subscribers read the pause
	// gate, so every access goes through the lock. Never held across a
	// store call: store notifications re-enter this struct.
	mu sync.Mutex

	// Run-till-end pause state; the store's active-task slot stays
	// held while paused on a failed step.
	runTillEndPaused     bool
	currentExecutingStep int
	totalSteps           int

	// stopRequested dedupes cooperative stop signals until the
	// backend acknowledges or the run terminates.
	stopRequested bool
}

// NewExecutor creates an execution controller bound to a store
func NewExecutor(store *session.Store, backend Backend) *Executor {
	e := &Executor{store: store, backend: backend}

	// The executing flag is released by observed terminal events, not
	// by our own requests: until the backend says the run is over, a
	// competing task must stay blocked.
	store.Subscribe(func(change string, snap session.Snapshot) {
		if change != "status" {
			return
		}
		if snap.Session.Status.IsTerminal() || snap.Session.Status == session.StatusPaused {
			e.mu.Lock()
			e.stopRequested = false
			paused := e.runTillEndPaused
			e.mu.Unlock()
			if !paused {
				store.EndTask(session.TaskExecuting)
			}
		}
	})
	return e
}

// WaitForPlan blocks until plan generation finishes or the bound
// expires. On expiry the failure is surfaced; retry is user-initiated.
func (e *Executor) WaitForPlan(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		detail, err := e.backend.GetSession(e.store.SessionID())
		if err != nil {
			return serr.Wrap(err, "failed to fetch session while awaiting plan")
		}
		if detail.Session.Plan != nil {
			e.store.SetSession(detail.Session)
			return nil
		}
		if detail.Session.Status == session.StatusFailed {
			e.store.SetStatus(session.StatusFailed)
			return serr.New("plan generation failed")
		}
		time.Sleep(time.Second)
	}
	return serr.New("plan generation timed out")
}

// ApproveAndStart approves the plan and starts the run. A failed
// approval leaves the session at plan_ready with no partial execution.
func (e *Executor) ApproveAndStart() error {
	if e.store.Status() != session.StatusPlanReady {
		return serr.New("no plan awaiting approval", "status", string(e.store.Status()))
	}
	if err := e.store.BeginTask(session.TaskExecuting); err != nil {
		return err
	}

	id := e.store.SessionID()
	if err := e.backend.ApprovePlan(id); err != nil {
		e.store.EndTask(session.TaskExecuting)
		return serr.Wrap(err, "plan approval failed")
	}
	e.store.SetStatus(session.StatusApproved)

	if err := e.backend.StartRun(id); err != nil {
		e.store.EndTask(session.TaskExecuting)
		e.store.SetStatus(session.StatusFailed)
		return serr.Wrap(err, "failed to start run")
	}
	e.store.SetStatus(session.StatusQueued)
	logger.Info("Run started", "session", id)
	return nil
}

// RejectPlan rejects the generated plan
func (e *Executor) RejectPlan() error {
	if e.store.Status() != session.StatusPlanReady {
		return serr.New("no plan awaiting approval")
	}
	if err := e.backend.RejectPlan(e.store.SessionID()); err != nil {
		return serr.Wrap(err, "plan rejection failed")
	}
	e.store.SetStatus(session.StatusPendingPlan)
	return nil
}

// RegeneratePlan replaces the plan wholesale from edited plan text
func (e *Executor) RegeneratePlan(planText string) error {
	if planText == "" {
		return serr.New("plan text is required")
	}
	plan, err := e.backend.RegeneratePlan(e.store.SessionID(), api.RegeneratePlanRequest{PlanText: planText})
	if err != nil {
		return serr.Wrap(err, "plan regeneration failed")
	}
	e.store.SetPlan(plan)
	e.store.SetStatus(session.StatusPlanReady)
	return nil
}

// Stop cooperatively pauses the current AI action, keeping the browser
// alive. The active flag stays held until the backend acknowledges; a
// second stop while one is pending is a no-op.
func (e *Executor) Stop() error {
	if e.store.ActiveTask() == session.TaskNone {
		return nil
	}
	e.mu.Lock()
	if e.stopRequested {
		e.mu.Unlock()
		return nil
	}
	e.stopRequested = true
	e.mu.Unlock()

	if err := e.backend.Stop(e.store.SessionID()); err != nil {
		e.mu.Lock()
		e.stopRequested = false
		e.mu.Unlock()
		return serr.Wrap(err, "stop request failed")
	}
	// Acknowledged: the browser stays up, the run is paused
	e.store.SetStatus(session.StatusPaused)
	return nil
}

// StopAll halts the run and tears down the browser session too
func (e *Executor) StopAll() error {
	id := e.store.SessionID()
	if err := e.backend.StopAll(id); err != nil {
		return serr.Wrap(err, "stop-all request failed")
	}
	if ref := e.store.Browser(); ref != nil {
		if err := e.backend.StopBrowserSession(ref.ID); err != nil {
			logger.LogErr(err, "failed to stop browser session", "browser", ref.ID)
		}
	}
	e.mu.Lock()
	e.runTillEndPaused = false
	e.currentExecutingStep = 0
	e.mu.Unlock()
	e.store.SetBrowser(nil)
	e.store.SetStatus(session.StatusStopped)
	e.store.EndTask(session.TaskRunTillEnd)
	e.store.EndTask(session.TaskExecuting)
	return nil
}

// RunTillEnd drives all remaining steps sequentially, pausing on a
// step failure for a skip/continue decision instead of aborting. It
// blocks until the run finishes or pauses; callers run it off the
// request goroutine.
func (e *Executor) RunTillEnd() error {
	snap := e.store.Snapshot()
	if snap.Session.Plan == nil || len(snap.Session.Plan.Steps) == 0 {
		return serr.New("no plan to run")
	}
	if err := e.store.BeginTask(session.TaskRunTillEnd); err != nil {
		return err
	}

	e.mu.Lock()
	e.totalSteps = len(snap.Session.Plan.Steps)
	e.runTillEndPaused = false
	e.mu.Unlock()
	e.store.SetStatus(session.StatusRunning)

	start := e.store.MaxStepNumber() + 1
	return e.driveSteps(start)
}

// driveSteps executes steps from the given number until done or a
// failure pauses the loop. The run-till-end task slot stays held
// across a pause so nothing else can grab the browser mid-decision.
func (e *Executor) driveSteps(from int) error {
	id := e.store.SessionID()
	e.mu.Lock()
	total := e.totalSteps
	e.mu.Unlock()

	for n := from; n <= total; n++ {
		e.mu.Lock()
		e.currentExecutingStep = n
		e.mu.Unlock()

		result, err := e.backend.ExecuteStep(id, n)
		if err != nil {
			e.pauseRunTillEnd(n)
			return serr.Wrap(err, "step execution failed", "step", strconv.Itoa(n))
		}
		if result.Step != nil {
			e.store.ApplyEvent(session.Event{
				Type:      session.EventStepCompleted,
				SessionID: id,
				Step:      result.Step,
			})
		}
		if !result.Success {
			e.pauseRunTillEnd(n)
			logger.Warn("Step failed, run-till-end paused", "step", n, "error", result.Error)
			return nil
		}
	}

	e.mu.Lock()
	e.runTillEndPaused = false
	e.currentExecutingStep = 0
	e.mu.Unlock()
	e.store.SetStatus(session.StatusCompleted)
	e.store.EndTask(session.TaskRunTillEnd)
	return nil
}

// pauseRunTillEnd flips the pause gate before the status change so the
// status subscriber sees it and keeps the task slot held
func (e *Executor) pauseRunTillEnd(step int) {
	e.mu.Lock()
	e.runTillEndPaused = true
	e.currentExecutingStep = step
	e.mu.Unlock()
	e.store.SetStatus(session.StatusPaused)
}

// RunTillEndPaused reports whether the loop is paused on a failure,
// and on which step
func (e *Executor) RunTillEndPaused() (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runTillEndPaused, e.currentExecutingStep
}

// SkipFailedStep marks the failed step as skipped and advances. The
// step stays visible in the timeline as failed-but-skipped.
func (e *Executor) SkipFailedStep(stepNumber int) error {
	e.mu.Lock()
	if !e.runTillEndPaused {
		e.mu.Unlock()
		return serr.New("run-till-end is not paused")
	}
	if stepNumber != e.currentExecutingStep {
		e.mu.Unlock()
		return serr.New("skip target is not the failed step", "step", strconv.Itoa(stepNumber))
	}
	e.runTillEndPaused = false
	e.mu.Unlock()

	e.store.MarkSkipped(stepNumber)
	e.store.SetStatus(session.StatusRunning)
	return e.driveSteps(stepNumber + 1)
}

// ContinueRunTillEnd retries the failed step and keeps going
func (e *Executor) ContinueRunTillEnd() error {
	e.mu.Lock()
	if !e.runTillEndPaused {
		e.mu.Unlock()
		return serr.New("run-till-end is not paused")
	}
	retry := e.currentExecutingStep
	e.runTillEndPaused = false
	e.mu.Unlock()

	e.store.SetStatus(session.StatusRunning)
	return e.driveSteps(retry)
}

// UndoToStep removes every step after the target. The backend must
// acknowledge before local truncation commits; on failure the local
// timeline is untouched.
func (e *Executor) UndoToStep(stepNumber int) error {
	maxStep := e.store.MaxStepNumber()
	if stepNumber < 1 || stepNumber >= maxStep {
		return serr.New("undo target out of range", "target", strconv.Itoa(stepNumber), "max", strconv.Itoa(maxStep))
	}
	if err := e.backend.UndoToStep(e.store.SessionID(), stepNumber); err != nil {
		return serr.Wrap(err, "undo rejected by backend")
	}
	e.store.TruncateSteps(stepNumber)
	logger.Info("Undid to step", "step", stepNumber)
	return nil
}

// ForkFromStep continues execution from a known-good step after a
// replay failure. Unlike undo it does not delete the failed attempt;
// the backend handles divergence.
func (e *Executor) ForkFromStep(fromStep int) error {
	if fromStep < 1 || fromStep > e.store.MaxStepNumber() {
		return serr.New("fork target out of range", "target", strconv.Itoa(fromStep))
	}
	if err := e.store.BeginTask(session.TaskExecuting); err != nil {
		return err
	}
	if err := e.backend.ForkFromStep(e.store.SessionID(), fromStep); err != nil {
		e.store.EndTask(session.TaskExecuting)
		return serr.Wrap(err, "fork rejected by backend")
	}
	e.store.SetReplayFailure(nil)
	e.store.SetStatus(session.StatusRerunning)
	return nil
}

// DeleteStep removes a single step, backend first
func (e *Executor) DeleteStep(stepNumber int) error {
	if err := e.backend.DeleteStep(e.store.SessionID(), stepNumber); err != nil {
		return serr.Wrap(err, "delete rejected by backend")
	}
	return e.store.DeleteStep(stepNumber)
}

// InsertStep inserts a new step after the given position
func (e *Executor) InsertStep(afterStep int, description string) (*session.Step, error) {
	if description == "" {
		return nil, serr.New("step description is required")
	}
	step, err := e.backend.InsertStep(e.store.SessionID(), api.InsertStepRequest{
		AfterStep:   afterStep,
		Description: description,
	})
	if err != nil {
		return nil, serr.Wrap(err, "insert rejected by backend")
	}
	if err := e.store.InsertStep(afterStep, *step); err != nil {
		return nil, err
	}
	return step, nil
}

// Replay re-attaches a browser for a session with existing steps and,
// unless prepareOnly is set, replays them. A mid-way error produces a
// ReplayFailure carrying enough information for a fork/undo choice.
func (e *Executor) Replay(prepareOnly bool) error {
	steps := e.store.Steps()
	if len(steps) == 0 {
		return serr.New("nothing to replay")
	}
	if !e.store.Status().IsTerminal() && e.store.Status() != session.StatusPaused {
		return serr.New("session is not in a replayable state", "status", string(e.store.Status()))
	}
	if err := e.store.BeginTask(session.TaskReplaying); err != nil {
		return err
	}

	id := e.store.SessionID()
	snap := e.store.Snapshot()
	ref, err := e.backend.StartBrowserSession(api.BrowserSessionRequest{
		SessionID: id,
		Headless:  snap.Session.Headless,
	})
	if err != nil {
		e.store.EndTask(session.TaskReplaying)
		return serr.Wrap(err, "failed to attach browser for replay")
	}
	e.store.SetBrowser(ref)

	if prepareOnly {
		// Browser is primed; a later run-till-end takes over
		e.store.EndTask(session.TaskReplaying)
		e.store.SetStatus(session.StatusPaused)
		return nil
	}

	e.store.SetStatus(session.StatusRerunning)
	total := len(steps)
	for _, step := range steps {
		result, err := e.backend.ExecuteStep(id, step.StepNumber)
		if err != nil || !result.Success {
			msg := "replay diverged"
			if err != nil {
				msg = err.Error()
			} else if result.Error != "" {
				msg = result.Error
			}
			e.store.SetReplayFailure(&session.ReplayFailure{
				FailedAtStep: step.StepNumber,
				TotalSteps:   total,
				ErrorMessage: msg,
			})
			e.store.EndTask(session.TaskReplaying)
			e.store.SetStatus(session.StatusPaused)
			logger.Warn("Replay failed", "step", step.StepNumber, "total", total, "error", msg)
			return nil
		}
	}

	e.store.EndTask(session.TaskReplaying)
	e.store.SetStatus(session.StatusCompleted)
	return nil
}

// DismissReplayFailure clears the pending replay failure
func (e *Executor) DismissReplayFailure() {
	e.store.SetReplayFailure(nil)
}

// Reset requests a backend session reset and clears all local state,
// including the browser reference
func (e *Executor) Reset() error {
	if err := e.backend.ResetSession(e.store.SessionID()); err != nil {
		return serr.Wrap(err, "backend reset failed")
	}
	e.mu.Lock()
	e.runTillEndPaused = false
	e.currentExecutingStep = 0
	e.stopRequested = false
	e.mu.Unlock()
	e.store.Reset()
	return nil
}
