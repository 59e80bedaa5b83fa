package web

import (
	"encoding/json"
	"strconv"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"steprun/api"
)

// broadcastRunError surfaces a background run failure to the UI
func broadcastRunError(sessionID string, err error, context string) {
	logger.LogErr(err, context, "session_id", sessionID)
	BroadcastSessionUpdate(sessionID, "run_error", map[string]interface{}{
		"context": context,
		"error":   err.Error(),
	})
}

// stopExecutionHandler requests a cooperative stop of the current run
func (a *App) stopExecutionHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if err := executor.Stop(); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// stopAllHandler stops the run and tears down the browser session
func (a *App) stopAllHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if err := executor.StopAll(); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// runTillEndHandler drives remaining steps to completion in the
// background; progress and failures arrive over SSE
func (a *App) runTillEndHandler(c rweb.Context) error {
	store, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	go func() {
		if err := executor.RunTillEnd(); err != nil {
			broadcastRunError(store.SessionID(), err, "run till end")
		}
	}()
	return c.WriteJSON(map[string]bool{"started": true})
}

// skipFailedStepHandler skips the step run-till-end paused on and
// resumes from the next one
func (a *App) skipFailedStepHandler(c rweb.Context) error {
	store, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req struct {
		StepNumber int `json:"step_number"`
	}
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse skip request"), 400)
	}

	paused, at := executor.RunTillEndPaused()
	if !paused || at != req.StepNumber {
		return c.WriteError(serr.New("no paused run at that step",
			"step_number", strconv.Itoa(req.StepNumber)), 409)
	}

	go func() {
		if err := executor.SkipFailedStep(req.StepNumber); err != nil {
			broadcastRunError(store.SessionID(), err, "skip failed step")
		}
	}()
	return c.WriteJSON(map[string]bool{"started": true})
}

// continueRunTillEndHandler retries the failed step and keeps driving
func (a *App) continueRunTillEndHandler(c rweb.Context) error {
	store, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if paused, _ := executor.RunTillEndPaused(); !paused {
		return c.WriteError(serr.New("no paused run to continue"), 409)
	}
	go func() {
		if err := executor.ContinueRunTillEnd(); err != nil {
			broadcastRunError(store.SessionID(), err, "continue run till end")
		}
	}()
	return c.WriteJSON(map[string]bool{"started": true})
}

// undoToStepHandler records the undo target and asks the UI to
// confirm before anything destructive happens
func (a *App) undoToStepHandler(c rweb.Context) error {
	store, _, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req api.UndoRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse undo request"), 400)
	}
	if req.StepNumber < 1 || req.StepNumber >= store.MaxStepNumber() {
		return c.WriteError(serr.New("undo target out of range",
			"step_number", strconv.Itoa(req.StepNumber)), 400)
	}

	a.requestUndo(req.StepNumber)
	BroadcastUndoRequested(store.SessionID(), req.StepNumber)
	return c.WriteJSON(map[string]interface{}{
		"pending":     true,
		"step_number": req.StepNumber,
	})
}

// confirmUndoHandler performs the pending undo
func (a *App) confirmUndoHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	target := a.takeUndo()
	if target == 0 {
		return c.WriteError(serr.New("no undo pending"), 409)
	}
	if err := executor.UndoToStep(target); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// cancelUndoHandler abandons the pending undo
func (a *App) cancelUndoHandler(c rweb.Context) error {
	a.takeUndo()
	return c.WriteJSON(map[string]bool{"success": true})
}

// deleteStepHandler removes one step; later steps renumber
func (a *App) deleteStepHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req struct {
		StepNumber int `json:"step_number"`
	}
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse delete request"), 400)
	}

	if err := executor.DeleteStep(req.StepNumber); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// insertStepHandler inserts a manual step after the given one
func (a *App) insertStepHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req api.InsertStepRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse insert request"), 400)
	}
	if req.Description == "" {
		return c.WriteError(serr.New("step description is required"), 400)
	}

	step, err := executor.InsertStep(req.AfterStep, req.Description)
	if err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(step)
}

// updateActionHandler edits one action within a step, then refreshes
// the local timeline from the backend's authoritative copy
func (a *App) updateActionHandler(c rweb.Context) error {
	store, _, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req api.UpdateActionRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse action request"), 400)
	}

	action, err := a.backend.UpdateAction(store.SessionID(), req)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "action update failed"), 500)
	}

	detail, err := a.backend.GetSession(store.SessionID())
	if err == nil {
		store.ReplaceSteps(detail.Steps)
	}
	return c.WriteJSON(action)
}

// selectStepHandler highlights a step in the timeline
func (a *App) selectStepHandler(c rweb.Context) error {
	store, _, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req struct {
		StepNumber int `json:"step_number"`
	}
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse select request"), 400)
	}
	store.SelectStep(req.StepNumber)
	return c.WriteJSON(map[string]bool{"success": true})
}
