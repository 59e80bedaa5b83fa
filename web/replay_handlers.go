package web

import (
	"encoding/json"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"steprun/api"
)

// replaySessionHandler replays the session's steps against a fresh
// browser session. With prepare_only set, the browser is started and
// handed to the user without executing anything.
func (a *App) replaySessionHandler(c rweb.Context) error {
	store, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req struct {
		PrepareOnly bool `json:"prepare_only"`
	}
	body := c.Request().Body()
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.WriteError(serr.Wrap(err, "failed to parse replay request"), 400)
		}
	}

	go func() {
		if err := executor.Replay(req.PrepareOnly); err != nil {
			broadcastRunError(store.SessionID(), err, "replay")
		}
	}()
	return c.WriteJSON(map[string]bool{"started": true})
}

// forkFromStepHandler continues a diverged replay from a known-good
// step, clearing the recorded failure
func (a *App) forkFromStepHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req api.ForkRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse fork request"), 400)
	}

	if err := executor.ForkFromStep(req.FromStep); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// dismissReplayFailureHandler clears the recorded replay divergence
func (a *App) dismissReplayFailureHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	executor.DismissReplayFailure()
	return c.WriteJSON(map[string]bool{"success": true})
}

// startRecordingHandler begins capturing user browser interactions
func (a *App) startRecordingHandler(c rweb.Context) error {
	recorder, _, err := a.currentRecorder()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req api.StartRecordingRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse recording request"), 400)
	}

	if err := recorder.Start(req.Mode); err != nil {
		return c.WriteError(err, 409)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// stopRecordingHandler finalizes the recording, appending captured
// steps to the timeline
func (a *App) stopRecordingHandler(c rweb.Context) error {
	recorder, _, err := a.currentRecorder()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if err := recorder.Stop(); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}
