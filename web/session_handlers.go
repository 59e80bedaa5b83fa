package web

import (
	"encoding/json"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"steprun/api"
	"steprun/config"
	"steprun/session"
)

// createSessionHandler opens a new test session from a prompt
func (a *App) createSessionHandler(c rweb.Context) error {
	var req api.CreateSessionRequest
	body := c.Request().Body()
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.WriteError(serr.Wrap(err, "failed to parse create session request"), 400)
		}
	}
	if req.Prompt == "" {
		return c.WriteError(serr.New("prompt is required"), 400)
	}

	cfg := config.Get()
	if req.LLMModel == "" {
		req.LLMModel = cfg.DefaultLLMModel
	}

	sess, err := a.OpenSession(req)
	if err != nil {
		return c.WriteError(err, 500)
	}

	logger.F("Opened new session: %s", sess.ID)

	// Plan generation runs on the backend; completion lands in the
	// store and reaches the UI over SSE.
	go func() {
		_, executor, err := a.current()
		if err != nil {
			return
		}
		if err := executor.WaitForPlan(cfg.PlanTimeout); err != nil {
			logger.LogErr(err, "plan generation did not complete", "session_id", sess.ID)
		}
	}()

	return c.WriteJSON(sess)
}

// attachSessionHandler re-opens an existing backend session
func (a *App) attachSessionHandler(c rweb.Context) error {
	sessionID := c.Request().Param("id")
	snap, err := a.AttachSession(sessionID)
	if err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(snap)
}

// listSessionsHandler returns the locally cached session history
func (a *App) listSessionsHandler(c rweb.Context) error {
	if a.database == nil {
		return c.WriteJSON([]interface{}{})
	}
	records, err := a.database.ListSessions()
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to list sessions"), 500)
	}
	return c.WriteJSON(records)
}

// deleteSessionHandler removes a session from the local cache
func (a *App) deleteSessionHandler(c rweb.Context) error {
	sessionID := c.Request().Param("id")
	if a.database != nil {
		if err := a.database.DeleteSession(sessionID); err != nil {
			return c.WriteError(serr.Wrap(err, "failed to delete session"), 500)
		}
	}
	BroadcastSessionList()
	return c.WriteJSON(map[string]bool{"success": true})
}

// sessionStateHandler returns the full current snapshot
func (a *App) sessionStateHandler(c rweb.Context) error {
	store, _, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	return c.WriteJSON(store.Snapshot())
}

// sendMessageHandler enqueues one user instruction. The queue
// dispatches immediately when idle and buffers otherwise.
func (a *App) sendMessageHandler(c rweb.Context) error {
	q, store, err := a.currentQueue()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req api.SendMessageRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse message request"), 400)
	}
	if req.Mode == "" {
		req.Mode = session.MessageModeAct
	}

	if err := q.Enqueue(req.Text, req.Mode); err != nil {
		BroadcastQueueUpdate(store.SessionID(), q.Failure())
		return c.WriteError(err, 500)
	}
	BroadcastQueueUpdate(store.SessionID(), map[string]interface{}{
		"pending": q.Pending(),
	})
	return c.WriteJSON(map[string]bool{"success": true})
}

// queueStateHandler reports buffered messages and any pending failure
func (a *App) queueStateHandler(c rweb.Context) error {
	q, _, err := a.currentQueue()
	if err != nil {
		return c.WriteError(err, 404)
	}
	return c.WriteJSON(map[string]interface{}{
		"pending":  q.Pending(),
		"inflight": q.InFlight(),
		"failure":  q.Failure(),
	})
}

// discardQueueHandler drops the failed message and everything behind it
func (a *App) discardQueueHandler(c rweb.Context) error {
	q, store, err := a.currentQueue()
	if err != nil {
		return c.WriteError(err, 404)
	}
	q.Discard()
	BroadcastQueueUpdate(store.SessionID(), map[string]interface{}{"pending": q.Pending()})
	return c.WriteJSON(map[string]bool{"success": true})
}

// continueQueueHandler retries dispatch from the failed message onward
func (a *App) continueQueueHandler(c rweb.Context) error {
	q, store, err := a.currentQueue()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if err := q.Continue(); err != nil {
		BroadcastQueueUpdate(store.SessionID(), q.Failure())
		return c.WriteError(err, 500)
	}
	BroadcastQueueUpdate(store.SessionID(), map[string]interface{}{"pending": q.Pending()})
	return c.WriteJSON(map[string]bool{"success": true})
}

// approvePlanHandler approves the generated plan and starts the run
func (a *App) approvePlanHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if err := executor.ApproveAndStart(); err != nil {
		return c.WriteError(err, 409)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// rejectPlanHandler rejects the plan, returning to prompt entry
func (a *App) rejectPlanHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if err := executor.RejectPlan(); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// regeneratePlanHandler replaces the plan from user-edited text
func (a *App) regeneratePlanHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	var req api.RegeneratePlanRequest
	if err := json.Unmarshal(c.Request().Body(), &req); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse plan request"), 400)
	}
	if req.PlanText == "" {
		return c.WriteError(serr.New("plan text is required"), 400)
	}

	if err := executor.RegeneratePlan(req.PlanText); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}

// resetSessionHandler clears the session back to prompt entry
func (a *App) resetSessionHandler(c rweb.Context) error {
	_, executor, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}
	if err := executor.Reset(); err != nil {
		return c.WriteError(err, 500)
	}
	return c.WriteJSON(map[string]bool{"success": true})
}
