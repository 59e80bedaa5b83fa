package web

import (
	"github.com/rohanthewiz/rweb"
)

// SetupRoutes configures all HTTP routes for the server
func SetupRoutes(s *rweb.Server, app *App) {
	// Root endpoint - serves the status UI
	s.Get("/", app.rootHandler)

	// App info
	s.Get("/api/app", appInfoHandler)

	// Session lifecycle
	s.Get("/api/session", app.listSessionsHandler)
	s.Post("/api/session", app.createSessionHandler)
	s.Post("/api/session/:id/attach", app.attachSessionHandler)
	s.Delete("/api/session/:id", app.deleteSessionHandler)
	s.Get("/api/session/current", app.sessionStateHandler)
	s.Post("/api/session/current/reset", app.resetSessionHandler)

	// Messaging and the command queue
	s.Post("/api/session/current/message", app.sendMessageHandler)
	s.Get("/api/session/current/queue", app.queueStateHandler)
	s.Post("/api/session/current/queue/discard", app.discardQueueHandler)
	s.Post("/api/session/current/queue/continue", app.continueQueueHandler)

	// Plan review
	s.Post("/api/session/current/plan/approve", app.approvePlanHandler)
	s.Post("/api/session/current/plan/reject", app.rejectPlanHandler)
	s.Post("/api/session/current/plan/regenerate", app.regeneratePlanHandler)

	// Execution control
	s.Post("/api/session/current/stop", app.stopExecutionHandler)
	s.Post("/api/session/current/stop-all", app.stopAllHandler)
	s.Post("/api/session/current/run-till-end", app.runTillEndHandler)
	s.Post("/api/session/current/skip-step", app.skipFailedStepHandler)
	s.Post("/api/session/current/continue-run", app.continueRunTillEndHandler)

	// Timeline editing
	s.Post("/api/session/current/undo", app.undoToStepHandler)
	s.Post("/api/session/current/undo/confirm", app.confirmUndoHandler)
	s.Post("/api/session/current/undo/cancel", app.cancelUndoHandler)
	s.Post("/api/session/current/step/delete", app.deleteStepHandler)
	s.Post("/api/session/current/step/insert", app.insertStepHandler)
	s.Post("/api/session/current/step/select", app.selectStepHandler)
	s.Post("/api/session/current/action", app.updateActionHandler)

	// Replay and recording
	s.Post("/api/session/current/replay", app.replaySessionHandler)
	s.Post("/api/session/current/fork", app.forkFromStepHandler)
	s.Post("/api/session/current/replay-failure/dismiss", app.dismissReplayFailureHandler)
	s.Post("/api/session/current/recording/start", app.startRecordingHandler)
	s.Post("/api/session/current/recording/stop", app.stopRecordingHandler)

	// Script artifacts
	s.Post("/api/session/current/script", app.generateScriptHandler)
	s.Get("/api/scripts", app.listScriptsHandler)
	s.Get("/api/scripts/:id", app.getScriptHandler)

	// Settings
	s.Get("/api/settings", app.getSettingsHandler)
	s.Post("/api/settings", app.updateSettingsHandler)

	// SSE endpoint for streaming events
	s.Get("/events",
		func(c rweb.Context) error {
			clientChan := make(chan any, 10)
			sseHub.Register(clientChan)

			// No unregister here; the conn is long-lived
			s.SetupSSE(c, clientChan, "")

			return nil
		},
	)
}

// appInfoHandler returns application information
func appInfoHandler(c rweb.Context) error {
	return c.WriteJSON(map[string]interface{}{
		"version": "0.1.0",
		"status":  "ok",
		"name":    "steprun",
	})
}
