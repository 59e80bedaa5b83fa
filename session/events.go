package session

// EventType discriminates normalized session events. TransportLayer
// produces these from either the socket or the polling fallback; the
// store consumes them without caring which.
type EventType string

const (
	EventBrowserSessionStarted EventType = "browser_session_started"
	EventStepCompleted         EventType = "run_step_completed"
	EventRunCompleted          EventType = "run_completed"
	EventError                 EventType = "error"
)

// RunResult carries the terminal outcome of a run
type RunResult struct {
	Success bool   `json:"success"`
	Status  Status `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Event is one normalized session event. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type      EventType          `json:"type"`
	SessionID string             `json:"session_id"`
	Browser   *BrowserSessionRef `json:"browser,omitempty"`
	Step      *Step              `json:"step,omitempty"`
	Run       *RunResult         `json:"run,omitempty"`
	Message   string             `json:"message,omitempty"`
}
