package api

import (
	"time"

	"steprun/session"
)

// CreateSessionRequest starts a new test session from a prompt
type CreateSessionRequest struct {
	Prompt   string `json:"prompt"`
	LLMModel string `json:"llm_model,omitempty"`
	Headless bool   `json:"headless"`
}

// SessionDetail is the backend's full view of a session: the record
// plus its executed/recorded steps.
type SessionDetail struct {
	Session session.Session `json:"session"`
	Steps   []session.Step  `json:"steps"`
}

// SendMessageRequest carries one user instruction
type SendMessageRequest struct {
	Text string              `json:"text"`
	Mode session.MessageMode `json:"mode"`
}

// RegeneratePlanRequest replaces the plan wholesale from edited text
type RegeneratePlanRequest struct {
	PlanText string `json:"plan_text"`
}

// InsertStepRequest inserts a step after the given step number
type InsertStepRequest struct {
	AfterStep   int    `json:"after_step"`
	Description string `json:"description"`
	ActionType  string `json:"action_type,omitempty"`
}

// UpdateActionRequest edits one action within a step
type UpdateActionRequest struct {
	StepID string         `json:"step_id"`
	Action session.Action `json:"action"`
}

// UndoRequest targets a step for undo; everything after it is removed
// by the backend before the client truncates locally
type UndoRequest struct {
	StepNumber int `json:"step_number"`
}

// ForkRequest continues execution from a known-good step after a
// replay divergence
type ForkRequest struct {
	FromStep int `json:"from_step"`
}

// ExecuteStepResult is the backend's verdict for one driven step
type ExecuteStepResult struct {
	Step    *session.Step `json:"step,omitempty"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
}

// StartRecordingRequest begins capturing user browser interactions
type StartRecordingRequest struct {
	Mode string `json:"mode"`
}

// Script is a persisted, replayable artifact generated from a
// session's step list
type Script struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateScriptRequest asks the backend to persist a script for a
// session's current steps
type CreateScriptRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name,omitempty"`
}

// BrowserSessionRequest starts a browser for a session
type BrowserSessionRequest struct {
	SessionID string `json:"session_id"`
	Headless  bool   `json:"headless"`
}

// Settings holds backend system settings exposed to the UI
type Settings struct {
	DefaultLLMModel string `json:"default_llm_model"`
	DefaultHeadless bool   `json:"default_headless"`
	MaxSteps        int    `json:"max_steps,omitempty"`
}
