package session

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle status of a test session
type Status string

const (
	StatusPendingPlan    Status = "pending_plan"
	StatusPlanReady      Status = "plan_ready"
	StatusApproved       Status = "approved"
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusRerunning      Status = "rerunning"
	StatusPaused         Status = "paused"
	StatusRecordingReady Status = "recording_ready"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusStopped        Status = "stopped"
)

// IsActive reports whether a live event stream should be held open
// for a session in this status.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusRerunning
}

// IsTerminal reports whether the session has reached an end state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// StepStatus represents the status of an executed or recorded step
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusPassed  StepStatus = "passed"
	StepStatusFailed  StepStatus = "failed"
	StepStatusHealed  StepStatus = "healed"
)

// ActionSource identifies who produced an action
type ActionSource string

const (
	ActionSourceAI   ActionSource = "ai"
	ActionSourceUser ActionSource = "user"
)

// Session is the canonical record for one test-authoring/execution unit
type Session struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	Prompt   string `json:"prompt"`
	Title    string `json:"title"`
	LLMModel string `json:"llm_model"`
	Headless bool   `json:"headless"`
	Plan     *Plan  `json:"plan,omitempty"`
}

// Plan is an ordered list of proposed steps, immutable once approved
// except through an explicit edit-and-regenerate flow.
type Plan struct {
	ID       string     `json:"id"`
	PlanText string     `json:"plan_text"`
	Steps    []PlanStep `json:"steps"`
}

// PlanStep is one proposed step; numbering is dense 1..N
type PlanStep struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	ActionType  string `json:"action_type"`
	Details     string `json:"details"`
}

// Step is one executed or recorded unit of browser interaction
type Step struct {
	ID             string     `json:"id"`
	StepNumber     int        `json:"step_number"`
	Description    string     `json:"description"`
	URL            string     `json:"url"`
	ScreenshotPath string     `json:"screenshot_path,omitempty"`
	Thinking       string     `json:"thinking,omitempty"`
	Status         StepStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	Actions        []Action   `json:"actions"`
}

// Action is one browser operation within a step
type Action struct {
	ID               string          `json:"id"`
	ActionName       string          `json:"action_name"`
	Params           json.RawMessage `json:"params,omitempty"`
	ResultSuccess    bool            `json:"result_success"`
	ResultError      string          `json:"result_error,omitempty"`
	Enabled          bool            `json:"enabled"`
	AutoGenerateText bool            `json:"auto_generate_text"`
	Source           ActionSource    `json:"source"`
}

// MessageMode selects how a queued user message is interpreted
type MessageMode string

const (
	MessageModePlan MessageMode = "plan"
	MessageModeAct  MessageMode = "act"
)

// QueueEntry is one buffered user instruction awaiting dispatch
type QueueEntry struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Mode       MessageMode `json:"mode"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// BrowserSessionRef is a weak reference to an attached automation
// backend. It is never owned by the orchestrator and may vanish
// independently.
type BrowserSessionRef struct {
	ID          string `json:"id"`
	LiveViewURL string `json:"live_view_url,omitempty"`
	NoVNCURL    string `json:"novnc_url,omitempty"`
}

// ReplayFailure captures where a replay diverged so the user can
// choose between fork and undo. Cleared on dismissal or fork.
type ReplayFailure struct {
	FailedAtStep int    `json:"failed_at_step"`
	TotalSteps   int    `json:"total_steps"`
	ErrorMessage string `json:"error_message"`
}

// ActiveTask is the single mutual-exclusion gate over everything that
// may drive the browser. At most one non-none value at a time.
type ActiveTask string

const (
	TaskNone       ActiveTask = "none"
	TaskExecuting  ActiveTask = "executing"
	TaskReplaying  ActiveTask = "replaying"
	TaskRecording  ActiveTask = "recording"
	TaskRunTillEnd ActiveTask = "run_till_end"
)
