// Package api is a thin typed client for the test backend's REST
// surface. Plan generation and browser automation live behind these
// endpoints; the orchestrator only tracks their effects.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rohanthewiz/serr"

	"steprun/session"
)

// Client handles communication with the test backend
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a backend API client
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Token returns the auth token, used by the transport when dialing
// the event socket
func (c *Client) Token() string {
	return c.token
}

// do performs one JSON request/response round trip. out may be nil
// when the caller only cares about success.
func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return serr.Wrap(err, "failed to marshal request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return serr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return serr.Wrap(err, "backend request failed", "path", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return serr.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Backend errors come back as {"error": "..."}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return serr.New(apiErr.Error, "status", fmt.Sprintf("%d", resp.StatusCode), "path", path)
		}
		return serr.New("backend returned error", "status", fmt.Sprintf("%d", resp.StatusCode), "path", path)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return serr.Wrap(err, "failed to decode response", "path", path)
		}
	}
	return nil
}

// CreateSession creates a session from a natural-language prompt.
// The backend begins plan generation immediately.
func (c *Client) CreateSession(req CreateSessionRequest) (*session.Session, error) {
	var sess session.Session
	if err := c.do(http.MethodPost, "/api/sessions", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches the session record plus its steps
func (c *Client) GetSession(id string) (*SessionDetail, error) {
	var detail SessionDetail
	if err := c.do(http.MethodGet, "/api/sessions/"+id, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ResetSession asks the backend to drop all session state
func (c *Client) ResetSession(id string) error {
	return c.do(http.MethodPost, "/api/sessions/"+id+"/reset", nil, nil)
}

// SendMessage delivers one user instruction to the session
func (c *Client) SendMessage(sessionID string, req SendMessageRequest) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/messages", req, nil)
}

// ApprovePlan approves the generated plan so the run may start
func (c *Client) ApprovePlan(sessionID string) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/plan/approve", nil, nil)
}

// RejectPlan rejects the generated plan
func (c *Client) RejectPlan(sessionID string) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/plan/reject", nil, nil)
}

// RegeneratePlan replaces the plan wholesale from edited plan text
func (c *Client) RegeneratePlan(sessionID string, req RegeneratePlanRequest) (*session.Plan, error) {
	var plan session.Plan
	if err := c.do(http.MethodPost, "/api/sessions/"+sessionID+"/plan/regenerate", req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// StartRun begins executing the approved plan
func (c *Client) StartRun(sessionID string) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/run", nil, nil)
}

// ExecuteStep drives a single step and reports its outcome. Used by
// the run-till-end loop so failures pause rather than abort.
func (c *Client) ExecuteStep(sessionID string, stepNumber int) (*ExecuteStepResult, error) {
	var result ExecuteStepResult
	path := fmt.Sprintf("/api/sessions/%s/steps/%d/execute", sessionID, stepNumber)
	if err := c.do(http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop asks the backend to halt the current AI action, keeping the
// browser alive. This is a cooperative signal, not a guarantee.
func (c *Client) Stop(sessionID string) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/stop", nil, nil)
}

// StopAll halts the run and tears down the browser session too
func (c *Client) StopAll(sessionID string) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/stop-all", nil, nil)
}

// UndoToStep asks the backend to discard everything after the target
// step. Local truncation waits for this to succeed.
func (c *Client) UndoToStep(sessionID string, stepNumber int) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/undo", UndoRequest{StepNumber: stepNumber}, nil)
}

// ForkFromStep continues execution from a known-good step after a
// replay divergence; the backend handles the divergent tail.
func (c *Client) ForkFromStep(sessionID string, fromStep int) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/fork", ForkRequest{FromStep: fromStep}, nil)
}

// DeleteStep removes a step server-side
func (c *Client) DeleteStep(sessionID string, stepNumber int) error {
	path := fmt.Sprintf("/api/sessions/%s/steps/%d", sessionID, stepNumber)
	return c.do(http.MethodDelete, path, nil, nil)
}

// InsertStep inserts a new step after the given position
func (c *Client) InsertStep(sessionID string, req InsertStepRequest) (*session.Step, error) {
	var step session.Step
	if err := c.do(http.MethodPost, "/api/sessions/"+sessionID+"/steps", req, &step); err != nil {
		return nil, err
	}
	return &step, nil
}

// UpdateAction edits one action within a step
func (c *Client) UpdateAction(sessionID string, req UpdateActionRequest) (*session.Action, error) {
	var action session.Action
	if err := c.do(http.MethodPut, "/api/sessions/"+sessionID+"/actions", req, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// StartRecording switches the browser session to capture mode
func (c *Client) StartRecording(sessionID string, mode string) error {
	return c.do(http.MethodPost, "/api/sessions/"+sessionID+"/recording/start", StartRecordingRequest{Mode: mode}, nil)
}

// StopRecording finalizes a capture and returns the recorded steps
func (c *Client) StopRecording(sessionID string) ([]session.Step, error) {
	var steps []session.Step
	if err := c.do(http.MethodPost, "/api/sessions/"+sessionID+"/recording/stop", nil, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// StartBrowserSession attaches an automation browser to the session
func (c *Client) StartBrowserSession(req BrowserSessionRequest) (*session.BrowserSessionRef, error) {
	var ref session.BrowserSessionRef
	if err := c.do(http.MethodPost, "/api/browser-sessions", req, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// StopBrowserSession tears down an automation browser
func (c *Client) StopBrowserSession(id string) error {
	return c.do(http.MethodPost, "/api/browser-sessions/"+id+"/stop", nil, nil)
}

// ListBrowserSessions lists live automation browsers
func (c *Client) ListBrowserSessions() ([]session.BrowserSessionRef, error) {
	var refs []session.BrowserSessionRef
	if err := c.do(http.MethodGet, "/api/browser-sessions", nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// CreateScript persists a script artifact built from the session's
// step list
func (c *Client) CreateScript(req CreateScriptRequest) (*Script, error) {
	var script Script
	if err := c.do(http.MethodPost, "/api/scripts", req, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

// ListScripts lists persisted scripts, optionally scoped to a session
func (c *Client) ListScripts(sessionID string) ([]Script, error) {
	path := "/api/scripts"
	if sessionID != "" {
		path += "?session_id=" + sessionID
	}
	var scripts []Script
	if err := c.do(http.MethodGet, path, nil, &scripts); err != nil {
		return nil, err
	}
	return scripts, nil
}

// GetScript fetches one script by id
func (c *Client) GetScript(id string) (*Script, error) {
	var script Script
	if err := c.do(http.MethodGet, "/api/scripts/"+id, nil, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

// GetSettings fetches backend system settings
func (c *Client) GetSettings() (*Settings, error) {
	var settings Settings
	if err := c.do(http.MethodGet, "/api/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings updates backend system settings
func (c *Client) UpdateSettings(settings Settings) error {
	return c.do(http.MethodPut, "/api/settings", settings, nil)
}
