// Package transport maintains the live event feed for one session. It
// prefers a websocket to the backend and falls back to interval
// polling when the socket is unavailable, normalizing both origins
// into the same session.Event values so the store never knows the
// difference.
package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"steprun/api"
	"steprun/session"
)

// SessionFetcher is the slice of the backend client the polling
// fallback needs.
type SessionFetcher interface {
	GetSession(id string) (*api.SessionDetail, error)
}

// Options configures the transport
type Options struct {
	// SocketURL is the session-scoped websocket endpoint, e.g.
	// ws://backend/api/sessions/{id}/events
	SocketURL string
	// Token is appended as a query parameter at dial time. The
	// transport never refreshes it; auth failures surface an error
	// event and stop the stream.
	Token            string
	PollInterval     time.Duration
	HandshakeTimeout time.Duration
	// ReconnectBackoff is the initial wait before redialing; it
	// doubles up to ReconnectMax.
	ReconnectBackoff time.Duration
	ReconnectMax     time.Duration
}

// DefaultOptions returns the standard transport tuning
func DefaultOptions(socketURL, token string) Options {
	return Options{
		SocketURL:        socketURL,
		Token:            token,
		PollInterval:     2 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReconnectBackoff: time.Second,
		ReconnectMax:     30 * time.Second,
	}
}

// wireMessage is the socket's JSON envelope
type wireMessage struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	LiveViewURL string          `json:"live_view_url,omitempty"`
	NoVNCURL    string          `json:"novnc_url,omitempty"`
	Step        *session.Step   `json:"step,omitempty"`
	Run         json.RawMessage `json:"run,omitempty"`
	Session     json.RawMessage `json:"session,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Transport owns the socket connection and the polling fallback for
// one session
type Transport struct {
	opts    Options
	store   *session.Store
	fetcher SessionFetcher
	sink    func(session.Event)

	mu       sync.Mutex
	conn     *websocket.Conn
	stopCh   chan struct{}
	wakeCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a transport feeding the given store. Events flow
// through store.ApplyEvent; tests may override the sink.
func New(store *session.Store, fetcher SessionFetcher, opts Options) *Transport {
	t := &Transport{
		opts:    opts,
		store:   store,
		fetcher: fetcher,
		stopCh:  make(chan struct{}),
		wakeCh:  make(chan struct{}, 1),
	}
	t.sink = store.ApplyEvent
	return t
}

// SetSink overrides the event sink; call before Start
func (t *Transport) SetSink(sink func(session.Event)) {
	t.sink = sink
}

// Start launches the stream loop. The socket is held open only while
// the session status is in the active set; the store subscription
// wakes the loop when that changes.
func (t *Transport) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.store.Subscribe(func(change string, snap session.Snapshot) {
		if change == "status" || change == "session" || change == "reset" {
			t.wake()
		}
	})
	go t.run()
}

// Stop closes the socket and halts polling
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.mu.Unlock()
}

func (t *Transport) wake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

// run is the main loop: idle while the session is inactive, stream
// while it is, poll between redial attempts.
func (t *Transport) run() {
	backoff := t.opts.ReconnectBackoff
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if !t.store.Status().IsActive() {
			select {
			case <-t.stopCh:
				return
			case <-t.wakeCh:
			}
			continue
		}

		err := t.streamOnce()
		if err == nil {
			// Clean close; reset backoff and re-evaluate status
			backoff = t.opts.ReconnectBackoff
			continue
		}

		if isAuthError(err) {
			logger.LogErr(err, "socket auth failure, stopping stream")
			t.sink(session.Event{
				Type:      session.EventError,
				SessionID: t.store.SessionID(),
				Message:   "event stream authentication failed",
			})
			return
		}

		if !t.store.Status().IsActive() {
			continue
		}
		logger.Warn("Socket lost while session active, polling until reconnect",
			"error", err.Error(), "backoff", backoff.String())

		// Poll for the length of the backoff window so no events are
		// missed while the socket is down.
		t.pollFor(backoff)
		backoff *= 2
		if backoff > t.opts.ReconnectMax {
			backoff = t.opts.ReconnectMax
		}
	}
}

// streamOnce dials the socket and pumps messages until the connection
// closes. A nil return means a clean close or deliberate shutdown.
func (t *Transport) streamOnce() error {
	dialURL, err := t.socketURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.HandshakeTimeout}
	conn, resp, err := dialer.Dial(dialURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return serr.Wrap(err, "socket dial rejected", "status", resp.Status)
		}
		return serr.Wrap(err, "socket dial failed")
	}
	defer conn.Close()

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
	}()

	logger.Info("Event socket connected", "session", t.store.SessionID())

	for {
		select {
		case <-t.stopCh:
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-t.stopCh:
				return nil
			default:
			}
			return serr.Wrap(err, "socket read failed")
		}

		ev, ok := t.normalize(data)
		if !ok {
			continue
		}
		t.sink(ev)

		// Cost control: drop the socket once the session leaves the
		// active set.
		if !t.store.Status().IsActive() {
			return nil
		}
	}
}

// socketURL appends the auth token as a connection parameter
func (t *Transport) socketURL() (string, error) {
	u, err := url.Parse(t.opts.SocketURL)
	if err != nil {
		return "", serr.Wrap(err, "invalid socket URL")
	}
	q := u.Query()
	q.Set("token", t.opts.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// normalize converts one wire message into a session.Event
func (t *Transport) normalize(data []byte) (session.Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.LogErr(err, "failed to decode socket message")
		return session.Event{}, false
	}

	switch msg.Type {
	case "browser_session_started":
		return session.Event{
			Type:      session.EventBrowserSessionStarted,
			SessionID: msg.SessionID,
			Browser: &session.BrowserSessionRef{
				ID:          msg.SessionID,
				LiveViewURL: msg.LiveViewURL,
				NoVNCURL:    msg.NoVNCURL,
			},
		}, true

	case "run_step_completed":
		if msg.Step == nil {
			return session.Event{}, false
		}
		return session.Event{
			Type:      session.EventStepCompleted,
			SessionID: msg.SessionID,
			Step:      msg.Step,
		}, true

	case "run_completed":
		var result session.RunResult
		if len(msg.Run) > 0 {
			if err := json.Unmarshal(msg.Run, &result); err != nil {
				logger.LogErr(err, "failed to decode run result")
			}
		} else if len(msg.Session) > 0 {
			var sess session.Session
			if err := json.Unmarshal(msg.Session, &sess); err == nil {
				result.Status = sess.Status
				result.Success = sess.Status == session.StatusCompleted
			}
		}
		return session.Event{
			Type:      session.EventRunCompleted,
			SessionID: msg.SessionID,
			Run:       &result,
		}, true

	case "error":
		return session.Event{
			Type:      session.EventError,
			SessionID: msg.SessionID,
			Message:   msg.Message,
		}, true

	default:
		logger.Debug("Ignoring unknown socket message", "type", msg.Type)
		return session.Event{}, false
	}
}

// pollFor runs the polling fallback for the given window, then
// returns so the caller can redial. The window timer keeps the redial
// cadence on the backoff schedule even when it is shorter than one
// poll interval.
func (t *Transport) pollFor(window time.Duration) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	// Poll immediately so a dropped socket costs at most one interval
	t.pollOnce()

	for {
		select {
		case <-t.stopCh:
			return
		case <-timer.C:
			return
		case <-ticker.C:
			if !t.store.Status().IsActive() {
				return
			}
			t.pollOnce()
		}
	}
}

// pollOnce fetches the session snapshot and replays it as events. The
// store's upsert rule makes redelivery idempotent, so a fetch and a
// late socket message can describe the same step safely.
func (t *Transport) pollOnce() {
	detail, err := t.fetcher.GetSession(t.store.SessionID())
	if err != nil {
		logger.LogErr(err, "polling fallback fetch failed")
		return
	}

	for i := range detail.Steps {
		t.sink(session.Event{
			Type:      session.EventStepCompleted,
			SessionID: detail.Session.ID,
			Step:      &detail.Steps[i],
		})
	}

	if detail.Session.Status.IsTerminal() {
		t.sink(session.Event{
			Type:      session.EventRunCompleted,
			SessionID: detail.Session.ID,
			Run: &session.RunResult{
				Success: detail.Session.Status == session.StatusCompleted,
				Status:  detail.Session.Status,
			},
		})
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "socket dial rejected")
}
