package web

import (
	"encoding/json"
	"sync"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

const sseStdMsgType = "message" // JS EventSource only picks up the "message" event type

// maxClientStrikes is how many consecutive full-buffer sends a client
// may accrue before it is presumed dead and evicted. The endpoint has
// no disconnect callback, so this is where dead connections get
// cleaned up; a live client that was merely slow reconnects via
// EventSource auto-retry.
const maxClientStrikes = 8

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type      string      `json:"type"`
	SessionId string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data"`
}

// SSEHub manages SSE connections
type SSEHub struct {
	mu      sync.Mutex
	clients map[chan any]int // consecutive full-send strikes per client
}

func newSSEHub() *SSEHub {
	return &SSEHub{clients: make(map[chan any]int)}
}

// Global SSE hub
var sseHub = newSSEHub()

// Register adds a new SSE client
func (h *SSEHub) Register(client chan any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = 0
}

// Unregister removes an SSE client
func (h *SSEHub) Unregister(client chan any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client)
}

// Broadcast sends an event to all connected clients, evicting any
// whose buffer has stayed full for maxClientStrikes sends in a row
func (h *SSEHub) Broadcast(event SSEEvent) {
	data := map[string]interface{}{
		"type":      event.Type,
		"sessionId": event.SessionId,
		"data":      event.Data,
	}

	bytPayload, err := json.Marshal(data)
	if err != nil {
		logger.LogErr(err, "On broadcast, failed to marshal SSE event")
		return
	}

	rEvent := rweb.SSEvent{
		Type: sseStdMsgType, // fixed bc that's what EventSource expects
		Data: string(bytPayload),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client, strikes := range h.clients {
		select {
		case client <- rEvent:
			h.clients[client] = 0
		default:
			// Client's channel is full, skip
			strikes++
			if strikes >= maxClientStrikes {
				logger.Log("warn", "SSE client unresponsive, evicting")
				delete(h.clients, client)
				close(client)
				continue
			}
			h.clients[client] = strikes
			logger.Log("warn", "SSE client channel full, skipping")
		}
	}
}

// clientCount reports the number of registered clients
func (h *SSEHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastSessionUpdate broadcasts a session state change to the UI
func BroadcastSessionUpdate(sessionID string, updateType string, data interface{}) {
	sseHub.Broadcast(SSEEvent{
		Type:      updateType,
		SessionId: sessionID,
		Data:      data,
	})
}

// BroadcastSessionList broadcasts when sessions are created/deleted
func BroadcastSessionList() {
	sseHub.Broadcast(SSEEvent{Type: "session_list_updated"})
}

// BroadcastQueueUpdate broadcasts the command queue's pending state,
// including dispatch failures awaiting a discard/continue decision
func BroadcastQueueUpdate(sessionID string, data interface{}) {
	sseHub.Broadcast(SSEEvent{
		Type:      "queue_updated",
		SessionId: sessionID,
		Data:      data,
	})
}

// BroadcastUndoRequested asks the UI to confirm a destructive undo
func BroadcastUndoRequested(sessionID string, stepNumber int) {
	sseHub.Broadcast(SSEEvent{
		Type:      "undo_requested",
		SessionId: sessionID,
		Data: map[string]interface{}{
			"stepNumber": stepNumber,
		},
	})
}
