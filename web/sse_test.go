package web

import "testing"

// TestBroadcastEvictsDeadClients verifies a client whose channel stays
// full long enough gets dropped and closed, while responsive clients
// keep receiving
func TestBroadcastEvictsDeadClients(t *testing.T) {
	hub := newSSEHub()

	live := make(chan any, maxClientStrikes+2)
	dead := make(chan any, 1) // never drained
	hub.Register(live)
	hub.Register(dead)

	for i := 0; i < maxClientStrikes+1; i++ {
		hub.Broadcast(SSEEvent{Type: "session_updated", SessionId: "sess-1"})
	}

	if got := hub.clientCount(); got != 1 {
		t.Fatalf("Expected 1 client after eviction, got %d", got)
	}

	// The dead channel has one buffered event, then must be closed
	if _, ok := <-dead; !ok {
		t.Fatal("Expected the buffered event before close")
	}
	if _, ok := <-dead; ok {
		t.Error("Expected the dead client's channel to be closed")
	}

	// The live client saw every broadcast
	if got := len(live); got != maxClientStrikes+1 {
		t.Errorf("Expected %d events for the live client, got %d", maxClientStrikes+1, got)
	}

	hub.Unregister(live)
	if got := hub.clientCount(); got != 0 {
		t.Errorf("Expected no clients after unregister, got %d", got)
	}

	// Unregister after eviction must not double-close
	hub.Unregister(dead)
}
