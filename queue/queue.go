// Package queue serializes user-issued instructions against a single
// in-flight backend task. At most one dispatch runs at a time; anything
// submitted meanwhile is buffered in arrival order. A failed dispatch
// halts automatic draining until the caller explicitly resolves it.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"steprun/session"
)

// DispatchFunc sends one instruction to the backend. It blocks until
// the backend accepts or rejects the instruction.
type DispatchFunc func(entry session.QueueEntry) error

// Failure captures a failed dispatch together with everything still
// buffered behind it. Resolution is explicit: Discard or Continue.
type Failure struct {
	Err     error                `json:"-"`
	Message string               `json:"message"`
	Pending []session.QueueEntry `json:"pending_messages"`
}

// CommandQueue serializes send-message commands
type CommandQueue struct {
	mu       sync.Mutex
	dispatch DispatchFunc
	pending  []session.QueueEntry
	inflight bool
	failure  *Failure
}

// New creates a command queue around a dispatch function
func New(dispatch DispatchFunc) *CommandQueue {
	return &CommandQueue{dispatch: dispatch}
}

// Enqueue submits an instruction. If nothing is in flight and no
// failure is pending, it dispatches immediately (blocking); otherwise
// the entry is buffered and dispatched later in FIFO order.
func (q *CommandQueue) Enqueue(text string, mode session.MessageMode) error {
	if text == "" {
		return serr.New("message text is required")
	}
	entry := session.QueueEntry{
		ID:         uuid.New().String(),
		Text:       text,
		Mode:       mode,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.inflight || q.failure != nil {
		q.pending = append(q.pending, entry)
		n := len(q.pending)
		q.mu.Unlock()
		logger.Info("Buffered message behind in-flight task", "queued", n)
		return nil
	}
	q.inflight = true
	q.mu.Unlock()

	return q.dispatchAndDrain(entry)
}

// dispatchAndDrain sends entry, then keeps draining buffered entries
// in order until the buffer is empty or a dispatch fails.
func (q *CommandQueue) dispatchAndDrain(entry session.QueueEntry) error {
	for {
		err := q.dispatch(entry)

		q.mu.Lock()
		if err != nil {
			// The failed entry goes back to the head so Continue
			// retries it before anything buffered behind it.
			q.pending = append([]session.QueueEntry{entry}, q.pending...)
			q.failure = &Failure{
				Err:     err,
				Message: err.Error(),
				Pending: append([]session.QueueEntry(nil), q.pending...),
			}
			q.inflight = false
			q.mu.Unlock()
			logger.LogErr(err, "message dispatch failed, queue halted")
			return err
		}
		if len(q.pending) == 0 {
			q.inflight = false
			q.mu.Unlock()
			return nil
		}
		entry = q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
	}
}

// Failure returns the pending failure, or nil
func (q *CommandQueue) Failure() *Failure {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failure == nil {
		return nil
	}
	f := *q.failure
	f.Pending = append([]session.QueueEntry(nil), q.failure.Pending...)
	return &f
}

// Pending returns a copy of the buffered entries
func (q *CommandQueue) Pending() []session.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]session.QueueEntry(nil), q.pending...)
}

// InFlight reports whether a dispatch is currently running
func (q *CommandQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// Discard resolves a failure by dropping the failed entry and the
// whole buffer atomically.
func (q *CommandQueue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.pending)
	q.pending = nil
	q.failure = nil
	logger.Info("Discarded command queue", "dropped", dropped)
}

// Continue resolves a failure by re-attempting dispatch from the head
// of the buffer, in original submission order, until the buffer is
// empty or another failure occurs.
func (q *CommandQueue) Continue() error {
	q.mu.Lock()
	if q.failure == nil {
		q.mu.Unlock()
		return nil
	}
	q.failure = nil
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	entry := q.pending[0]
	q.pending = q.pending[1:]
	q.inflight = true
	q.mu.Unlock()

	return q.dispatchAndDrain(entry)
}
