package control

import (
	"sync"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"steprun/session"
)

// Recorder toggles the mode in which user browser interactions are
// captured as steps instead of AI-driven execution. It shares the
// store's active-task slot with the executor, so starting a capture
// while a run is active fails up front.
type Recorder struct {
	store   *session.Store
	backend Backend

	mu   sync.Mutex
	mode string
}

// NewRecorder creates a recording controller bound to a store
func NewRecorder(store *session.Store, backend Backend) *Recorder {
	return &Recorder{store: store, backend: backend}
}

// Start begins a capture. It requires an attached browser and no
// active execution. The capture mode is fixed until Stop.
func (r *Recorder) Start(mode string) error {
	if mode == "" {
		return serr.New("recording mode is required")
	}
	if r.store.Browser() == nil {
		return serr.New("no browser session attached")
	}
	if err := r.store.BeginTask(session.TaskRecording); err != nil {
		return err
	}

	if err := r.backend.StartRecording(r.store.SessionID(), mode); err != nil {
		r.store.EndTask(session.TaskRecording)
		return serr.Wrap(err, "failed to start recording")
	}
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
	r.store.SetStatus(session.StatusRecordingReady)
	logger.Info("Recording started", "session", r.store.SessionID(), "mode", mode)
	return nil
}

// Active reports whether a capture is in progress
func (r *Recorder) Active() bool {
	return r.store.ActiveTask() == session.TaskRecording
}

// Mode returns the capture mode of the current recording session
func (r *Recorder) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Stop finalizes the capture. Recorded steps land in the timeline with
// user-sourced actions, numbered after the existing steps.
func (r *Recorder) Stop() error {
	if r.store.ActiveTask() != session.TaskRecording {
		return serr.New("no recording in progress")
	}

	steps, err := r.backend.StopRecording(r.store.SessionID())
	if err != nil {
		// Capture state is unknown server-side; release the slot so
		// the session is not stuck, but surface the failure.
		r.store.EndTask(session.TaskRecording)
		return serr.Wrap(err, "failed to stop recording")
	}

	base := r.store.MaxStepNumber()
	for i := range steps {
		steps[i].StepNumber = base + i + 1
		for j := range steps[i].Actions {
			steps[i].Actions[j].Source = session.ActionSourceUser
		}
	}
	r.store.ReplaceSteps(steps)

	r.mu.Lock()
	r.mode = ""
	r.mu.Unlock()
	r.store.EndTask(session.TaskRecording)
	r.store.SetStatus(session.StatusPaused)
	logger.Info("Recording stopped", "session", r.store.SessionID(), "captured", len(steps))
	return nil
}
