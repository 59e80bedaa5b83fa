package session

import (
	"sort"
	"sync"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Snapshot is an immutable copy of the store's state, safe to hand to
// subscribers and handlers.
type Snapshot struct {
	Session       Session            `json:"session"`
	Steps         []Step             `json:"steps"`
	Browser       *BrowserSessionRef `json:"browser,omitempty"`
	ActiveTask    ActiveTask         `json:"active_task"`
	ReplayFailure *ReplayFailure     `json:"replay_failure,omitempty"`
	SkippedSteps  []int              `json:"skipped_steps"`
	SelectedStep  int                `json:"selected_step"`
	Diverged      bool               `json:"diverged"`
}

// Subscriber receives a change kind plus the post-mutation snapshot
type Subscriber func(change string, snap Snapshot)

// Store is the single source of truth for one session. All mutations
// are synchronous and total; no I/O happens here. One Store instance
// per orchestrated session, no ambient singletons.
type Store struct {
	mu            sync.RWMutex
	sess          Session
	steps         []Step
	browser       *BrowserSessionRef
	activeTask    ActiveTask
	replayFailure *ReplayFailure
	skipped       []int
	selectedStep  int
	diverged      bool
	maxSeenIndex  int
	subscribers   []Subscriber
}

// NewStore creates a store for a freshly created session
func NewStore(sess Session) *Store {
	return &Store{
		sess:       sess,
		activeTask: TaskNone,
	}
}

// Subscribe registers a callback invoked synchronously after every
// mutation. Subscribers must not call back into the store.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// notify must be called with the lock held; it snapshots then releases
// before invoking subscribers so they can read but not deadlock writes.
func (s *Store) notifyLocked(change string) {
	snap := s.snapshotLocked()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(change, snap)
	}
	s.mu.Lock()
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Session:      s.sess,
		Steps:        make([]Step, len(s.steps)),
		ActiveTask:   s.activeTask,
		SkippedSteps: append([]int(nil), s.skipped...),
		SelectedStep: s.selectedStep,
		Diverged:     s.diverged,
	}
	copy(snap.Steps, s.steps)
	if s.browser != nil {
		b := *s.browser
		snap.Browser = &b
	}
	if s.replayFailure != nil {
		rf := *s.replayFailure
		snap.ReplayFailure = &rf
	}
	return snap
}

// ApplyEvent folds one normalized transport event into the state.
// Events for other sessions are ignored.
func (s *Store) ApplyEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.SessionID != "" && ev.SessionID != s.sess.ID {
		logger.Debug("Ignoring event for foreign session", "eventSession", ev.SessionID, "session", s.sess.ID)
		return
	}

	switch ev.Type {
	case EventBrowserSessionStarted:
		s.browser = ev.Browser
		s.notifyLocked("browser_session")

	case EventStepCompleted:
		if ev.Step == nil {
			return
		}
		s.upsertStepLocked(*ev.Step)
		s.notifyLocked("steps")

	case EventRunCompleted:
		status := StatusCompleted
		if ev.Run != nil {
			if ev.Run.Status != "" {
				status = ev.Run.Status
			} else if !ev.Run.Success {
				status = StatusFailed
			}
		}
		s.sess.Status = status
		s.maxSeenIndex = 0
		s.notifyLocked("status")

	case EventError:
		s.sess.Status = StatusFailed
		s.notifyLocked("status")
	}
}

// upsertStepLocked applies the step-index upsert rule: a step with a
// known number and matching id replaces in place (corrections and
// healing replays); an unknown number appends. A lower number arriving
// with a different id means the backend started a new run, so we flag
// divergence instead of merging timelines.
func (s *Store) upsertStepLocked(step Step) {
	for i := range s.steps {
		if s.steps[i].StepNumber == step.StepNumber {
			if step.ID != "" && s.steps[i].ID != "" && s.steps[i].ID != step.ID &&
				step.StepNumber <= s.maxSeenIndex {
				s.diverged = true
				logger.Warn("Step index collision with new id, flagging run divergence",
					"stepNumber", step.StepNumber, "oldID", s.steps[i].ID, "newID", step.ID)
				return
			}
			s.steps[i] = step
			return
		}
	}
	s.steps = append(s.steps, step)
	sort.Slice(s.steps, func(i, j int) bool {
		return s.steps[i].StepNumber < s.steps[j].StepNumber
	})
	if step.StepNumber > s.maxSeenIndex {
		s.maxSeenIndex = step.StepNumber
	}
}

// SetStatus sets the session status directly (command path)
func (s *Store) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Status = status
	s.notifyLocked("status")
}

// Status returns the current session status
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.Status
}

// SessionID returns the orchestrated session's id
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.ID
}

// SetSession replaces the session record wholesale, as fetched from
// the backend. Steps are left untouched.
func (s *Store) SetSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
	s.notifyLocked("session")
}

// SetPlan installs or replaces the plan (regenerate flow replaces it
// wholesale)
func (s *Store) SetPlan(plan *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Plan = plan
	s.notifyLocked("plan")
}

// ReplaceSteps installs a full step list, as reconstructed from a
// session fetch. Used by the polling fallback; upsert semantics apply
// per step so re-delivery stays idempotent.
func (s *Store) ReplaceSteps(steps []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range steps {
		s.upsertStepLocked(st)
	}
	s.notifyLocked("steps")
}

// Steps returns a copy of the step list
func (s *Store) Steps() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// MaxStepNumber returns the highest step number, 0 when empty
func (s *Store) MaxStepNumber() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.steps) == 0 {
		return 0
	}
	return s.steps[len(s.steps)-1].StepNumber
}

// TruncateSteps drops all steps after n and renumbers. Callers must
// only invoke this after the backend acknowledged the undo/delete.
func (s *Store) TruncateSteps(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.steps[:0]
	for _, st := range s.steps {
		if st.StepNumber <= n {
			kept = append(kept, st)
		}
	}
	s.steps = kept
	s.renumberLocked()
	s.notifyLocked("steps")
}

// DeleteStep removes one step and renumbers; backend ack comes first
func (s *Store) DeleteStep(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, st := range s.steps {
		if st.StepNumber == n {
			idx = i
			break
		}
	}
	if idx < 0 {
		return serr.New("step not found")
	}
	s.steps = append(s.steps[:idx], s.steps[idx+1:]...)
	s.renumberLocked()
	s.notifyLocked("steps")
	return nil
}

// InsertStep splices a step in after position afterStep and renumbers.
// This is a local command mutation, not a transport event; the
// cross-run divergence rule does not apply to it.
func (s *Store) InsertStep(afterStep int, step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if afterStep < 0 || afterStep > len(s.steps) {
		return serr.New("insert position out of range")
	}
	s.steps = append(s.steps, Step{})
	copy(s.steps[afterStep+1:], s.steps[afterStep:])
	s.steps[afterStep] = step
	s.renumberLocked()
	s.notifyLocked("steps")
	return nil
}

// renumberLocked restores dense 1..N numbering after a mutation
func (s *Store) renumberLocked() {
	for i := range s.steps {
		s.steps[i].StepNumber = i + 1
	}
	s.maxSeenIndex = len(s.steps)
}

// BeginTask claims the single active-task slot. Mutual exclusion over
// everything that drives the browser is enforced here, not at call
// sites.
func (s *Store) BeginTask(task ActiveTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task == TaskNone {
		return serr.New("cannot begin task none")
	}
	if s.activeTask != TaskNone {
		return serr.New("another task is active: " + string(s.activeTask))
	}
	s.activeTask = task
	s.notifyLocked("active_task")
	return nil
}

// EndTask releases the active-task slot. Releasing a task that is not
// held is a no-op, so completion races with stop stay harmless.
func (s *Store) EndTask(task ActiveTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTask != task {
		return
	}
	s.activeTask = TaskNone
	s.notifyLocked("active_task")
}

// ActiveTask returns the current active task tag
func (s *Store) ActiveTask() ActiveTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTask
}

// Browser returns the current browser session reference, or nil
func (s *Store) Browser() *BrowserSessionRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.browser == nil {
		return nil
	}
	b := *s.browser
	return &b
}

// SetBrowser installs or clears the browser reference
func (s *Store) SetBrowser(ref *BrowserSessionRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browser = ref
	s.notifyLocked("browser_session")
}

// SetReplayFailure records where a replay diverged
func (s *Store) SetReplayFailure(rf *ReplayFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayFailure = rf
	s.notifyLocked("replay_failure")
}

// ReplayFailure returns the pending replay failure, or nil
func (s *Store) ReplayFailure() *ReplayFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.replayFailure == nil {
		return nil
	}
	rf := *s.replayFailure
	return &rf
}

// MarkSkipped records a failed-but-skipped step. Skipped steps stay
// visible; they are never hidden from the timeline.
func (s *Store) MarkSkipped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.skipped {
		if v == n {
			return
		}
	}
	s.skipped = append(s.skipped, n)
	s.notifyLocked("skipped")
}

// SkippedSteps returns the ordered list of skipped step numbers
func (s *Store) SkippedSteps() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.skipped...)
}

// SelectStep records the UI-selected step pointer (0 clears it)
func (s *Store) SelectStep(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedStep = n
	s.notifyLocked("selection")
}

// Reset clears all local state back to a just-created session. The
// backend reset request is the caller's job; this only drops local
// state including the browser reference.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
	s.browser = nil
	s.activeTask = TaskNone
	s.replayFailure = nil
	s.skipped = nil
	s.selectedStep = 0
	s.diverged = false
	s.maxSeenIndex = 0
	s.sess.Status = StatusPendingPlan
	s.sess.Plan = nil
	s.notifyLocked("reset")
}
