package web

import (
	"sync"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"steprun/api"
	"steprun/artifact"
	"steprun/config"
	"steprun/control"
	"steprun/db"
	"steprun/queue"
	"steprun/session"
	"steprun/transport"
)

// App bundles the orchestrator's moving parts for the session the UI
// is currently driving. The local database caches session history and
// script links; everything live flows through the backend client.
type App struct {
	backend   *api.Client
	database  *db.DB
	generator *artifact.Generator

	mu        sync.Mutex
	store     *session.Store
	queue     *queue.CommandQueue
	executor  *control.Executor
	recorder  *control.Recorder
	transport *transport.Transport

	// pendingUndo holds the step number awaiting user confirmation;
	// zero means no undo is pending.
	pendingUndo int
}

// NewApp wires the application around a backend client and the local
// cache. The database may be nil; history and script links then live
// only in memory.
func NewApp(backend *api.Client, database *db.DB) *App {
	var links artifact.LinkStore
	if database != nil {
		links = database
	}
	return &App{
		backend:   backend,
		database:  database,
		generator: artifact.NewGenerator(backend, links),
	}
}

// OpenSession creates a backend session and makes it the app's current
// session, replacing any previous one.
func (a *App) OpenSession(req api.CreateSessionRequest) (*session.Session, error) {
	sess, err := a.backend.CreateSession(req)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create backend session")
	}
	a.bind(*sess, nil)
	BroadcastSessionList()
	return sess, nil
}

// AttachSession re-opens a known backend session, pulling its current
// state before binding.
func (a *App) AttachSession(id string) (*session.Snapshot, error) {
	detail, err := a.backend.GetSession(id)
	if err != nil {
		return nil, serr.Wrap(err, "failed to fetch session", "session_id", id)
	}
	a.bind(detail.Session, detail.Steps)
	snap := a.store.Snapshot()
	return &snap, nil
}

// bind replaces the current session wiring: a fresh store feeds the
// SSE hub and the local cache on every mutation, and the transport
// follows the session's status on its own.
func (a *App) bind(sess session.Session, steps []session.Step) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.transport != nil {
		a.transport.Stop()
	}

	cfg := config.Get()
	store := session.NewStore(sess)
	if len(steps) > 0 {
		store.ReplaceSteps(steps)
	}

	store.Subscribe(func(change string, snap session.Snapshot) {
		BroadcastSessionUpdate(snap.Session.ID, "session_update", map[string]interface{}{
			"change":   change,
			"snapshot": snap,
		})
		if a.database != nil {
			if err := a.database.UpsertSession(snap.Session, snap.Steps); err != nil {
				logger.LogErr(err, "failed to cache session snapshot")
			}
		}
	})

	a.store = store
	a.executor = control.NewExecutor(store, a.backend)
	a.recorder = control.NewRecorder(store, a.backend)
	a.queue = queue.New(func(entry session.QueueEntry) error {
		return a.backend.SendMessage(sess.ID, api.SendMessageRequest{
			Text: entry.Text,
			Mode: entry.Mode,
		})
	})
	a.pendingUndo = 0

	socketURL := cfg.SocketURL + "/api/sessions/" + sess.ID + "/events"
	a.transport = transport.New(store, a.backend, transport.DefaultOptions(socketURL, a.backend.Token()))
	a.transport.Start()
}

// Close stops the live transport. Called on shutdown.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transport != nil {
		a.transport.Stop()
	}
}

// current returns the active session wiring, or an error when no
// session is open yet.
func (a *App) current() (*session.Store, *control.Executor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, nil, serr.New("no active session")
	}
	return a.store, a.executor, nil
}

func (a *App) currentQueue() (*queue.CommandQueue, *session.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue == nil {
		return nil, nil, serr.New("no active session")
	}
	return a.queue, a.store, nil
}

func (a *App) currentRecorder() (*control.Recorder, *session.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recorder == nil {
		return nil, nil, serr.New("no active session")
	}
	return a.recorder, a.store, nil
}

// requestUndo records an undo target pending confirmation
func (a *App) requestUndo(stepNumber int) {
	a.mu.Lock()
	a.pendingUndo = stepNumber
	a.mu.Unlock()
}

// takeUndo consumes the pending undo target, returning zero if none
func (a *App) takeUndo() int {
	a.mu.Lock()
	n := a.pendingUndo
	a.pendingUndo = 0
	a.mu.Unlock()
	return n
}
