// Package artifact turns a finished session's step list into a
// persisted, reusable script. Generation is checked-then-create and
// single-flight: a session is never linked to more than one script no
// matter how many times or how concurrently it is requested.
package artifact

import (
	"sync"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"golang.org/x/sync/singleflight"

	"steprun/api"
	"steprun/session"
)

// Creator is the slice of the backend client used for script CRUD
type Creator interface {
	ListScripts(sessionID string) ([]api.Script, error)
	CreateScript(req api.CreateScriptRequest) (*api.Script, error)
}

// LinkStore caches the session-to-script link locally so repeat
// generations short-circuit without a backend round trip. May be nil.
type LinkStore interface {
	ScriptBySession(sessionID string) (*api.Script, error)
	SaveScript(script *api.Script) error
}

// Generator produces script artifacts from sessions
type Generator struct {
	creator Creator
	links   LinkStore

	mu     sync.RWMutex
	cache  map[string]*api.Script
	flight singleflight.Group
}

// NewGenerator creates a script generator
func NewGenerator(creator Creator, links LinkStore) *Generator {
	return &Generator{
		creator: creator,
		links:   links,
		cache:   make(map[string]*api.Script),
	}
}

// Generate returns the script linked to the session, creating one if
// none exists. Safe to call concurrently; the backend is the authority
// for uniqueness and the first successful creation wins.
func (g *Generator) Generate(snap session.Snapshot) (*api.Script, error) {
	if !snap.Session.Status.IsTerminal() {
		return nil, serr.New("script generation requires a finished session",
			"status", string(snap.Session.Status))
	}
	if len(snap.Steps) == 0 {
		return nil, serr.New("no steps to generate a script from")
	}

	sessionID := snap.Session.ID
	if script := g.cached(sessionID); script != nil {
		return script, nil
	}

	v, err, _ := g.flight.Do(sessionID, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the cache while this one queued.
		if script := g.cached(sessionID); script != nil {
			return script, nil
		}

		// Checked: an existing linked script is reused, never
		// re-created.
		existing, err := g.creator.ListScripts(sessionID)
		if err != nil {
			return nil, serr.Wrap(err, "failed to check for existing script")
		}
		if len(existing) > 0 {
			script := existing[0]
			g.remember(&script)
			return &script, nil
		}

		name := snap.Session.Title
		if name == "" {
			name = snap.Session.Prompt
		}
		script, err := g.creator.CreateScript(api.CreateScriptRequest{
			SessionID: sessionID,
			Name:      name,
		})
		if err != nil {
			return nil, serr.Wrap(err, "script creation failed")
		}
		g.remember(script)
		logger.Info("Script generated", "session", sessionID, "script", script.ID)
		return script, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*api.Script), nil
}

// Linked returns the locally known script for a session, or nil
func (g *Generator) Linked(sessionID string) *api.Script {
	return g.cached(sessionID)
}

func (g *Generator) cached(sessionID string) *api.Script {
	g.mu.RLock()
	script := g.cache[sessionID]
	g.mu.RUnlock()
	if script != nil {
		return script
	}
	if g.links == nil {
		return nil
	}
	stored, err := g.links.ScriptBySession(sessionID)
	if err != nil {
		logger.LogErr(err, "failed to read script link")
		return nil
	}
	if stored != nil {
		g.mu.Lock()
		g.cache[sessionID] = stored
		g.mu.Unlock()
	}
	return stored
}

func (g *Generator) remember(script *api.Script) {
	g.mu.Lock()
	g.cache[script.SessionID] = script
	g.mu.Unlock()
	if g.links != nil {
		if err := g.links.SaveScript(script); err != nil {
			logger.LogErr(err, "failed to persist script link")
		}
	}
}
