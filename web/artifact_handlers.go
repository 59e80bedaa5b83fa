package web

import (
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// generateScriptHandler produces the session's script artifact,
// reusing any script already linked to it
func (a *App) generateScriptHandler(c rweb.Context) error {
	store, _, err := a.current()
	if err != nil {
		return c.WriteError(err, 404)
	}

	script, err := a.generator.Generate(store.Snapshot())
	if err != nil {
		return c.WriteError(err, 409)
	}
	return c.WriteJSON(script)
}

// listScriptsHandler returns locally cached script artifacts
func (a *App) listScriptsHandler(c rweb.Context) error {
	if a.database == nil {
		return c.WriteJSON([]interface{}{})
	}
	scripts, err := a.database.ListScripts()
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to list scripts"), 500)
	}
	return c.WriteJSON(scripts)
}

// getScriptHandler returns one script, trying the local cache first
// and falling back to the backend
func (a *App) getScriptHandler(c rweb.Context) error {
	id := c.Request().Param("id")

	if a.database != nil {
		script, err := a.database.GetScript(id)
		if err == nil && script != nil {
			return c.WriteJSON(script)
		}
	}

	script, err := a.backend.GetScript(id)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to get script"), 500)
	}
	return c.WriteJSON(script)
}
