package web

import (
	"encoding/json"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"steprun/api"
)

// getSettingsHandler returns backend settings, serving the cached copy
// when the backend is unreachable
func (a *App) getSettingsHandler(c rweb.Context) error {
	settings, err := a.backend.GetSettings()
	if err == nil {
		if a.database != nil {
			if cacheErr := a.database.SaveSettings(*settings); cacheErr != nil {
				logger.LogErr(cacheErr, "failed to cache settings")
			}
		}
		return c.WriteJSON(settings)
	}

	if a.database != nil {
		cached, cacheErr := a.database.GetSettings()
		if cacheErr == nil && cached != nil {
			logger.Warn("Serving cached settings, backend unreachable")
			return c.WriteJSON(cached)
		}
	}
	return c.WriteError(serr.Wrap(err, "failed to get settings"), 502)
}

// updateSettingsHandler pushes new settings to the backend and
// refreshes the local cache
func (a *App) updateSettingsHandler(c rweb.Context) error {
	var settings api.Settings
	if err := json.Unmarshal(c.Request().Body(), &settings); err != nil {
		return c.WriteError(serr.Wrap(err, "failed to parse settings"), 400)
	}

	if err := a.backend.UpdateSettings(settings); err != nil {
		return c.WriteError(serr.Wrap(err, "settings update failed"), 502)
	}
	if a.database != nil {
		if err := a.database.SaveSettings(settings); err != nil {
			logger.LogErr(err, "failed to cache settings")
		}
	}
	return c.WriteJSON(map[string]bool{"success": true})
}
