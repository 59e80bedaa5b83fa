package db

import (
	"database/sql"
	"encoding/json"

	"github.com/rohanthewiz/serr"

	"steprun/api"
)

const settingsKey = "system"

// SaveSettings caches the backend system settings locally
func (db *DB) SaveSettings(settings api.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return serr.Wrap(err, "failed to marshal settings")
	}
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := db.Exec(query, settingsKey, string(data)); err != nil {
		return serr.Wrap(err, "failed to save settings")
	}
	return nil
}

// GetSettings returns the cached settings, or nil when never fetched
func (db *DB) GetSettings() (*api.Settings, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", settingsKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get settings")
	}
	var settings api.Settings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return nil, serr.Wrap(err, "failed to unmarshal settings")
	}
	return &settings, nil
}
