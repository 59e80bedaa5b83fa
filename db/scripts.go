package db

import (
	"database/sql"

	"github.com/rohanthewiz/serr"

	"steprun/api"
)

// SaveScript stores the session-to-script link. The unique index on
// session_id backs the one-script-per-session rule; a conflicting
// insert keeps the first link.
func (db *DB) SaveScript(script *api.Script) error {
	query := `
		INSERT INTO scripts (id, session_id, name, code)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err := db.Exec(query, script.ID, script.SessionID, script.Name, script.Code)
	if err != nil {
		return serr.Wrap(err, "failed to save script")
	}
	return nil
}

// ScriptBySession returns the script linked to a session, or nil
func (db *DB) ScriptBySession(sessionID string) (*api.Script, error) {
	query := `SELECT id, session_id, name, code, created_at FROM scripts WHERE session_id = ?`
	script, err := scanScript(db.QueryRow(query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get script by session")
	}
	return script, nil
}

// GetScript returns one script by id, or nil
func (db *DB) GetScript(id string) (*api.Script, error) {
	query := `SELECT id, session_id, name, code, created_at FROM scripts WHERE id = ?`
	script, err := scanScript(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get script")
	}
	return script, nil
}

// ListScripts returns all stored scripts, newest first
func (db *DB) ListScripts() ([]api.Script, error) {
	query := `SELECT id, session_id, name, code, created_at FROM scripts ORDER BY created_at DESC`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []api.Script
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan script row")
		}
		scripts = append(scripts, *script)
	}
	return scripts, rows.Err()
}

func scanScript(row scanner) (*api.Script, error) {
	var script api.Script
	var name, code sql.NullString
	if err := row.Scan(&script.ID, &script.SessionID, &name, &code, &script.CreatedAt); err != nil {
		return nil, err
	}
	script.Name = name.String
	script.Code = code.String
	return &script, nil
}
