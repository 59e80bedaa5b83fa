package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rohanthewiz/serr"

	"steprun/session"
)

// SessionRecord is one cached session row, including its last known
// step timeline
type SessionRecord struct {
	Session   session.Session `json:"session"`
	Steps     []session.Step  `json:"steps"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertSession caches the latest snapshot of a session so the UI can
// list history without the backend
func (db *DB) UpsertSession(sess session.Session, steps []session.Step) error {
	planJSON, err := json.Marshal(sess.Plan)
	if err != nil {
		return serr.Wrap(err, "failed to marshal plan")
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return serr.Wrap(err, "failed to marshal steps")
	}

	query := `
		INSERT INTO sessions (id, status, prompt, title, llm_model, headless, plan, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?::JSON, ?::JSON)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			title = excluded.title,
			plan = excluded.plan,
			steps = excluded.steps,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = db.Exec(query, sess.ID, string(sess.Status), sess.Prompt, sess.Title,
		sess.LLMModel, sess.Headless, string(planJSON), string(stepsJSON))
	if err != nil {
		return serr.Wrap(err, "failed to upsert session")
	}
	return nil
}

// GetSession retrieves one cached session, or nil if unknown
func (db *DB) GetSession(id string) (*SessionRecord, error) {
	query := `
		SELECT id, status, prompt, title, llm_model, headless, plan, steps, created_at, updated_at
		FROM sessions WHERE id = ?
	`
	rec, err := scanSession(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get session")
	}
	return rec, nil
}

// ListSessions returns cached sessions, most recently updated first
func (db *DB) ListSessions() ([]SessionRecord, error) {
	query := `
		SELECT id, status, prompt, title, llm_model, headless, plan, steps, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC
	`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan session row")
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// DeleteSession removes one cached session
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return serr.Wrap(err, "failed to delete session")
	}
	return nil
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var rec SessionRecord
	var status string
	var title, model, planJSON, stepsJSON sql.NullString

	err := row.Scan(&rec.Session.ID, &status, &rec.Session.Prompt, &title, &model,
		&rec.Session.Headless, &planJSON, &stepsJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Session.Status = session.Status(status)
	rec.Session.Title = title.String
	rec.Session.LLMModel = model.String
	if planJSON.Valid && planJSON.String != "" && planJSON.String != "null" {
		var plan session.Plan
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err == nil {
			rec.Session.Plan = &plan
		}
	}
	if stepsJSON.Valid && stepsJSON.String != "" && stepsJSON.String != "null" {
		if err := json.Unmarshal([]byte(stepsJSON.String), &rec.Steps); err != nil {
			return nil, serr.Wrap(err, "failed to unmarshal steps")
		}
	}
	return &rec, nil
}
