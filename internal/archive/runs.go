package archive

import (
	"database/sql"
	"fmt"
)

// StepRun is one recorded execution of a screener pipeline step.
// CreatedAt is an RFC3339 string; Detail carries the step's final
// context as a JSON document.
type StepRun struct {
	ID         int64
	SessionID  string
	Step       string
	Status     string
	Detail     string
	DurationMs int64
	CreatedAt  string
}

// RecordStepRun stores a new step run record and fills in its ID.
func (a *Archive) RecordStepRun(r *StepRun) error {
	result, err := a.writer.Exec(`
		INSERT INTO step_runs (
			session_id, step, status, detail, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Step, r.Status, r.Detail, r.DurationMs, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: record step run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("archive: step run id: %w", err)
	}
	r.ID = id
	return nil
}

// RecentStepRuns returns the most recent step runs, newest first.
func (a *Archive) RecentStepRuns(limit int) ([]*StepRun, error) {
	rows, err := a.reader.Query(`
		SELECT id, session_id, step, status, detail, duration_ms, created_at
		FROM step_runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: recent step runs: %w", err)
	}
	defer rows.Close()

	return scanStepRuns(rows)
}

// StepRunsForSession returns every recorded run for one session in
// execution order.
func (a *Archive) StepRunsForSession(sessionID string) ([]*StepRun, error) {
	rows, err := a.reader.Query(`
		SELECT id, session_id, step, status, detail, duration_ms, created_at
		FROM step_runs
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: step runs for session: %w", err)
	}
	defer rows.Close()

	return scanStepRuns(rows)
}

func scanStepRuns(rows *sql.Rows) ([]*StepRun, error) {
	var results []*StepRun
	for rows.Next() {
		r := &StepRun{}
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Step, &r.Status,
			&r.Detail, &r.DurationMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("archive: scan step run row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: step run iteration: %w", err)
	}
	return results, nil
}
