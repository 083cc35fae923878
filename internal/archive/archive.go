// Package archive is the Run Archive (§3/RunRecord, §10/K): an
// append-only SQLite record of every run that reaches a terminal
// ControlState, written once and never mutated afterward, consistent with
// the Non-goal that in-flight curves are never persisted — only the
// finished record. Schema and access pattern follow internal/store's
// manual-schema-plus-migration style.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/holla2040/reflow-mpc/internal/reflow"
)

// ErrNotFound is returned when a run id is unknown to the archive.
var ErrNotFound = errors.New("run not found")

// RunRecord is one archived run: the curve plus its outcome. Written once,
// at the moment a run reaches a terminal ControlState.
type RunRecord struct {
	RunID        string
	CurveID      string
	StartedAt    time.Time
	EndedAt      time.Time
	Terminal     reflow.ControlState
	FaultMessage string
	History      []reflow.Sample
}

// Archive is a handle onto the SQLite-backed run history.
type Archive struct {
	db *sql.DB
}

// Open creates or migrates the archive database at dbPath.
func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    curve_id TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    ended_at TEXT NOT NULL,
    terminal_state TEXT NOT NULL,
    fault_message TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    elapsed_s INTEGER NOT NULL,
    temperature REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_samples_run ON run_samples(run_id);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: migrate schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Record writes a finished run's outcome, minting a fresh run id. It is
// called by internal/orchestrator in the Main process once the supervisor
// process has exited and its result file has been read.
func (a *Archive) Record(curveID string, startedAt, endedAt time.Time, terminal reflow.ControlState, faultMessage string, history []reflow.Sample) (string, error) {
	runID := uuid.NewString()

	tx, err := a.db.Begin()
	if err != nil {
		return "", fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, curve_id, started_at, ended_at, terminal_state, fault_message) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, curveID, startedAt.UTC().Format(time.RFC3339Nano), endedAt.UTC().Format(time.RFC3339Nano), terminal.String(), faultMessage,
	)
	if err != nil {
		return "", fmt.Errorf("archive: insert run: %w", err)
	}

	for _, s := range history {
		if _, err := tx.Exec(
			`INSERT INTO run_samples (run_id, elapsed_s, temperature) VALUES (?, ?, ?)`,
			runID, s.ElapsedS, s.Temperature,
		); err != nil {
			return "", fmt.Errorf("archive: insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("archive: commit: %w", err)
	}
	return runID, nil
}

// Get loads one archived run, including its samples.
func (a *Archive) Get(runID string) (*RunRecord, error) {
	row := a.db.QueryRow(
		`SELECT curve_id, started_at, ended_at, terminal_state, fault_message FROM runs WHERE id = ?`, runID)

	var curveID, startedAt, endedAt, terminalState, faultMessage string
	if err := row.Scan(&curveID, &startedAt, &endedAt, &terminalState, &faultMessage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("archive: get %s: %w", runID, err)
	}

	started, _ := time.Parse(time.RFC3339Nano, startedAt)
	ended, _ := time.Parse(time.RFC3339Nano, endedAt)
	terminal, err := reflow.ParseControlState(terminalState)
	if err != nil {
		return nil, fmt.Errorf("archive: decode terminal state for %s: %w", runID, err)
	}

	samples, err := a.samples(runID)
	if err != nil {
		return nil, err
	}

	return &RunRecord{
		RunID:        runID,
		CurveID:      curveID,
		StartedAt:    started,
		EndedAt:      ended,
		Terminal:     terminal,
		FaultMessage: faultMessage,
		History:      samples,
	}, nil
}

func (a *Archive) samples(runID string) ([]reflow.Sample, error) {
	rows, err := a.db.Query(`SELECT elapsed_s, temperature FROM run_samples WHERE run_id = ? ORDER BY elapsed_s ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("archive: query samples for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []reflow.Sample
	for rows.Next() {
		var s reflow.Sample
		if err := rows.Scan(&s.ElapsedS, &s.Temperature); err != nil {
			return nil, fmt.Errorf("archive: scan sample for %s: %w", runID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// List returns every archived run's summary (without samples), most
// recent first.
func (a *Archive) List() ([]RunRecord, error) {
	rows, err := a.db.Query(`SELECT id, curve_id, started_at, ended_at, terminal_state, fault_message FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedAt, endedAt, terminalState string
		if err := rows.Scan(&r.RunID, &r.CurveID, &startedAt, &endedAt, &terminalState, &r.FaultMessage); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt)
		r.Terminal, err = reflow.ParseControlState(terminalState)
		if err != nil {
			return nil, fmt.Errorf("archive: decode terminal state: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
