package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS state_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	state_json    TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES state_versions(version_id)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id    TEXT,
	cycle         INTEGER NOT NULL,
	step          TEXT NOT NULL,
	metrics_json  TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES state_versions(version_id)
);

CREATE TABLE IF NOT EXISTS cycles (
	cycle         INTEGER PRIMARY KEY,
	record_json   TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	step          TEXT NOT NULL,
	seconds       REAL NOT NULL,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store keeps every state version of a run, the active pointer, the cycle
// log and job timings in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region create-initial
// CreateInitialState stores an empty root version and makes it active.
func (s *Store) CreateInitialState() (Current, error) {
	cur := Current{VersionID: uuid.NewString(), CreatedAt: time.Now().UTC()}

	tx, err := s.db.Begin()
	if err != nil {
		return Current{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertVersion(tx, cur); err != nil {
		return Current{}, err
	}
	_, err = tx.Exec(
		`INSERT INTO active_state (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		cur.VersionID,
	)
	if err != nil {
		return Current{}, fmt.Errorf("set active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Current{}, fmt.Errorf("commit: %w", err)
	}
	return cur, nil
}

// #endregion create-initial

// #region get-current
// GetCurrent reads the active state version.
func (s *Store) GetCurrent() (Current, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_state WHERE id = 1`).Scan(&versionID)
	if err != nil {
		return Current{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific state version by ID.
func (s *Store) GetVersion(id string) (Current, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state_json FROM state_versions WHERE version_id = ?`, id).Scan(&stateJSON)
	if err != nil {
		return Current{}, fmt.Errorf("get version %s: %w", id, err)
	}
	var cur Current
	if err := json.Unmarshal([]byte(stateJSON), &cur); err != nil {
		return Current{}, fmt.Errorf("unmarshal state %s: %w", id, err)
	}
	return cur, nil
}

// #endregion get-version

// #region commit-state
// CommitState inserts a new version and updates the active pointer atomically.
func (s *Store) CommitState(cur Current) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertVersion(tx, cur); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE active_state SET version_id = ? WHERE id = 1`, cur.VersionID); err != nil {
		return fmt.Errorf("update active: %w", err)
	}
	return tx.Commit()
}

func insertVersion(tx *sql.Tx, cur Current) error {
	raw, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	var parent interface{}
	if cur.ParentID != "" {
		parent = cur.ParentID
	}
	_, err = tx.Exec(
		`INSERT INTO state_versions (version_id, parent_id, state_json, created_at) VALUES (?, ?, ?, ?)`,
		cur.VersionID, parent, string(raw), cur.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// #endregion commit-state

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM state_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(`UPDATE active_state SET version_id = ? WHERE id = 1`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent state versions with the decision
// that committed each, newest first.
func (s *Store) ListVersions(limit int) ([]VersionWithProvenance, error) {
	rows, err := s.db.Query(
		`SELECT v.state_json, COALESCE(p.cycle, 0), COALESCE(p.step, ''), COALESCE(p.decision, ''), COALESCE(p.reason, '')
		 FROM state_versions v
		 LEFT JOIN provenance_log p ON p.id = (
		     SELECT MAX(id) FROM provenance_log WHERE version_id = v.version_id AND decision != 'reject')
		 ORDER BY v.created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionWithProvenance
	for rows.Next() {
		var v VersionWithProvenance
		var stateJSON string
		if err := rows.Scan(&stateJSON, &v.Cycle, &v.Step, &v.Decision, &v.Reason); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &v.Current); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// #endregion list-versions

// #region cycles
// AppendCycle stores a cycle record. Cycle numbers are unique.
func (s *Store) AppendCycle(rec report.CycleRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cycle: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO cycles (cycle, record_json, created_at) VALUES (?, ?, ?)`,
		rec.Cycle, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append cycle %d: %w", rec.Cycle, err)
	}
	return nil
}

// ListCycles returns the cycle log in cycle order.
func (s *Store) ListCycles() ([]report.CycleRecord, error) {
	rows, err := s.db.Query(`SELECT record_json FROM cycles ORDER BY cycle`)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var out []report.CycleRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		var rec report.CycleRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal cycle: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion cycles

// #region jobs
// RecordJob stores the wall time of one step invocation.
func (s *Store) RecordJob(step string, seconds float64) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (step, seconds, created_at) VALUES (?, ?, ?)`,
		step, seconds, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return nil
}

// JobTotals returns per-step invocation counts and total seconds, slowest first.
func (s *Store) JobTotals() ([]JobTotal, error) {
	rows, err := s.db.Query(
		`SELECT step, COUNT(*), SUM(seconds) FROM jobs GROUP BY step ORDER BY SUM(seconds) DESC, step`,
	)
	if err != nil {
		return nil, fmt.Errorf("job totals: %w", err)
	}
	defer rows.Close()

	var out []JobTotal
	for rows.Next() {
		var jt JobTotal
		if err := rows.Scan(&jt.Step, &jt.Count, &jt.Seconds); err != nil {
			return nil, fmt.Errorf("scan job total: %w", err)
		}
		out = append(out, jt)
	}
	return out, rows.Err()
}

// #endregion jobs
