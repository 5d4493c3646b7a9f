package logging

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE provenance_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		version_id   TEXT,
		cycle        INTEGER NOT NULL,
		step         TEXT NOT NULL,
		metrics_json TEXT,
		decision     TEXT NOT NULL,
		reason       TEXT,
		created_at   TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-decision-tests
func TestLogDecision_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := ProvenanceEntry{
		VersionID:   "v1",
		Cycle:       2,
		Step:        "refmac_after_findwaters",
		MetricsJSON: `{"r_free":0.31}`,
		Decision:    "reject",
		Reason:      "r_free 0.3100 not below 0.3000",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := LogDecision(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM provenance_log").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	var step, decision string
	var cycle int
	db.QueryRow("SELECT cycle, step, decision FROM provenance_log").Scan(&cycle, &step, &decision)
	if cycle != 2 || step != "refmac_after_findwaters" || decision != "reject" {
		t.Errorf("unexpected row: cycle=%d step=%q decision=%q", cycle, step, decision)
	}
}

func TestLogDecision_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	if err := LogDecision(db, ProvenanceEntry{Step: "refmac", Decision: "auto"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM provenance_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogDecision_EmptyOptionalFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	if err := LogDecision(db, ProvenanceEntry{Step: "refmac", Decision: "commit"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var versionID, metrics, reason sql.NullString
	db.QueryRow("SELECT version_id, metrics_json, reason FROM provenance_log").Scan(&versionID, &metrics, &reason)
	if versionID.Valid || metrics.Valid || reason.Valid {
		t.Error("expected NULL for empty optional fields")
	}
}

func TestLogDecision_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	if err := LogDecision(db, ProvenanceEntry{Step: "refmac", Decision: "commit"}); err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-decision-tests

// #region list-decisions-tests
func TestListDecisions_OrderAndFilter(t *testing.T) {
	db := setupDB(t)
	defer db.Close()
	db.SetMaxOpenConns(1)

	entries := []ProvenanceEntry{
		{VersionID: "v1", Cycle: 1, Step: "buccaneer/refine", Decision: "auto", Reason: "auto-accepted"},
		{Cycle: 1, Step: "waters/refine", Decision: "reject", Reason: "no improvement", MetricsJSON: `{"r_free":0.3}`},
		{VersionID: "v3", Cycle: 2, Step: "waters/refine", Decision: "commit"},
	}
	for _, e := range entries {
		if err := LogDecision(db, e); err != nil {
			t.Fatalf("LogDecision: %v", err)
		}
	}

	all, err := ListDecisions(db, "", 0)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Step != "buccaneer/refine" || all[2].Decision != "commit" {
		t.Errorf("unexpected order: %+v", all)
	}
	if all[1].VersionID != "" || all[1].MetricsJSON != `{"r_free":0.3}` {
		t.Errorf("unexpected nullable columns: %+v", all[1])
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("expected created_at to be parsed")
	}

	waters, err := ListDecisions(db, "waters/refine", 1)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(waters) != 1 || waters[0].Decision != "reject" {
		t.Errorf("expected first waters decision only, got %+v", waters)
	}
}

// #endregion list-decisions-tests
