package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/modelcraft/internal/logging"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
)

func seedRun(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.db")
	store, err := state.NewStore(path)
	require.NoError(t, err)
	defer store.Close()

	cur, err := store.CreateInitialState()
	require.NoError(t, err)
	for _, rec := range []report.CycleRecord{
		{Cycle: 1, Residues: 150, RWork: 0.36, RFree: 0.40, Seconds: 600},
		{Cycle: 2, Residues: 190, Waters: 20, RWork: 0.28, RFree: 0.32, Seconds: 580},
	} {
		require.NoError(t, store.AppendCycle(rec))
	}
	record, err := json.Marshal(logging.DecisionRecord{Step: "waters/refine", Cycle: 2, Action: "reject"})
	require.NoError(t, err)
	require.NoError(t, logging.LogDecision(store.DB(), logging.ProvenanceEntry{
		VersionID: cur.VersionID, Cycle: 1, Step: "buccaneer/refine", Decision: "auto", Reason: "auto-accepted",
	}))
	require.NoError(t, logging.LogDecision(store.DB(), logging.ProvenanceEntry{
		Cycle: 2, Step: "waters/refine", MetricsJSON: string(record), Decision: "reject", Reason: "no improvement",
	}))
	require.NoError(t, store.RecordJob("refmac", 120))
	require.NoError(t, store.RecordJob("refmac", 80))
	require.NoError(t, store.RecordJob("buccaneer", 300))
	return path
}

func runInspect(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestCyclesView(t *testing.T) {
	out := runInspect(t, "--db", seedRun(t))
	assert.Contains(t, out, "0.4000")
	assert.Contains(t, out, "0.3200")
	assert.Contains(t, out, "Best: cycle 2")
}

func TestDecisionsView(t *testing.T) {
	db := seedRun(t)

	out := runInspect(t, "--db", db, "--view", "decisions")
	assert.Contains(t, out, "buccaneer/refine")
	assert.Contains(t, out, "no improvement")

	var rows []decisionRow
	require.NoError(t, json.Unmarshal([]byte(runInspect(t, "--db", db, "--view", "decisions", "--step", "waters/refine", "--json")), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "reject", rows[0].Decision)
	require.NotNil(t, rows[0].Record)
	assert.Equal(t, 2, rows[0].Record.Cycle)
}

func TestJobsView(t *testing.T) {
	out := runInspect(t, "--db", seedRun(t), "--view", "jobs")
	assert.Contains(t, out, "refmac")
	assert.Contains(t, out, "200.0")
	assert.Contains(t, out, "500.0")
}

func TestVersionsView(t *testing.T) {
	var rows []versionRow
	require.NoError(t, json.Unmarshal([]byte(runInspect(t, "--db", seedRun(t), "--view", "versions", "--json")), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "buccaneer/refine", rows[0].Step)
}

func TestMissingDatabase(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "nope.db")})
	assert.Error(t, cmd.Execute())
}

func TestUnknownView(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", seedRun(t), "--view", "nope"})
	assert.Error(t, cmd.Execute())
}
