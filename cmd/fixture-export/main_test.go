package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/replay"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
)

func TestExportWritesReplayableFixture(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "run.db")
	store, err := state.NewStore(db)
	require.NoError(t, err)
	for i, fsc := range []float64{0.50, 0.58, 0.57, 0.56} {
		require.NoError(t, store.AppendCycle(report.CycleRecord{Cycle: i + 1, Residues: 200, FSC: fsc}))
	}
	require.NoError(t, store.Close())

	outPath := filepath.Join(dir, "fixture.json")
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"--db", db, "--out", outPath, "--auto-stop-cycles", "2"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "stop 4, best 2")

	f, err := replay.LoadFixture(outPath)
	require.NoError(t, err)
	assert.Equal(t, gate.MetricFSC, f.Config.Metric)
	assert.Len(t, f.Cycles, 4)
	assert.Len(t, f.ExpectedResults, 4)
	assert.Equal(t, 4, f.ExpectedStop)
	assert.Equal(t, 2, f.ExpectedBest)
}

func TestExportNeedsCycles(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "run.db")
	store, err := state.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--out", filepath.Join(dir, "f.json")})
	assert.Error(t, cmd.Execute())
}
