package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/report"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Cycles          []report.CycleRecord    `json:"cycles"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
	ExpectedStop    int                     `json:"expected_stop_cycle"`
	ExpectedBest    int                     `json:"expected_best_cycle"`
}

// FixtureConfig mirrors ReplayConfig with JSON tags.
type FixtureConfig struct {
	Metric         gate.Metric `json:"metric"`
	AutoStopCycles int         `json:"auto_stop_cycles"`
	MaxR           float64     `json:"max_r,omitempty"`
}

// FixtureExpectedResult captures the expected action per cycle.
type FixtureExpectedResult struct {
	Cycle  int    `json:"cycle"`
	Action string `json:"action"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToReplayConfig converts a FixtureConfig to a ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	metric := fc.Metric
	if metric == "" {
		metric = gate.MetricRFree
	}
	cfg := ForMetric(metric)
	cfg.AutoStopCycles = fc.AutoStopCycles
	if fc.MaxR > 0 {
		cfg.EvalConfig.MaxR = fc.MaxR
	}
	return cfg
}

// NewFixture builds a fixture from recorded cycles. The expectations are
// whatever the current gate and stop checker decide, so the file pins today's
// behaviour as a regression baseline.
func NewFixture(description string, cycles []report.CycleRecord, fc FixtureConfig) Fixture {
	results := Replay(cycles, fc.ToReplayConfig())
	sum := Summarize(results, cycles)
	f := Fixture{
		Description:  description,
		Config:       fc,
		Cycles:       cycles,
		ExpectedStop: sum.StopCycle,
		ExpectedBest: sum.BestCycle,
	}
	for _, r := range results {
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{Cycle: r.Cycle, Action: r.Action})
	}
	return f
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-loader
