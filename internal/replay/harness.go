// Package replay feeds recorded cycle statistics back through the gate and
// the auto-stop counter. It answers "when would this run have stopped, and
// which cycle would it have kept" for a different auto_stop_cycles without
// running any crystallographic programs.
package replay

import (
	"github.com/danielpatrickdp/modelcraft/internal/eval"
	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region types

// Action values of a ReplayResult.
const (
	ActionImproved = "improved"
	ActionStalled  = "stalled"
	ActionInvalid  = "invalid"
)

// ReplayConfig bundles the gate, eval and stop settings for a replay run.
type ReplayConfig struct {
	GateConfig     gate.GateConfig
	EvalConfig     eval.EvalConfig
	AutoStopCycles int // 0 runs every recorded cycle
}

// DefaultReplayConfig returns X-ray defaults.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		GateConfig:     gate.DefaultGateConfig(),
		EvalConfig:     eval.DefaultEvalConfig(),
		AutoStopCycles: 4,
	}
}

// ForMetric returns the default configuration ordering by metric.
func ForMetric(metric gate.Metric) ReplayConfig {
	cfg := DefaultReplayConfig()
	cfg.GateConfig.Metric = metric
	cfg.EvalConfig.Metric = metric
	return cfg
}

// ReplayResult captures the outcome of replaying one cycle.
type ReplayResult struct {
	Cycle  int
	Action string
	Reason string

	GateDecision *gate.GateDecision // nil if eval failed
	EvalResult   eval.EvalResult

	Stalled   int  // cycles since the last improvement, after this one
	BestCycle int  // best cycle so far, 0 if none
	Stop      bool // the stop checker fires after this cycle
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalCycles int
	Improved    int
	Stalled     int
	Invalid     int
	BestCycle   int // 0 if no cycle produced a usable refinement
	StopCycle   int // 0 if the run used every recorded cycle
	Best        *report.CycleRecord
}

// #endregion types

// #region replay

// Replay walks cycles in order applying eval then the gate against the best
// so far. Like the controller, a cycle that does not strictly improve counts
// towards auto-stop and replay ends at the first cycle that trips it.
func Replay(cycles []report.CycleRecord, config ReplayConfig) []ReplayResult {
	g := gate.NewGate(config.GateConfig)
	h := eval.NewEvalHarness(config.EvalConfig)

	results := make([]ReplayResult, 0, len(cycles))
	var best *steps.RefinementResult
	bestCycle, stalled := 0, 0

	for _, rec := range cycles {
		r := refinementOf(rec)
		res := ReplayResult{Cycle: rec.Cycle, EvalResult: h.Run(r)}

		if !res.EvalResult.Passed {
			stalled++
			res.Action = ActionInvalid
			res.Reason = res.EvalResult.Reason
		} else {
			d := g.Evaluate(r, best, false)
			res.GateDecision = &d
			res.Reason = d.Reason
			if d.Committed() {
				best = &r
				bestCycle = rec.Cycle
				stalled = 0
				res.Action = ActionImproved
			} else {
				stalled++
				res.Action = ActionStalled
			}
		}

		res.Stalled = stalled
		res.BestCycle = bestCycle
		res.Stop = config.AutoStopCycles > 0 && stalled >= config.AutoStopCycles
		results = append(results, res)
		if res.Stop {
			break
		}
	}
	return results
}

// Summarize computes aggregate stats from replay results. cycles is the
// recorded input, used to look up the best record.
func Summarize(results []ReplayResult, cycles []report.CycleRecord) ReplaySummary {
	s := ReplaySummary{TotalCycles: len(results)}
	for _, r := range results {
		switch r.Action {
		case ActionImproved:
			s.Improved++
		case ActionStalled:
			s.Stalled++
		case ActionInvalid:
			s.Invalid++
		}
		if r.Stop {
			s.StopCycle = r.Cycle
		}
		s.BestCycle = r.BestCycle
	}
	for i := range cycles {
		if cycles[i].Cycle == s.BestCycle {
			rec := cycles[i]
			s.Best = &rec
			break
		}
	}
	return s
}

// #endregion replay

// #region sweep

// SweepResult is the replay outcome for one auto_stop_cycles value.
type SweepResult struct {
	AutoStopCycles int
	CyclesRun      int
	StopCycle      int
	BestCycle      int
	BestValue      float64
}

// Sweep replays cycles once per value in stopAfter.
func Sweep(cycles []report.CycleRecord, config ReplayConfig, stopAfter []int) []SweepResult {
	policy := gate.NewPolicy(config.GateConfig.Metric)
	if config.GateConfig.Metric == "" {
		policy = gate.NewPolicy(gate.MetricRFree)
	}
	out := make([]SweepResult, 0, len(stopAfter))
	for _, k := range stopAfter {
		c := config
		c.AutoStopCycles = k
		sum := Summarize(Replay(cycles, c), cycles)
		sr := SweepResult{
			AutoStopCycles: k,
			CyclesRun:      sum.TotalCycles,
			StopCycle:      sum.StopCycle,
			BestCycle:      sum.BestCycle,
		}
		if sum.Best != nil {
			sr.BestValue = policy.Value(refinementOf(*sum.Best))
		}
		out = append(out, sr)
	}
	return out
}

// #endregion sweep

// MetricFor returns the metric a recorded run was ordered by: FSC when no
// cycle carries an R-free, R-free otherwise.
func MetricFor(cycles []report.CycleRecord) gate.Metric {
	for _, c := range cycles {
		if c.RFree != 0 {
			return gate.MetricRFree
		}
	}
	for _, c := range cycles {
		if c.FSC != 0 {
			return gate.MetricFSC
		}
	}
	return gate.MetricRFree
}

func refinementOf(rec report.CycleRecord) steps.RefinementResult {
	return steps.RefinementResult{
		Structure: xtal.Structure{
			Residues: rec.Residues,
			Waters:   rec.Waters,
			Dummies:  rec.Dummies,
		},
		RWork: rec.RWork,
		RFree: rec.RFree,
		FSC:   rec.FSC,
	}
}
