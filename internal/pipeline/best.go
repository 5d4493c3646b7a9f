package pipeline

import (
	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
)

// Best is the best cycle seen so far and the state behind it.
type Best struct {
	Record report.CycleRecord
	State  state.Current
}

// tracker keeps the best cycle and counts cycles that did not improve on it.
type tracker struct {
	policy  gate.Policy
	best    *Best
	stalled int
}

// observe compares the state at the end of a cycle with the best so far
// using the plain policy ordering. A state without a refinement never
// improves.
func (t *tracker) observe(rec report.CycleRecord, cur state.Current) bool {
	if cur.Refinement == nil || !t.policy.IsBetter(*cur.Refinement, t.reference()) {
		t.stalled++
		return false
	}
	t.best = &Best{Record: rec, State: cur}
	t.stalled = 0
	return true
}

func (t *tracker) reference() *steps.RefinementResult {
	if t.best == nil {
		return nil
	}
	return t.best.State.Refinement
}
