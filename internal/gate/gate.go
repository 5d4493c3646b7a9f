package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/modelcraft/internal/steps"
)

// #region policy
// Policy orders refinement results by a single metric.
type Policy struct {
	metric Metric
}

// NewPolicy returns a policy for metric.
func NewPolicy(metric Metric) Policy {
	return Policy{metric: metric}
}

// Metric returns the statistic the policy compares.
func (p Policy) Metric() Metric { return p.metric }

// Value returns the compared statistic of r.
func (p Policy) Value(r steps.RefinementResult) float64 {
	if p.metric == MetricFSC {
		return r.FSC
	}
	return r.RFree
}

// IsBetter reports whether candidate strictly improves on reference. A nil
// reference is always improved on.
func (p Policy) IsBetter(candidate steps.RefinementResult, reference *steps.RefinementResult) bool {
	if reference == nil {
		return true
	}
	if p.metric == MetricFSC {
		return candidate.FSC > reference.FSC
	}
	return candidate.RFree < reference.RFree
}

// #endregion policy

// #region gate
// Gate decides whether a refinement result replaces the current state.
type Gate struct {
	policy Policy
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	metric := config.Metric
	if metric == "" {
		metric = MetricRFree
	}
	return &Gate{policy: NewPolicy(metric)}
}

// Policy returns the ordering the gate applies.
func (g *Gate) Policy() Policy { return g.policy }

// Evaluate checks hard vetoes first, then either auto-accepts or applies the
// policy against reference (the result behind the current state, nil if none).
func (g *Gate) Evaluate(candidate steps.RefinementResult, reference *steps.RefinementResult, autoAccept bool) GateDecision {
	var vetoes []VetoSignal

	if candidate.Structure.Residues == 0 {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoZeroResidues,
			Reason: "refined model has no residues",
		})
	}
	if v := g.policy.Value(candidate); math.IsNaN(v) || math.IsInf(v, 0) {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoBadMetric,
			Reason: fmt.Sprintf("%s is %v", g.policy.metric, v),
		})
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      "reject",
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
		}
	}

	if autoAccept {
		return GateDecision{
			Action:       "commit",
			Reason:       fmt.Sprintf("auto-accepted: %s=%.4f", g.policy.metric, g.policy.Value(candidate)),
			AutoAccepted: true,
		}
	}

	if g.policy.IsBetter(candidate, reference) {
		reason := fmt.Sprintf("first result: %s=%.4f", g.policy.metric, g.policy.Value(candidate))
		if reference != nil {
			reason = fmt.Sprintf("improved %s %.4f -> %.4f", g.policy.metric, g.policy.Value(*reference), g.policy.Value(candidate))
		}
		return GateDecision{Action: "commit", Reason: reason}
	}
	return GateDecision{
		Action: "reject",
		Reason: fmt.Sprintf("%s %.4f does not improve on %.4f", g.policy.metric, g.policy.Value(candidate), g.policy.Value(*reference)),
	}
}

// #endregion gate
