package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
)

// #region eval-harness
// EvalHarness checks that a refinement result's statistics are usable before
// the gate compares them.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates r. The free-R gap check is informational only.
func (h *EvalHarness) Run(r steps.RefinementResult) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	check := func(name string, v, lo, hi float64) {
		pass := !math.IsNaN(v) && v >= lo && v <= hi
		metrics = append(metrics, EvalMetric{Name: name, Value: v, Pass: pass})
		if !pass {
			failReasons = append(failReasons, fmt.Sprintf("%s %v outside [%g, %g]", name, v, lo, hi))
		}
	}

	if h.config.Metric == gate.MetricFSC {
		check("fsc", r.FSC, -1, 1)
	} else {
		check("r_work", r.RWork, 0, h.config.MaxR)
		check("r_free", r.RFree, 0, h.config.MaxR)

		gap := r.RFree - r.RWork
		metrics = append(metrics, EvalMetric{
			Name:  "r_free_gap",
			Value: gap,
			Pass:  gap <= h.config.MaxFreeGap,
		})
	}

	reason := "all checks passed"
	if len(failReasons) > 0 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}
	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// Err returns nil for a passing result and an ErrMalformedOutput for a
// failing one.
func (res EvalResult) Err(step string) error {
	if res.Passed {
		return nil
	}
	return job.Malformed(step, "%s", res.Reason)
}

// #endregion eval-harness
