package eval

import "github.com/danielpatrickdp/modelcraft/internal/gate"

// #region eval-config
// EvalConfig holds bounds for refinement result sanity checks.
type EvalConfig struct {
	Metric     gate.Metric
	MaxR       float64 // R-work and R-free must lie in [0, MaxR]
	MaxFreeGap float64 // warn if R-free exceeds R-work by more than this
}

// DefaultEvalConfig returns bounds for X-ray refinement.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Metric:     gate.MetricRFree,
		MaxR:       1.0,
		MaxFreeGap: 0.1,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of result validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
