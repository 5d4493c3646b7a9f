package gate

// #region metric
// Metric names the statistic refinement results are ordered by.
type Metric string

const (
	MetricRFree Metric = "r_free" // lower is better
	MetricFSC   Metric = "fsc"    // higher is better
)

// #endregion metric

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoZeroResidues VetoType = "zero_residues"
	VetoBadMetric    VetoType = "bad_metric"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig selects the ordering the gate applies.
type GateConfig struct {
	Metric Metric
}

// DefaultGateConfig orders by R-free.
func DefaultGateConfig() GateConfig {
	return GateConfig{Metric: MetricRFree}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action       string // "commit" | "reject"
	Reason       string
	Vetoed       bool
	VetoSignals  []VetoSignal // non-empty if vetoed
	AutoAccepted bool
}

// Committed reports whether the candidate should replace the current state.
func (d GateDecision) Committed() bool { return d.Action == "commit" }

// #endregion gate-decision
