package update

import "github.com/danielpatrickdp/modelcraft/internal/state"

// #region decision
// Decision records what the transition decided.
type Decision struct {
	Action string // "propose" | "reject"
	Reason string
}

// #endregion decision

// #region metrics
// Metrics summarizes how a transition changed the model.
type Metrics struct {
	ResidueDelta int
	WaterDelta   int
	DummyDelta   int
	FieldsSet    []string // which parts of the state were replaced
}

// #endregion metrics

// #region update-result
// UpdateResult bundles everything returned by a transition.
type UpdateResult struct {
	NewState state.Current
	Decision Decision
	Metrics  Metrics
}

// Proposed reports whether the transition produced a usable state.
func (r UpdateResult) Proposed() bool { return r.Decision.Action == "propose" }

// #endregion update-result
