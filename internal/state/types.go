package state

import (
	"time"

	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region current
// Current is the controller's working model and map state. A Current is
// never edited: every accepted step result produces a new value with a new
// VersionID whose ParentID is the value it replaced.
type Current struct {
	VersionID  string                  `json:"version_id"`
	ParentID   string                  `json:"parent_id,omitempty"`
	Structure  xtal.Structure          `json:"structure"`
	Phases     xtal.DataItem           `json:"phases"`
	FPhiBest   xtal.DataItem           `json:"fphi_best"`
	FPhiDiff   xtal.DataItem           `json:"fphi_diff"`
	FPhiCalc   xtal.DataItem           `json:"fphi_calc"`
	Refinement *steps.RefinementResult `json:"refinement,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// HasModel reports whether a structure has been adopted.
func (c Current) HasModel() bool { return !c.Structure.IsZero() }

// #endregion current

// #region version-with-provenance
// VersionWithProvenance pairs a state version with the decision that
// produced it.
type VersionWithProvenance struct {
	Current
	Cycle    int
	Step     string
	Decision string
	Reason   string
}

// #endregion version-with-provenance

// #region job-total
// JobTotal is the cumulative wall time spent in one step.
type JobTotal struct {
	Step    string
	Count   int
	Seconds float64
}

// #endregion job-total
