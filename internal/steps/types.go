// Package steps wraps the external model-building and refinement programs.
// Each wrapper is a job.Step that stages its inputs, builds the program's
// arguments and keywords, and parses the outputs into an immutable result.
package steps

import (
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region results

// Column is one column from a reflection file header.
type Column struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

// HeaderResult is what mtzdump reports about a reflection file.
type HeaderResult struct {
	Cell         xtal.Cell `json:"cell"`
	SpaceGroup   string    `json:"spacegroup"`
	Resolution   float64   `json:"resolution"`
	NReflections int       `json:"nreflections"`
	Columns      []Column  `json:"columns"`
	Seconds      float64   `json:"seconds"`
}

// ConversionResult carries data items rewritten by a conversion step.
type ConversionResult struct {
	Observations xtal.DataItem `json:"observations"`
	FreeR        xtal.DataItem `json:"freer"`
	FPhi         xtal.DataItem `json:"fphi"`
	Seconds      float64       `json:"seconds"`
}

// MergeResult is a single reflection file holding every merged item.
type MergeResult struct {
	Items   []xtal.DataItem `json:"items"`
	Seconds float64         `json:"seconds"`
}

// StructureResult is a model produced by a step that only edits the model.
type StructureResult struct {
	Structure xtal.Structure `json:"structure"`
	Seconds   float64        `json:"seconds"`
}

// BuildResult is the output of an automated building program.
type BuildResult struct {
	Structure     xtal.Structure `json:"structure"`
	ResiduesBuilt int            `json:"residues_built"`
	Fragments     int            `json:"fragments"`
	Seconds       float64        `json:"seconds"`
}

// RefinementResult is a refined model with its map coefficients and
// agreement statistics. RWork and RFree are set in X-ray mode, FSC in EM mode.
type RefinementResult struct {
	Structure xtal.Structure `json:"structure"`
	ABCD      xtal.DataItem  `json:"abcd"`
	FPhiBest  xtal.DataItem  `json:"fphi_best"`
	FPhiDiff  xtal.DataItem  `json:"fphi_diff"`
	FPhiCalc  xtal.DataItem  `json:"fphi_calc"`
	RWork     float64        `json:"r_work,omitempty"`
	RFree     float64        `json:"r_free,omitempty"`
	FSC       float64        `json:"fsc,omitempty"`
	Seconds   float64        `json:"seconds"`
}

// DensityModificationResult carries improved phases and map coefficients.
type DensityModificationResult struct {
	ABCD         xtal.DataItem `json:"abcd"`
	FPhi         xtal.DataItem `json:"fphi"`
	NReflections int           `json:"nreflections"`
	Seconds      float64       `json:"seconds"`
}

// #endregion results

// #region inputs

// RefineInput is what a refinement step needs. EM refinement ignores the
// reflection items and uses the runner's maps instead.
type RefineInput struct {
	Model        xtal.Structure
	Observations xtal.DataItem
	FreeR        xtal.DataItem
	Phases       xtal.DataItem
}

// PhasedInput feeds steps that work on phased reflection data.
type PhasedInput struct {
	Model        xtal.Structure // optional
	Observations xtal.DataItem
	FreeR        xtal.DataItem
	Phases       xtal.DataItem
	FPhi         xtal.DataItem // optional
}

// ModelInput feeds model-editing steps that look at density.
type ModelInput struct {
	Model    xtal.Structure
	FPhiBest xtal.DataItem
	FPhiDiff xtal.DataItem
}

// #endregion inputs
