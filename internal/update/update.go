// Package update holds the pure state transitions. Each function takes the
// current state and one step result and returns a new state; nothing here
// touches disk or the store.
package update

import (
	"time"

	"github.com/danielpatrickdp/modelcraft/internal/state"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
	"github.com/google/uuid"
)

// #region transitions

// FromRefinement replaces the structure, phases and all three map
// coefficient sets with a refinement's outputs. EM refinement has no ABCD,
// in which case the prior phases are kept.
func FromRefinement(old state.Current, r steps.RefinementResult) UpdateResult {
	next := derive(old)
	next.Structure = r.Structure
	if !r.ABCD.IsZero() {
		next.Phases = r.ABCD
	}
	next.FPhiBest, next.FPhiDiff, next.FPhiCalc = r.FPhiBest, r.FPhiDiff, r.FPhiCalc
	ref := r
	next.Refinement = &ref
	return result(old, next, "refined", []string{"structure", "phases", "fphi_best", "fphi_diff", "fphi_calc", "refinement"})
}

// FromDensityModification adopts improved phases and best map coefficients.
// The model and the refinement behind it are unchanged.
func FromDensityModification(old state.Current, dm steps.DensityModificationResult) UpdateResult {
	next := derive(old)
	next.Phases = dm.ABCD
	next.FPhiBest = dm.FPhi
	return result(old, next, "density modified", []string{"phases", "fphi_best"})
}

// FromInput adopts phases or map coefficients supplied with the input data.
// Zero items leave the corresponding part of the state unchanged.
func FromInput(old state.Current, phases, fphi xtal.DataItem) UpdateResult {
	next := derive(old)
	var fields []string
	if !phases.IsZero() {
		next.Phases = phases
		fields = append(fields, "phases")
	}
	if !fphi.IsZero() {
		next.FPhiBest = fphi
		fields = append(fields, "fphi_best")
	}
	return result(old, next, "input data", fields)
}

// FromBuild adopts a built model. A build with no residues is rejected.
func FromBuild(old state.Current, b steps.BuildResult) UpdateResult {
	if b.ResiduesBuilt == 0 {
		return UpdateResult{
			NewState: old,
			Decision: Decision{Action: "reject", Reason: "no residues built"},
		}
	}
	return fromStructure(old, b.Structure, "built")
}

// FromStructure adopts an edited model (pruned, solvent changed, side
// chains fixed). Map coefficients are kept until the next refinement.
func FromStructure(old state.Current, s steps.StructureResult) UpdateResult {
	return fromStructure(old, s.Structure, "model edited")
}

func fromStructure(old state.Current, s xtal.Structure, reason string) UpdateResult {
	next := derive(old)
	next.Structure = s
	return result(old, next, reason, []string{"structure"})
}

// #endregion transitions

// #region helpers
func derive(old state.Current) state.Current {
	next := old
	next.VersionID = uuid.NewString()
	next.ParentID = old.VersionID
	next.CreatedAt = time.Now().UTC()
	return next
}

func result(old, next state.Current, reason string, fields []string) UpdateResult {
	return UpdateResult{
		NewState: next,
		Decision: Decision{Action: "propose", Reason: reason},
		Metrics: Metrics{
			ResidueDelta: next.Structure.Residues - old.Structure.Residues,
			WaterDelta:   next.Structure.Waters - old.Structure.Waters,
			DummyDelta:   next.Structure.Dummies - old.Structure.Dummies,
			FieldsSet:    fields,
		},
	}
}

// #endregion helpers
