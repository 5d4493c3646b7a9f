package steps

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// Parrot improves phases by density modification. Every item must live in
// one reflection file.
type Parrot struct {
	PhasedInput
}

func (p Parrot) Name() string { return "parrot" }

func (p Parrot) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	if p.Observations.IsZero() {
		return job.Spec{}, fmt.Errorf("parrot needs observations")
	}
	args := []string{"-mtzin", "hklin.mtz", "-colin-fo", colin(p.Observations)}
	if !p.FreeR.IsZero() {
		args = append(args, "-colin-free", colin(p.FreeR))
	}
	switch len(p.Phases.Labels) {
	case 4:
		args = append(args, "-colin-hl", colin(p.Phases))
	case 2:
		args = append(args, "-colin-phifom", colin(p.Phases))
	default:
		return job.Spec{}, fmt.Errorf("parrot needs HL or PHI/FOM phases, got %q", p.Phases.Label())
	}
	if !p.FPhi.IsZero() {
		args = append(args, "-colin-fc", colin(p.FPhi))
	}
	inputs := []job.Input{{Name: "hklin.mtz", Source: p.Observations.Path}}
	if !p.Model.IsZero() {
		args = append(args, "-pdbin-mr", "xyzin.pdb")
		inputs = append(inputs, job.Input{Name: "xyzin.pdb", Source: p.Model.Path})
	}
	args = append(args, "-mtzout", "hklout.mtz", "-cycles", "3", "-anisotropy-correction")
	return job.Spec{
		Program: "cparrot",
		Args:    args,
		Inputs:  inputs,
		Outputs: []string{"hklout.mtz"},
	}, nil
}

// Collect leaves NReflections unset; the Runner reads it from the output
// header.
func (p Parrot) Collect(run *job.Run) (DensityModificationResult, error) {
	mtz, err := run.Keep("hklout.mtz")
	if err != nil {
		return DensityModificationResult{}, err
	}
	return DensityModificationResult{
		ABCD: xtal.DataItem{Path: mtz, Role: xtal.RolePhases,
			Labels: []string{"parrot.ABCD.A", "parrot.ABCD.B", "parrot.ABCD.C", "parrot.ABCD.D"}},
		FPhi:    xtal.DataItem{Path: mtz, Role: xtal.RoleFPhi, Labels: []string{"parrot.F_phi.F", "parrot.F_phi.phi"}},
		Seconds: run.Seconds,
	}, nil
}
