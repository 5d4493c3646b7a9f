package steps

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// BuildKind selects the building program.
type BuildKind string

const (
	BuildProtein     BuildKind = "buccaneer"
	BuildNucleicAcid BuildKind = "nautilus"
)

const (
	buccaneerCycles = 2
	nautilusCycles  = 3
)

var reFragments = regexp.MustCompile(`(\d+) residues were built in\s+(\d+) fragments`)

// Builder runs Buccaneer (protein) or Nautilus (nucleic acid). Every item
// must live in one reflection file.
type Builder struct {
	PhasedInput
	Kind     BuildKind
	Contents xtal.Contents
	EM       bool
}

func (b Builder) Name() string { return string(b.Kind) }

func (b Builder) Prepare(_ context.Context, ws *job.Workspace) (job.Spec, error) {
	var program string
	var seq []byte
	var cycles int
	switch b.Kind {
	case BuildProtein:
		program, cycles = "cbuccaneer", buccaneerCycles
		seq = b.Contents.FASTA(xtal.PolymerProtein)
	case BuildNucleicAcid:
		program, cycles = "cnautilus", nautilusCycles
		seq = b.Contents.FASTA(xtal.PolymerRNA, xtal.PolymerDNA)
	default:
		return job.Spec{}, fmt.Errorf("unknown build kind %q", b.Kind)
	}
	if len(seq) == 0 {
		return job.Spec{}, fmt.Errorf("%s: contents have no matching chains", b.Kind)
	}

	args := []string{"-seqin", "seqin.seq", "-mtzin", "hklin.mtz", "-colin-fo", colin(b.Observations)}
	if !b.FreeR.IsZero() {
		args = append(args, "-colin-free", colin(b.FreeR))
	}
	switch len(b.Phases.Labels) {
	case 0:
	case 4:
		args = append(args, "-colin-hl", colin(b.Phases))
	case 2:
		args = append(args, "-colin-phifom", colin(b.Phases))
	default:
		return job.Spec{}, fmt.Errorf("%s cannot use phase labels %q", b.Kind, b.Phases.Label())
	}
	if !b.FPhi.IsZero() {
		args = append(args, "-colin-fc", colin(b.FPhi))
	}
	if b.Phases.IsZero() && b.FPhi.IsZero() {
		return job.Spec{}, fmt.Errorf("%s needs phases or map coefficients", b.Kind)
	}
	inputs := []job.Input{
		{Name: "seqin.seq", Content: seq},
		{Name: "hklin.mtz", Source: b.Observations.Path},
	}
	if !b.Model.IsZero() {
		args = append(args, "-pdbin", "xyzin.pdb")
		inputs = append(inputs, job.Input{Name: "xyzin.pdb", Source: b.Model.Path})
		if b.Kind == BuildProtein {
			args = append(args, "-model-filter", "-mr-model", "-mr-model-seed")
		}
	}
	args = append(args, "-pdbout", "xyzout.pdb", "-cycles", strconv.Itoa(cycles))
	if b.Kind == BuildProtein {
		args = append(args, "-correlation-mode", "-anisotropy-correction")
		if b.EM {
			args = append(args, "-em")
		}
		if ws != nil && ws.Threads() > 1 {
			args = append(args, "-jobs", strconv.Itoa(ws.Threads()))
		}
	}
	return job.Spec{Program: program, Args: args, Inputs: inputs, Outputs: []string{"xyzout.pdb"}}, nil
}

func (b Builder) Collect(run *job.Run) (BuildResult, error) {
	structure, err := keepStructure(run, "xyzout.pdb")
	if err != nil {
		return BuildResult{}, err
	}
	res := BuildResult{Structure: structure, ResiduesBuilt: structure.Residues, Seconds: run.Seconds}
	if out, err := run.ReadStdout(); err == nil {
		if m := reFragments.FindAllStringSubmatch(out, -1); len(m) > 0 {
			res.Fragments, _ = strconv.Atoi(m[len(m)-1][2])
		}
	}
	return res, nil
}
