package steps

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region refmac

// Refmac refines a model against reflection data. All items must live in
// one reflection file; the Runner merges them first when they do not.
type Refmac struct {
	Model        xtal.Structure
	Observations xtal.DataItem
	FreeR        xtal.DataItem
	Phases       xtal.DataItem
	Cycles       int
	Twinned      bool
}

func (r Refmac) Name() string { return "refmac" }

func (r Refmac) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	if r.Model.Residues == 0 {
		return job.Spec{}, ErrZeroResidueRefinement
	}
	labin, err := r.labin()
	if err != nil {
		return job.Spec{}, err
	}
	cycles := r.Cycles
	if cycles < 1 {
		cycles = 10
	}
	stdin := []string{
		labin,
		"NCYCLES " + strconv.Itoa(cycles),
		"WEIGHT AUTO",
		"MAKE HYDR NO",
		"MAKE NEWLIGAND NOEXIT",
		"PHOUT",
		"PNAME modelcraft",
		"DNAME modelcraft",
	}
	if r.Twinned {
		stdin = append(stdin, "TWIN")
	}
	stdin = append(stdin, "END")
	return job.Spec{
		Program: "refmacat",
		Args:    []string{"HKLIN", "hklin.mtz", "XYZIN", "xyzin.pdb", "HKLOUT", "hklout.mtz", "XYZOUT", "xyzout.pdb"},
		Stdin:   stdin,
		Inputs: []job.Input{
			{Name: "hklin.mtz", Source: r.Observations.Path},
			{Name: "xyzin.pdb", Source: r.Model.Path},
		},
		Outputs: []string{"hklout.mtz", "xyzout.pdb"},
	}, nil
}

func (r Refmac) labin() (string, error) {
	obs := r.Observations.Labels
	if len(obs) != 2 {
		return "", fmt.Errorf("refmac needs two observation labels, got %q", r.Observations.Label())
	}
	var b strings.Builder
	if r.Observations.IsIntensity() {
		fmt.Fprintf(&b, "LABIN IP=%s SIGIP=%s", obs[0], obs[1])
	} else {
		fmt.Fprintf(&b, "LABIN FP=%s SIGFP=%s", obs[0], obs[1])
	}
	if len(r.FreeR.Labels) == 1 {
		fmt.Fprintf(&b, " FREE=%s", r.FreeR.Labels[0])
	}
	switch ph := r.Phases.Labels; len(ph) {
	case 0:
	case 2:
		fmt.Fprintf(&b, " PHIB=%s FOM=%s", ph[0], ph[1])
	case 4:
		fmt.Fprintf(&b, " HLA=%s HLB=%s HLC=%s HLD=%s", ph[0], ph[1], ph[2], ph[3])
	default:
		return "", fmt.Errorf("refmac cannot use phase labels %q", r.Phases.Label())
	}
	return b.String(), nil
}

func (r Refmac) Collect(run *job.Run) (RefinementResult, error) {
	out, err := run.ReadStdout()
	if err != nil {
		return RefinementResult{}, err
	}
	rwork, rfree, err := parseRefmacStats(out)
	if err != nil {
		return RefinementResult{}, err
	}
	structure, err := keepStructure(run, "xyzout.pdb")
	if err != nil {
		return RefinementResult{}, err
	}
	mtz, err := run.Keep("hklout.mtz")
	if err != nil {
		return RefinementResult{}, err
	}
	return RefinementResult{
		Structure: structure,
		ABCD:      xtal.DataItem{Path: mtz, Role: xtal.RolePhases, Labels: []string{"HLACOMB", "HLBCOMB", "HLCCOMB", "HLDCOMB"}},
		FPhiBest:  xtal.DataItem{Path: mtz, Role: xtal.RoleFPhi, Labels: []string{"FWT", "PHWT"}},
		FPhiDiff:  xtal.DataItem{Path: mtz, Role: xtal.RoleFPhi, Labels: []string{"DELFWT", "PHDELWT"}},
		FPhiCalc:  xtal.DataItem{Path: mtz, Role: xtal.RoleFPhi, Labels: []string{"FC_ALL", "PHIC_ALL"}},
		RWork:     rwork,
		RFree:     rfree,
		Seconds:   run.Seconds,
	}, nil
}

// parseRefmacStats reads the final column of the last "R factor" and
// "R free" summary lines.
func parseRefmacStats(out string) (rwork, rfree float64, err error) {
	var haveWork, haveFree bool
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var target *float64
		var flag *bool
		switch {
		case strings.HasPrefix(line, "R factor"):
			target, flag = &rwork, &haveWork
		case strings.HasPrefix(line, "R free"):
			target, flag = &rfree, &haveFree
		default:
			continue
		}
		fields := strings.Fields(line)
		v, perr := strconv.ParseFloat(fields[len(fields)-1], 64)
		if perr != nil {
			continue
		}
		*target, *flag = v, true
	}
	if !haveWork || !haveFree {
		return 0, 0, job.Malformed("refmac", "no final R factor / R free in log")
	}
	return rwork, rfree, nil
}

// #endregion refmac

// #region servalcat

// Servalcat refines a model against a cryo-EM map or a pair of half maps.
type Servalcat struct {
	Model      xtal.Structure
	Maps       []string
	Mask       string
	Resolution float64
	Blur       float64
	Cycles     int
}

func (s Servalcat) Name() string { return "servalcat" }

func (s Servalcat) Prepare(_ context.Context, ws *job.Workspace) (job.Spec, error) {
	if s.Model.Residues == 0 {
		return job.Spec{}, ErrZeroResidueRefinement
	}
	if s.Resolution <= 0 {
		return job.Spec{}, fmt.Errorf("servalcat needs a positive resolution")
	}
	spec := job.Spec{
		Program: "servalcat",
		Inputs:  []job.Input{{Name: "xyzin.pdb", Source: s.Model.Path}},
		Outputs: []string{"refined.pdb", "refined_diffmap.mtz", "refined_stats.json"},
	}
	args := []string{"refine_spa", "--model", "xyzin.pdb"}
	switch len(s.Maps) {
	case 1:
		args = append(args, "--map", "map1.mrc")
		spec.Inputs = append(spec.Inputs, job.Input{Name: "map1.mrc", Source: s.Maps[0]})
	case 2:
		args = append(args, "--halfmaps", "map1.mrc", "map2.mrc")
		spec.Inputs = append(spec.Inputs,
			job.Input{Name: "map1.mrc", Source: s.Maps[0]},
			job.Input{Name: "map2.mrc", Source: s.Maps[1]})
	default:
		return job.Spec{}, fmt.Errorf("servalcat takes one map or two half maps, got %d", len(s.Maps))
	}
	if s.Mask != "" {
		args = append(args, "--mask", "mask.mrc")
		spec.Inputs = append(spec.Inputs, job.Input{Name: "mask.mrc", Source: s.Mask})
	}
	cycles := s.Cycles
	if cycles < 1 {
		cycles = 5
	}
	threads := 1
	if ws != nil {
		threads = ws.Threads()
	}
	args = append(args,
		"--resolution", strconv.FormatFloat(s.Resolution, 'f', -1, 64),
		"--ncycle", strconv.Itoa(cycles),
		"--output_prefix", "refined",
	)
	if s.Blur != 0 {
		args = append(args, "--blur", strconv.FormatFloat(s.Blur, 'f', -1, 64))
	}
	if threads > 1 {
		args = append(args, "--jobs", strconv.Itoa(threads))
	}
	spec.Args = args
	return spec, nil
}

type servalcatCycle struct {
	Cycle int `json:"cycle"`
	Data  struct {
		Summary struct {
			FSCAverage *float64 `json:"FSCaverage"`
		} `json:"summary"`
	} `json:"data"`
}

func (s Servalcat) Collect(run *job.Run) (RefinementResult, error) {
	raw, err := os.ReadFile(run.Path("refined_stats.json"))
	if err != nil {
		return RefinementResult{}, err
	}
	var cycles []servalcatCycle
	if err := json.Unmarshal(raw, &cycles); err != nil {
		return RefinementResult{}, job.Malformed("servalcat", "stats json: %v", err)
	}
	if len(cycles) == 0 || cycles[len(cycles)-1].Data.Summary.FSCAverage == nil {
		return RefinementResult{}, job.Malformed("servalcat", "no FSCaverage in final cycle")
	}
	fsc := *cycles[len(cycles)-1].Data.Summary.FSCAverage

	structure, err := keepStructure(run, "refined.pdb")
	if err != nil {
		return RefinementResult{}, err
	}
	mtz, err := run.Keep("refined_diffmap.mtz")
	if err != nil {
		return RefinementResult{}, err
	}
	return RefinementResult{
		Structure: structure,
		FPhiBest:  xtal.DataItem{Path: mtz, Role: xtal.RoleFPhi, Labels: []string{"FWT", "PHWT"}},
		FPhiDiff:  xtal.DataItem{Path: mtz, Role: xtal.RoleFPhi, Labels: []string{"DELFWT", "PHDELWT"}},
		FPhiCalc:  xtal.DataItem{Path: mtz, Role: xtal.RoleFPhi, Labels: []string{"FC", "PHIC"}},
		FSC:       fsc,
		Seconds:   run.Seconds,
	}, nil
}

// #endregion servalcat

// keepStructure keeps a model output and reads its counts.
func keepStructure(run *job.Run, name string) (xtal.Structure, error) {
	path, err := run.Keep(name)
	if err != nil {
		return xtal.Structure{}, err
	}
	s, err := xtal.ReadStructure(path)
	if err != nil {
		return xtal.Structure{}, fmt.Errorf("%s: %w: %v", run.Name, job.ErrMalformedOutput, err)
	}
	return s, nil
}
