package steps

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region pdbset

// Pdbset places a model into the data cell and space group.
type Pdbset struct {
	Model      xtal.Structure
	Cell       xtal.Cell
	SpaceGroup string
}

func (p Pdbset) Name() string { return "pdbset" }

func (p Pdbset) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	if p.Cell.IsZero() || p.SpaceGroup == "" {
		return job.Spec{}, fmt.Errorf("pdbset needs a target cell and space group")
	}
	return job.Spec{
		Program: "pdbset",
		Args:    []string{"XYZIN", "xyzin.pdb", "XYZOUT", "xyzout.pdb"},
		Stdin:   []string{"CELL " + p.Cell.String(), "SPACEGROUP " + p.SpaceGroup, "END"},
		Inputs:  []job.Input{{Name: "xyzin.pdb", Source: p.Model.Path}},
		Outputs: []string{"xyzout.pdb"},
	}, nil
}

func (p Pdbset) Collect(run *job.Run) (StructureResult, error) {
	return collectStructure(run, "xyzout.pdb")
}

// #endregion pdbset

// #region pdbcur

// Pdbcur strips waters and dummy atoms from a model.
type Pdbcur struct {
	Model xtal.Structure
}

func (p Pdbcur) Name() string { return "pdbcur" }

func (p Pdbcur) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	return job.Spec{
		Program: "pdbcur",
		Args:    []string{"XYZIN", "xyzin.pdb", "XYZOUT", "xyzout.pdb"},
		Stdin:   []string{"delsolvent", "delresidue /*/*/(DUM)", "END"},
		Inputs:  []job.Input{{Name: "xyzin.pdb", Source: p.Model.Path}},
		Outputs: []string{"xyzout.pdb"},
	}, nil
}

func (p Pdbcur) Collect(run *job.Run) (StructureResult, error) {
	return collectStructure(run, "xyzout.pdb")
}

// #endregion pdbcur

// #region sheetbend

// Sheetbend applies shift-field refinement to a starting model.
type Sheetbend struct {
	Model        xtal.Structure
	Observations xtal.DataItem
	FreeR        xtal.DataItem
}

func (s Sheetbend) Name() string { return "sheetbend" }

func (s Sheetbend) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	args := []string{"-mtzin", "hklin.mtz", "-colin-fo", colin(s.Observations)}
	if !s.FreeR.IsZero() {
		args = append(args, "-colin-free", colin(s.FreeR))
	}
	args = append(args, "-pdbin", "xyzin.pdb", "-pdbout", "xyzout.pdb", "-cycles", "12", "-resolution-by-cycle", "6,3")
	return job.Spec{
		Program: "csheetbend",
		Args:    args,
		Inputs: []job.Input{
			{Name: "hklin.mtz", Source: s.Observations.Path},
			{Name: "xyzin.pdb", Source: s.Model.Path},
		},
		Outputs: []string{"xyzout.pdb"},
	}, nil
}

func (s Sheetbend) Collect(run *job.Run) (StructureResult, error) {
	return collectStructure(run, "xyzout.pdb")
}

// #endregion sheetbend

// #region coot

// CootTask selects the script Coot runs.
type CootTask string

const (
	CootPrune       CootTask = "prune"
	CootPruneChains CootTask = "prune-chains"
	CootSideChains  CootTask = "side-chains"
)

// Coot edits a model against its density maps with a generated script.
type Coot struct {
	ModelInput
	Task CootTask
}

func (c Coot) Name() string { return "coot-" + string(c.Task) }

func (c Coot) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	if len(c.FPhiBest.Labels) != 2 || len(c.FPhiDiff.Labels) != 2 {
		return job.Spec{}, fmt.Errorf("coot needs best and difference map coefficients")
	}
	body, ok := cootScripts[c.Task]
	if !ok {
		return job.Spec{}, fmt.Errorf("unknown coot task %q", c.Task)
	}
	diffFile := "hklin.mtz"
	inputs := []job.Input{
		{Name: "xyzin.pdb", Source: c.Model.Path},
		{Name: "hklin.mtz", Source: c.FPhiBest.Path},
	}
	if c.FPhiDiff.Path != c.FPhiBest.Path {
		diffFile = "hklin_diff.mtz"
		inputs = append(inputs, job.Input{Name: diffFile, Source: c.FPhiDiff.Path})
	}
	script := fmt.Sprintf(cootHeader,
		c.FPhiBest.Labels[0], c.FPhiBest.Labels[1],
		diffFile, c.FPhiDiff.Labels[0], c.FPhiDiff.Labels[1]) + body + cootFooter
	inputs = append(inputs, job.Input{Name: "script.py", Content: []byte(script)})
	return job.Spec{
		Program: "coot",
		Args:    []string{"--no-graphics", "--no-guano", "--no-state-script", "--script", "script.py"},
		Inputs:  inputs,
		Outputs: []string{"xyzout.pdb"},
	}, nil
}

func (c Coot) Collect(run *job.Run) (StructureResult, error) {
	return collectStructure(run, "xyzout.pdb")
}

const cootHeader = `imol = read_pdb("xyzin.pdb")
imol_map = make_and_draw_map("hklin.mtz", "%s", "%s", "", 0, 0)
imol_diff = make_and_draw_map("%s", "%s", "%s", "", 0, 1)
set_imol_refinement_map(imol_map)
`

const cootFooter = `write_pdb_file(imol, "xyzout.pdb")
coot_real_exit(0)
`

var cootScripts = map[CootTask]string{
	CootPrune: `for chain_id in chain_ids(imol):
    specs = [[chain_id, resno, ""] for resno in residue_numbers(imol, chain_id)]
    scores = map_to_model_correlation_per_residue(imol, specs, 0, imol_map)
    for spec, score in scores:
        if score < 0.5:
            delete_residue(imol, spec[0], spec[1], spec[2])
`,
	CootPruneChains: `for chain_id in chain_ids(imol):
    specs = [[chain_id, resno, ""] for resno in residue_numbers(imol, chain_id)]
    scores = [score for _, score in map_to_model_correlation_per_residue(imol, specs, 0, imol_map)]
    if scores and sum(scores) / len(scores) < 0.5:
        delete_chain(imol, chain_id)
`,
	CootSideChains: `fill_partial_residues(imol)
for chain_id in chain_ids(imol):
    for resno in residue_numbers(imol, chain_id):
        auto_fit_best_rotamer(resno, "", "", chain_id, imol, imol_map, 1, 0.1)
`,
}

// #endregion coot

// #region findwaters

// FindWaters picks waters (or, with Dummies, unrestrained dummy atoms) from
// the best map and appends them to the model.
type FindWaters struct {
	Model    xtal.Structure
	FPhiBest xtal.DataItem
	Dummies  bool
}

func (f FindWaters) Name() string {
	if f.Dummies {
		return "findwaters-dummies"
	}
	return "findwaters"
}

func (f FindWaters) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	if len(f.FPhiBest.Labels) != 2 {
		return job.Spec{}, fmt.Errorf("findwaters needs best map coefficients")
	}
	args := []string{
		"--pdbin", "xyzin.pdb", "--hklin", "hklin.mtz",
		"--f", f.FPhiBest.Labels[0], "--phi", f.FPhiBest.Labels[1],
		"--pdbout", "waters.pdb",
	}
	if f.Dummies {
		args = append(args, "--flood", "--flood-atom-radius", "1.4")
	}
	return job.Spec{
		Program: "findwaters",
		Args:    args,
		Inputs: []job.Input{
			{Name: "xyzin.pdb", Source: f.Model.Path},
			{Name: "hklin.mtz", Source: f.FPhiBest.Path},
		},
		Outputs: []string{"waters.pdb"},
	}, nil
}

func (f FindWaters) Collect(run *job.Run) (StructureResult, error) {
	if err := appendAtoms(run.Path("xyzin.pdb"), run.Path("waters.pdb"), run.Path("xyzout.pdb"), f.Dummies); err != nil {
		return StructureResult{}, fmt.Errorf("merge waters: %w", err)
	}
	return collectStructure(run, "xyzout.pdb")
}

// appendAtoms writes model followed by the atoms of extra to out. With
// dummies the extra atoms are renamed to DUM residues.
func appendAtoms(model, extra, out string, dummies bool) error {
	var b strings.Builder
	if err := eachLine(model, func(line string) {
		if isTerminal(line) {
			return
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}); err != nil {
		return err
	}
	if err := eachLine(extra, func(line string) {
		if !strings.HasPrefix(line, "ATOM") && !strings.HasPrefix(line, "HETATM") {
			return
		}
		if dummies && len(line) >= 20 {
			line = "HETATM" + line[6:17] + "DUM" + line[20:]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}); err != nil {
		return err
	}
	b.WriteString("END\n")
	return os.WriteFile(out, []byte(b.String()), 0o644)
}

func isTerminal(line string) bool {
	for _, p := range []string{"END", "MASTER", "CONECT"} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func eachLine(path string, fn func(string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	return scanner.Err()
}

// #endregion findwaters

func collectStructure(run *job.Run, name string) (StructureResult, error) {
	s, err := keepStructure(run, name)
	if err != nil {
		return StructureResult{}, err
	}
	return StructureResult{Structure: s, Seconds: run.Seconds}, nil
}
