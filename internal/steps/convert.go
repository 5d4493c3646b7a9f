package steps

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// colin renders a clipper column path for one item.
func colin(item xtal.DataItem) string {
	return "/*/*/[" + item.Label() + "]"
}

// kept moves an output into the workspace and re-labels it for role.
func kept(run *job.Run, name string, role xtal.Role, labels ...string) (xtal.DataItem, string, error) {
	path, err := run.Keep(name)
	if err != nil {
		return xtal.DataItem{}, "", err
	}
	return xtal.DataItem{Path: path, Role: role, Labels: labels}, path, nil
}

// #region ctruncate

// Ctruncate converts intensities to mean amplitudes, carrying the free-R
// flag across when it lives in the same file.
type Ctruncate struct {
	Observations xtal.DataItem
	FreeR        xtal.DataItem
}

func (c Ctruncate) Name() string { return "ctruncate" }

func (c Ctruncate) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	if !c.Observations.IsIntensity() {
		return job.Spec{}, fmt.Errorf("observations %s are not intensities", c.Observations.Label())
	}
	args := []string{"-hklin", "hklin.mtz", "-colin", colin(c.Observations), "-hklout", "hklout.mtz"}
	if c.carriesFree() {
		args = append(args, "-freein", colin(c.FreeR))
	}
	return job.Spec{
		Program: "ctruncate",
		Args:    args,
		Inputs:  []job.Input{{Name: "hklin.mtz", Source: c.Observations.Path}},
		Outputs: []string{"hklout.mtz"},
	}, nil
}

func (c Ctruncate) carriesFree() bool {
	return !c.FreeR.IsZero() && c.FreeR.Path == c.Observations.Path
}

func (c Ctruncate) Collect(run *job.Run) (ConversionResult, error) {
	obs, path, err := kept(run, "hklout.mtz", xtal.RoleObservations, "FMEAN", "SIGFMEAN")
	if err != nil {
		return ConversionResult{}, err
	}
	free := c.FreeR
	if c.carriesFree() {
		free = xtal.DataItem{Path: path, Role: xtal.RoleFreeR, Labels: c.FreeR.Labels}
	}
	return ConversionResult{Observations: obs, FreeR: free, Seconds: run.Seconds}, nil
}

// #endregion ctruncate

// #region cad

// Cad merges items spread over several reflection files into one file.
// Clashing labels get a numeric suffix.
type Cad struct {
	Items []xtal.DataItem
}

func (c Cad) Name() string { return "cad" }

func (c Cad) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	files, relabeled := c.layout()
	var spec job.Spec
	spec.Program = "cad"
	for i, path := range files {
		name := fmt.Sprintf("hklin%d.mtz", i+1)
		spec.Args = append(spec.Args, fmt.Sprintf("HKLIN%d", i+1), name)
		spec.Inputs = append(spec.Inputs, job.Input{Name: name, Source: path})
	}
	spec.Args = append(spec.Args, "HKLOUT", "hklout.mtz")

	for i, path := range files {
		labin := fmt.Sprintf("LABIN FILE %d", i+1)
		labout := fmt.Sprintf("LABOUT FILE %d", i+1)
		n := 0
		for j, item := range c.Items {
			if item.Path != path {
				continue
			}
			for k, label := range item.Labels {
				n++
				labin += fmt.Sprintf(" E%d=%s", n, label)
				labout += fmt.Sprintf(" E%d=%s", n, relabeled[j].Labels[k])
			}
		}
		spec.Stdin = append(spec.Stdin, labin, labout)
	}
	spec.Stdin = append(spec.Stdin, "END")
	spec.Outputs = []string{"hklout.mtz"}
	return spec, nil
}

// layout returns the distinct input files in first-seen order and the items
// with the labels they will have in the merged file.
func (c Cad) layout() ([]string, []xtal.DataItem) {
	var files []string
	seenFile := map[string]bool{}
	seenLabel := map[string]int{}
	out := make([]xtal.DataItem, len(c.Items))
	for i, item := range c.Items {
		if !seenFile[item.Path] {
			seenFile[item.Path] = true
			files = append(files, item.Path)
		}
		labels := make([]string, len(item.Labels))
		for k, l := range item.Labels {
			seenLabel[l]++
			if seenLabel[l] > 1 {
				l = l + "_" + strconv.Itoa(seenLabel[l])
			}
			labels[k] = l
		}
		out[i] = xtal.DataItem{Role: item.Role, Labels: labels}
	}
	return files, out
}

func (c Cad) Collect(run *job.Run) (MergeResult, error) {
	path, err := run.Keep("hklout.mtz")
	if err != nil {
		return MergeResult{}, err
	}
	_, items := c.layout()
	for i := range items {
		items[i].Path = path
	}
	return MergeResult{Items: items, Seconds: run.Seconds}, nil
}

// #endregion cad

// #region map2sf

// Map2sf turns a cryo-EM map into structure factors truncated at Resolution.
type Map2sf struct {
	Map        string
	Resolution float64
}

func (m Map2sf) Name() string { return "map2sf" }

func (m Map2sf) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	if m.Resolution <= 0 {
		return job.Spec{}, fmt.Errorf("map2sf needs a positive resolution")
	}
	return job.Spec{
		Program: "gemmi",
		Args: []string{"map2sf", "map.mrc", "hklout.mtz", "FWT", "PHWT",
			"--dmin=" + strconv.FormatFloat(m.Resolution, 'f', -1, 64), "--sigma=1.0"},
		Inputs:  []job.Input{{Name: "map.mrc", Source: m.Map}},
		Outputs: []string{"hklout.mtz"},
	}, nil
}

func (m Map2sf) Collect(run *job.Run) (ConversionResult, error) {
	obs, path, err := kept(run, "hklout.mtz", xtal.RoleObservations, "FWT", "SIGFWT")
	if err != nil {
		return ConversionResult{}, err
	}
	return ConversionResult{
		Observations: obs,
		FPhi:         xtal.DataItem{Path: path, Role: xtal.RoleFPhi, Labels: []string{"FWT", "PHWT"}},
		Seconds:      run.Seconds,
	}, nil
}

// #endregion map2sf
