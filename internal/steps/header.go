package steps

import (
	"bufio"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region mtzdump

// Mtzdump reads the header of a reflection file.
type Mtzdump struct {
	Path string
}

func (m Mtzdump) Name() string { return "mtzdump" }

func (m Mtzdump) Prepare(context.Context, *job.Workspace) (job.Spec, error) {
	return job.Spec{
		Program: "mtzdump",
		Args:    []string{"HKLIN", "hklin.mtz"},
		Stdin:   []string{"HEADER", "END"},
		Inputs:  []job.Input{{Name: "hklin.mtz", Source: m.Path}},
	}, nil
}

func (m Mtzdump) Collect(run *job.Run) (HeaderResult, error) {
	out, err := run.ReadStdout()
	if err != nil {
		return HeaderResult{}, err
	}
	h, err := parseMtzdump(out)
	if err != nil {
		return HeaderResult{}, err
	}
	h.Seconds = run.Seconds
	return h, nil
}

// #endregion mtzdump

// #region parse
var (
	reSpaceGroup  = regexp.MustCompile(`Space group = '([^']+)'`)
	reResolution  = regexp.MustCompile(`\(\s*([\d.]+)\s*-\s*([\d.]+)\s*A\s*\)`)
	reReflections = regexp.MustCompile(`Number of Reflections =\s*(\d+)`)
)

func parseMtzdump(out string) (HeaderResult, error) {
	var h HeaderResult
	var labels, types []string

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	next := func() string {
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				return line
			}
		}
		return ""
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "* Cell Dimensions"):
			vals := strings.Fields(next())
			if len(vals) < 6 {
				return HeaderResult{}, job.Malformed("mtzdump", "short cell line")
			}
			f := make([]float64, 6)
			for i := range f {
				v, err := strconv.ParseFloat(vals[i], 64)
				if err != nil {
					return HeaderResult{}, job.Malformed("mtzdump", "cell value %q", vals[i])
				}
				f[i] = v
			}
			h.Cell = xtal.Cell{A: f[0], B: f[1], C: f[2], Alpha: f[3], Beta: f[4], Gamma: f[5]}
		case strings.Contains(line, "Resolution Range"):
			if m := reResolution.FindStringSubmatch(next()); m != nil {
				h.Resolution, _ = strconv.ParseFloat(m[2], 64)
			}
		case strings.Contains(line, "* Column Labels"):
			labels = strings.Fields(next())
		case strings.Contains(line, "* Column Types"):
			types = strings.Fields(next())
		default:
			if m := reSpaceGroup.FindStringSubmatch(line); m != nil {
				h.SpaceGroup = m[1]
			} else if m := reReflections.FindStringSubmatch(line); m != nil {
				h.NReflections, _ = strconv.Atoi(m[1])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return HeaderResult{}, job.Malformed("mtzdump", "read log: %v", err)
	}
	if h.Cell.IsZero() || h.NReflections == 0 {
		return HeaderResult{}, job.Malformed("mtzdump", "no cell or reflection count in log")
	}
	if len(labels) != len(types) {
		return HeaderResult{}, job.Malformed("mtzdump", "%d column labels but %d types", len(labels), len(types))
	}
	for i := range labels {
		h.Columns = append(h.Columns, Column{Label: labels[i], Type: types[i]})
	}
	return h, nil
}

// #endregion parse

// #region labels

// DetectLabels picks default observation, free-R and phase columns from a
// header when the user did not name them. Amplitudes win over intensities,
// Hendrickson-Lattman coefficients over PHI/FOM.
func (h HeaderResult) DetectLabels() (obs, free, phases []string) {
	cols := h.Columns
	for i := 0; i+1 < len(cols); i++ {
		if cols[i].Type == "F" && cols[i+1].Type == "Q" && obs == nil {
			obs = []string{cols[i].Label, cols[i+1].Label}
		}
	}
	if obs == nil {
		for i := 0; i+1 < len(cols); i++ {
			if cols[i].Type == "J" && cols[i+1].Type == "Q" {
				obs = []string{cols[i].Label, cols[i+1].Label}
				break
			}
		}
	}
	for _, c := range cols {
		if c.Type == "I" && strings.Contains(strings.ToUpper(c.Label), "FREE") {
			free = []string{c.Label}
			break
		}
	}
	for i := 0; i+3 < len(cols); i++ {
		if cols[i].Type == "A" && cols[i+1].Type == "A" && cols[i+2].Type == "A" && cols[i+3].Type == "A" {
			return obs, free, []string{cols[i].Label, cols[i+1].Label, cols[i+2].Label, cols[i+3].Label}
		}
	}
	for i := 0; i+1 < len(cols); i++ {
		if cols[i].Type == "P" && cols[i+1].Type == "W" {
			return obs, free, []string{cols[i].Label, cols[i+1].Label}
		}
	}
	return obs, free, nil
}

// #endregion labels
