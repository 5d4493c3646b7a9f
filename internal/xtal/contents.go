package xtal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// #region types

// PolymerType classifies a chain in the expected contents.
type PolymerType string

const (
	PolymerProtein PolymerType = "protein"
	PolymerRNA     PolymerType = "rna"
	PolymerDNA     PolymerType = "dna"
)

// Polymer is one expected chain type with its copy number.
type Polymer struct {
	Sequence      string `json:"sequence" yaml:"sequence"`
	Stoichiometry int    `json:"stoichiometry,omitempty" yaml:"stoichiometry,omitempty"`
}

// Contents describes what is expected in the asymmetric unit.
type Contents struct {
	Copies   int       `json:"copies,omitempty" yaml:"copies,omitempty"`
	Proteins []Polymer `json:"proteins,omitempty" yaml:"proteins,omitempty"`
	RNAs     []Polymer `json:"rnas,omitempty" yaml:"rnas,omitempty"`
	DNAs     []Polymer `json:"dnas,omitempty" yaml:"dnas,omitempty"`
	Ligands  []string  `json:"ligands,omitempty" yaml:"ligands,omitempty"`
	Buffers  []string  `json:"buffers,omitempty" yaml:"buffers,omitempty"`
}

// HasProtein reports whether any protein chain is expected.
func (c Contents) HasProtein() bool { return len(c.Proteins) > 0 }

// HasNucleicAcid reports whether any RNA or DNA chain is expected.
func (c Contents) HasNucleicAcid() bool { return len(c.RNAs)+len(c.DNAs) > 0 }

// #endregion types

// #region load

// LoadContents reads a contents description. JSON and YAML are detected by
// extension (or a leading '{'); anything else is read as a sequence file
// (FASTA, PIR or bare sequences) with each chain's type guessed from its letters.
func LoadContents(path string) (Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Contents{}, fmt.Errorf("read contents: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	trimmed := bytes.TrimSpace(data)
	var c Contents
	switch {
	case ext == ".json" || (ext != ".yaml" && ext != ".yml" && bytes.HasPrefix(trimmed, []byte("{"))):
		if err := json.Unmarshal(data, &c); err != nil {
			return Contents{}, fmt.Errorf("parse contents json: %w", err)
		}
	case ext == ".yaml" || ext == ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Contents{}, fmt.Errorf("parse contents yaml: %w", err)
		}
	default:
		c, err = parseSequences(data)
		if err != nil {
			return Contents{}, err
		}
	}
	if len(c.Proteins)+len(c.RNAs)+len(c.DNAs) == 0 {
		return Contents{}, fmt.Errorf("contents %s: no polymer chains", path)
	}
	return c, nil
}

func parseSequences(data []byte) (Contents, error) {
	var c Contents
	var current strings.Builder
	flush := func() {
		seq := strings.ToUpper(current.String())
		current.Reset()
		seq = strings.TrimSuffix(seq, "*")
		if seq == "" {
			return
		}
		p := Polymer{Sequence: seq, Stoichiometry: 1}
		switch GuessPolymerType(seq) {
		case PolymerRNA:
			c.RNAs = append(c.RNAs, p)
		case PolymerDNA:
			c.DNAs = append(c.DNAs, p)
		default:
			c.Proteins = append(c.Proteins, p)
		}
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	pirTitle := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, ">"):
			flush()
			// PIR headers (">P1;name") are followed by a title line
			pirTitle = len(line) > 3 && line[3] == ';'
		case pirTitle:
			pirTitle = false
		default:
			current.WriteString(strings.Join(strings.Fields(line), ""))
		}
	}
	if err := scanner.Err(); err != nil {
		return Contents{}, fmt.Errorf("read sequences: %w", err)
	}
	flush()
	return c, nil
}

// GuessPolymerType guesses a chain's type from its one-letter codes.
func GuessPolymerType(seq string) PolymerType {
	seq = strings.ToUpper(seq)
	counts := map[rune]int{}
	for _, r := range seq {
		counts[r]++
	}
	nucleic := counts['A'] + counts['C'] + counts['G'] + counts['U'] + counts['T'] + counts['N']
	if len(seq) == 0 || float64(nucleic) < 0.9*float64(len(seq)) {
		return PolymerProtein
	}
	if counts['U'] > counts['T'] {
		return PolymerRNA
	}
	return PolymerDNA
}

// #endregion load

// #region write

// FASTA renders the chains of the given types as a FASTA sequence file, one
// record per copy. Buccaneer and Nautilus read this as -seqin.
func (c Contents) FASTA(types ...PolymerType) []byte {
	var b strings.Builder
	n := 0
	write := func(kind PolymerType, polymers []Polymer) {
		for _, p := range polymers {
			copies := p.Stoichiometry
			if copies < 1 {
				copies = 1
			}
			for i := 0; i < copies; i++ {
				n++
				fmt.Fprintf(&b, ">%s%d\n%s\n", kind, n, p.Sequence)
			}
		}
	}
	for _, t := range types {
		switch t {
		case PolymerProtein:
			write(t, c.Proteins)
		case PolymerRNA:
			write(t, c.RNAs)
		case PolymerDNA:
			write(t, c.DNAs)
		}
	}
	return []byte(b.String())
}

// #endregion write
