package xtal

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// #region detect

func isMMCIF(path string, br *bufio.Reader) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cif", ".mmcif":
		return true
	case ".pdb", ".ent":
		return false
	}
	// Peek reports a short read at EOF; the bytes it has are still usable.
	head, _ := br.Peek(512)
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.HasPrefix(line, "data_")
	}
	return false
}

// #endregion detect

// #region scan

var cellTags = map[string]int{
	"_cell.length_a":    0,
	"_cell.length_b":    1,
	"_cell.length_c":    2,
	"_cell.angle_alpha": 3,
	"_cell.angle_beta":  4,
	"_cell.angle_gamma": 5,
}

var spaceGroupTags = map[string]bool{
	"_symmetry.space_group_name_h-m": true,
	"_space_group.name_h-m_alt":      true,
}

// cifScanner reads the parts of an mmCIF file a starting model needs: the
// cell, the space group and the _atom_site loop.
type cifScanner struct {
	cell     [6]float64
	haveCell int
	sg       string
	res      residueCounter

	inLoop   bool
	loopRows bool
	cols     []string
	pending  []string
	atoms    atomColumns
	model    string
	pendTag  string
	finished bool
}

// atomColumns holds _atom_site column indexes, -1 when absent.
type atomColumns struct {
	comp, asym, seq, ins, model int
}

func scanMMCIF(r *bufio.Reader) (Structure, error) {
	sc := &cifScanner{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	inText := false
	for scanner.Scan() && !sc.finished {
		line := scanner.Text()
		if strings.HasPrefix(line, ";") {
			inText = !inText
			continue
		}
		if inText {
			continue
		}
		if err := sc.line(line); err != nil {
			return Structure{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Structure{}, err
	}
	return sc.structure()
}

func (sc *cifScanner) line(line string) error {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		return nil
	case strings.HasPrefix(trimmed, "data_"):
		return nil
	case trimmed == "loop_":
		sc.endLoop()
		sc.inLoop = true
		return nil
	}

	tokens := cifTokens(trimmed)
	if strings.HasPrefix(tokens[0], "_") {
		if sc.inLoop && !sc.loopRows && len(tokens) == 1 {
			sc.cols = append(sc.cols, strings.ToLower(tokens[0]))
			return nil
		}
		sc.endLoop()
		if len(tokens) == 1 {
			sc.pendTag = strings.ToLower(tokens[0])
			return nil
		}
		return sc.item(strings.ToLower(tokens[0]), tokens[1])
	}

	if sc.pendTag != "" {
		tag := sc.pendTag
		sc.pendTag = ""
		return sc.item(tag, tokens[0])
	}
	if !sc.inLoop {
		return nil
	}
	if !sc.loopRows {
		sc.loopRows = true
		sc.atoms = sc.atomColumns()
	}
	if sc.atoms.comp < 0 {
		return nil
	}
	sc.pending = append(sc.pending, tokens...)
	for len(sc.pending) >= len(sc.cols) && !sc.finished {
		sc.atom(sc.pending[:len(sc.cols)])
		sc.pending = sc.pending[len(sc.cols):]
	}
	return nil
}

func (sc *cifScanner) item(tag, value string) error {
	if i, ok := cellTags[tag]; ok && !cifNull(value) {
		v, err := parseCIFNumber(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", tag, err)
		}
		sc.cell[i] = v
		sc.haveCell++
		return nil
	}
	if spaceGroupTags[tag] && sc.sg == "" && !cifNull(value) {
		sc.sg = value
	}
	return nil
}

func (sc *cifScanner) endLoop() {
	sc.inLoop, sc.loopRows = false, false
	sc.cols, sc.pending = nil, nil
	sc.pendTag = ""
}

// atomColumns resolves the current loop's columns; comp is -1 unless the
// loop is _atom_site. Author numbering is preferred, as in PDB files.
func (sc *cifScanner) atomColumns() atomColumns {
	idx := func(names ...string) int {
		for _, n := range names {
			for i, c := range sc.cols {
				if c == "_atom_site."+n {
					return i
				}
			}
		}
		return -1
	}
	return atomColumns{
		comp:  idx("auth_comp_id", "label_comp_id"),
		asym:  idx("auth_asym_id", "label_asym_id"),
		seq:   idx("auth_seq_id", "label_seq_id"),
		ins:   idx("pdbx_pdb_ins_code"),
		model: idx("pdbx_pdb_model_num"),
	}
}

func (sc *cifScanner) atom(row []string) {
	a := sc.atoms
	if a.model >= 0 {
		if sc.model == "" {
			sc.model = row[a.model]
		} else if row[a.model] != sc.model {
			sc.finished = true
			return
		}
	}
	field := func(i int) string {
		if i < 0 || cifNull(row[i]) {
			return ""
		}
		return row[i]
	}
	comp := strings.ToUpper(field(a.comp))
	key := strings.Join([]string{comp, field(a.asym), field(a.seq), field(a.ins)}, "|")
	sc.res.add(comp, key)
}

func (sc *cifScanner) structure() (Structure, error) {
	var s Structure
	switch sc.haveCell {
	case 0:
	case len(sc.cell):
		s.Cell = Cell{sc.cell[0], sc.cell[1], sc.cell[2], sc.cell[3], sc.cell[4], sc.cell[5]}
	default:
		return Structure{}, fmt.Errorf("incomplete _cell category")
	}
	s.SpaceGroup = sc.sg
	sc.res.apply(&s)
	return s, nil
}

// #endregion scan

// #region tokens

// cifTokens splits a line into CIF values. Quoted values end at a matching
// quote followed by whitespace or the end of the line.
func cifTokens(line string) []string {
	var out []string
	i := 0
	for i < len(line) {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			break
		}
		if q := line[i]; q == '\'' || q == '"' {
			j := i + 1
			for j < len(line) && (line[j] != q || (j+1 < len(line) && line[j+1] != ' ' && line[j+1] != '\t')) {
				j++
			}
			out = append(out, line[i+1:min(j, len(line))])
			i = j + 1
			continue
		}
		j := i
		for j < len(line) && line[j] != ' ' && line[j] != '\t' {
			j++
		}
		out = append(out, line[i:j])
		i = j
	}
	return out
}

func cifNull(v string) bool { return v == "?" || v == "." }

// parseCIFNumber parses a value that may carry a standard uncertainty, e.g.
// 78.923(4).
func parseCIFNumber(v string) (float64, error) {
	if i := strings.IndexByte(v, '('); i > 0 {
		v = v[:i]
	}
	return strconv.ParseFloat(v, 64)
}

// #endregion tokens
