package xtal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// #region read-structure

var waterNames = map[string]bool{"HOH": true, "WAT": true, "DOD": true, "H2O": true}

const dummyName = "DUM"

// ReadStructure reads a starting model's cell, space group and residue
// counts. mmCIF files are recognised by extension or a leading data_ block;
// anything else is read as PDB. Only the first model of a multi-model file
// is counted.
func ReadStructure(path string) (Structure, error) {
	f, err := os.Open(path)
	if err != nil {
		return Structure{}, fmt.Errorf("open structure: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var s Structure
	if isMMCIF(path, br) {
		s, err = scanMMCIF(br)
	} else {
		s, err = scanPDB(br)
	}
	if err != nil {
		return Structure{}, fmt.Errorf("read structure %s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

func scanPDB(r io.Reader) (Structure, error) {
	var s Structure
	var res residueCounter
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "CRYST1"):
			cell, sg, err := parseCryst1(line)
			if err != nil {
				return Structure{}, err
			}
			s.Cell, s.SpaceGroup = cell, sg
		case strings.HasPrefix(line, "ATOM") || strings.HasPrefix(line, "HETATM"):
			if len(line) < 27 {
				continue
			}
			// resname, chain, resseq, icode
			res.add(strings.TrimSpace(line[17:20]), line[17:27])
		case strings.HasPrefix(line, "ENDMDL"):
			res.apply(&s)
			return s, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Structure{}, err
	}
	res.apply(&s)
	return s, nil
}

// residueCounter counts distinct residues by kind.
type residueCounter struct {
	seen                      map[string]bool
	residues, waters, dummies int
}

func (c *residueCounter) add(resName, key string) {
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	switch {
	case waterNames[resName]:
		c.waters++
	case resName == dummyName:
		c.dummies++
	default:
		c.residues++
	}
}

func (c *residueCounter) apply(s *Structure) {
	s.Residues, s.Waters, s.Dummies = c.residues, c.waters, c.dummies
}

// #endregion read-structure

// #region cryst1
func parseCryst1(line string) (Cell, string, error) {
	if len(line) < 54 {
		fields := strings.Fields(line)
		if len(fields) < 7 {
			return Cell{}, "", fmt.Errorf("short CRYST1 record")
		}
		vals, err := parseFloats(fields[1:7])
		if err != nil {
			return Cell{}, "", err
		}
		return Cell{vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]}, freeSpaceGroup(fields[7:]), nil
	}
	cols := []string{line[6:15], line[15:24], line[24:33], line[33:40], line[40:47], line[47:54]}
	vals, err := parseFloats(cols)
	if err != nil {
		return Cell{}, "", err
	}
	sg := ""
	if len(line) > 55 {
		end := len(line)
		if end > 66 {
			end = 66
		}
		sg = strings.TrimSpace(line[55:end])
	}
	return Cell{vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]}, sg, nil
}

// axisSymbols are the rotation and screw axis parts of Hermann-Mauguin
// symbols for chiral space groups.
var axisSymbols = map[string]bool{
	"1": true, "2": true, "3": true, "4": true, "6": true,
	"21": true, "31": true, "32": true, "41": true, "42": true, "43": true,
	"61": true, "62": true, "63": true, "64": true, "65": true,
}

// freeSpaceGroup takes the space group from the fields after the angles of
// a free-format CRYST1 line, dropping a trailing Z value. A compact symbol
// such as P212121 is a single field; a spaced symbol has the lattice letter
// and at most three axes.
func freeSpaceGroup(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	if len(fields[0]) > 1 {
		return fields[0]
	}
	if n := len(fields); n > 1 {
		_, err := strconv.Atoi(fields[n-1])
		if err == nil && (n > 4 || !axisSymbols[fields[n-1]]) {
			fields = fields[:n-1]
		}
	}
	return strings.Join(fields, " ")
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("parse CRYST1 value %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

// #endregion cryst1
