package xtal

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// #region cell

// ErrCellIncompatible is returned when a model cannot be placed into the data cell.
var ErrCellIncompatible = errors.New("model cell is incompatible")

// Cell is a unit cell: edge lengths in Angstrom, angles in degrees.
type Cell struct {
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	C     float64 `json:"c"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// IsZero reports whether the cell was never set.
func (c Cell) IsZero() bool {
	return c == Cell{}
}

func (c Cell) String() string {
	return fmt.Sprintf("%.2f %.2f %.2f %.2f %.2f %.2f", c.A, c.B, c.C, c.Alpha, c.Beta, c.Gamma)
}

// CellTolerance bounds the distortion allowed between two cells.
type CellTolerance struct {
	Length float64 // relative, e.g. 0.05 = 5%
	Angle  float64 // absolute, degrees
}

// DefaultCellTolerance returns the distortion limits used for starting models.
func DefaultCellTolerance() CellTolerance {
	return CellTolerance{Length: 0.05, Angle: 5.0}
}

// Distortion returns the largest relative edge difference and the largest
// absolute angle difference between two cells.
func (c Cell) Distortion(other Cell) (length, angle float64) {
	for _, p := range [][2]float64{{c.A, other.A}, {c.B, other.B}, {c.C, other.C}} {
		if p[1] == 0 {
			length = math.Inf(1)
			continue
		}
		length = math.Max(length, math.Abs(p[0]-p[1])/p[1])
	}
	for _, p := range [][2]float64{{c.Alpha, other.Alpha}, {c.Beta, other.Beta}, {c.Gamma, other.Gamma}} {
		angle = math.Max(angle, math.Abs(p[0]-p[1]))
	}
	return length, angle
}

// #endregion cell

// #region space-group

// NormalizeSpaceGroup strips whitespace and case so "P 21 21 21" equals "p212121".
func NormalizeSpaceGroup(sg string) string {
	return strings.ToUpper(strings.Join(strings.Fields(sg), ""))
}

// CheckCompatible returns ErrCellIncompatible when the model's space group
// differs from the data's or its cell is distorted beyond tol. Models without
// cell information are accepted.
func CheckCompatible(model Structure, dataCell Cell, dataSpaceGroup string, tol CellTolerance) error {
	if model.Cell.IsZero() {
		return nil
	}
	if model.SpaceGroup != "" && dataSpaceGroup != "" &&
		NormalizeSpaceGroup(model.SpaceGroup) != NormalizeSpaceGroup(dataSpaceGroup) {
		return fmt.Errorf("%w: space group %s vs %s", ErrCellIncompatible, model.SpaceGroup, dataSpaceGroup)
	}
	length, angle := model.Cell.Distortion(dataCell)
	if length > tol.Length || angle > tol.Angle {
		return fmt.Errorf("%w: cell %s vs %s (edges %.1f%%, angles %.1f deg)",
			ErrCellIncompatible, model.Cell, dataCell, length*100, angle)
	}
	return nil
}

// #endregion space-group

// #region data-item

// Role is the semantic role of a reflection data item.
type Role string

const (
	RoleObservations Role = "observations" // FP,SIGFP or I,SIGI
	RoleFreeR        Role = "freer"
	RolePhases       Role = "phases" // HLA,HLB,HLC,HLD or PHI,FOM
	RoleFPhi         Role = "fphi"   // map coefficients F,PHI
	RoleMap          Role = "map"    // real-space map (EM)
)

// DataItem is an opaque bundle of columns in a reflection file or a map file.
// The controller passes these between steps without looking inside.
type DataItem struct {
	Path   string   `json:"path"`
	Role   Role     `json:"role"`
	Labels []string `json:"labels,omitempty"`
}

// Label returns the column labels joined the way CCP4 programs expect.
func (d DataItem) Label() string {
	return strings.Join(d.Labels, ",")
}

// IsZero reports whether the item is unset.
func (d DataItem) IsZero() bool {
	return d.Path == ""
}

// IsIntensity reports whether observation labels name intensities (I,SIGI or I(+)...).
func (d DataItem) IsIntensity() bool {
	if len(d.Labels) == 0 {
		return false
	}
	first := strings.ToUpper(d.Labels[0])
	return first == "I" || strings.HasPrefix(first, "I(") || strings.HasPrefix(first, "IMEAN") || strings.HasPrefix(first, "I_")
}

// ParseLabels splits a comma separated column label list.
func ParseLabels(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// #endregion data-item

// #region structure

// Structure is a model file plus the counts the controller reports on.
type Structure struct {
	Path       string `json:"path"`
	Residues   int    `json:"residues"`
	Waters     int    `json:"waters"`
	Dummies    int    `json:"dummies"`
	Cell       Cell   `json:"cell"`
	SpaceGroup string `json:"spacegroup,omitempty"`
}

// IsZero reports whether no structure has been set.
func (s Structure) IsZero() bool {
	return s.Path == ""
}

// #endregion structure
