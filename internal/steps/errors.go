package steps

import "errors"

// ErrZeroResidueRefinement is returned when a refinement is asked to refine
// an empty model. Fatal.
var ErrZeroResidueRefinement = errors.New("refinement given zero residues")
