package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Output file names inside the run directory.
const (
	OutputStructure = "modelcraft.pdb"
	OutputMap       = "modelcraft.mtz"
	OutputReport    = "modelcraft.json"
	OutputStore     = "run.db"
	OutputMetrics   = "metrics.prom"
)

// copyAtomic copies src to dst through a temporary file in dst's directory
// so readers never see a partial file.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".modelcraft-*")
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
