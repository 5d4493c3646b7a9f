// Package environ checks that the CCP4 toolchain is usable before a run
// starts any work.
package environ

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/danielpatrickdp/modelcraft/internal/config"
	"golang.org/x/sync/errgroup"
)

// ErrEnvironment is returned when a required variable or program is missing.
var ErrEnvironment = errors.New("environment not configured")

// Variables every run needs.
var Variables = []string{"CCP4", "CLIBD_MON"}

// #region programs

// Programs returns the executables a run with cfg may invoke.
func Programs(cfg config.Config) []string {
	d := cfg.Run.Disable
	progs := []string{"coot", "pdbcur"}
	if cfg.Mode == config.ModeEM {
		progs = append(progs, "gemmi", "servalcat")
	} else {
		progs = append(progs, "mtzdump", "cad", "ctruncate", "pdbset", "refmacat")
		if !d.Parrot {
			progs = append(progs, "cparrot")
		}
		if !d.Sheetbend && !cfg.XRay.Basic {
			progs = append(progs, "csheetbend")
		}
		if !d.Waters || !d.DummyAtoms {
			progs = append(progs, "findwaters")
		}
	}
	if !d.Buccaneer {
		progs = append(progs, "cbuccaneer")
	}
	if !d.Nautilus {
		progs = append(progs, "cnautilus")
	}
	sort.Strings(progs)
	return progs
}

// #endregion programs

// #region check

// Checker resolves variables and programs. Zero fields use the process
// environment and PATH.
type Checker struct {
	Getenv   func(string) string
	LookPath func(string) (string, error)
}

// Check verifies every variable is set and every program resolves. Programs
// are resolved concurrently; all failures are reported together.
func (c Checker) Check(ctx context.Context, programs []string) error {
	getenv, lookPath := c.Getenv, c.LookPath
	if getenv == nil {
		getenv = os.Getenv
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var missing []string
	for _, v := range Variables {
		if getenv(v) == "" {
			missing = append(missing, v+" is not set")
		}
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, p := range programs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := lookPath(p); err != nil {
				mu.Lock()
				missing = append(missing, p+" not found on PATH")
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrEnvironment, strings.Join(missing, "; "))
	}
	return nil
}

// Check runs a default Checker for cfg.
func Check(ctx context.Context, cfg config.Config) error {
	return Checker{}.Check(ctx, Programs(cfg))
}

// #endregion check
