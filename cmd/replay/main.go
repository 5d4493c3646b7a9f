// Command replay feeds a run's recorded cycle statistics back through the
// gate and the auto-stop counter, either from run.db or from a fixture.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/replay"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
)

// errDiverged is returned when a fixture replay no longer matches its
// recorded expectations.
var errDiverged = errors.New("replay diverges from fixture")

// #region main

type options struct {
	dbPath         string
	fixturePath    string
	autoStopCycles int
	sweep          []int
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errDiverged) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "replay (--db run.db | --fixture fixture.json)",
		Short:         "Replay recorded cycles through the gate and stop checker",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (o.dbPath == "") == (o.fixturePath == "") {
				return errors.New("exactly one of --db or --fixture is required")
			}
			if o.fixturePath != "" {
				return runFixtureMode(out, o.fixturePath)
			}
			return runDBMode(out, o, cmd.Flags().Changed("auto-stop-cycles"))
		},
	}
	cmd.Flags().StringVar(&o.dbPath, "db", "", "path to run.db (DB mode)")
	cmd.Flags().StringVar(&o.fixturePath, "fixture", "", "path to fixture JSON (fixture mode)")
	cmd.Flags().IntVar(&o.autoStopCycles, "auto-stop-cycles", replay.DefaultReplayConfig().AutoStopCycles, "stop after this many cycles without improvement (0 disables)")
	cmd.Flags().IntSliceVar(&o.sweep, "sweep", nil, "also summarize these auto_stop_cycles values, e.g. 1,2,3,4")
	return cmd
}

// #endregion main

// #region db-mode

func runDBMode(out io.Writer, o options, stopSet bool) error {
	store, err := state.NewStore(o.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	cycles, err := store.ListCycles()
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		return errors.New("no cycles recorded in run.db")
	}

	metric := replay.MetricFor(cycles)
	cfg := replay.ForMetric(metric)
	if stopSet {
		cfg.AutoStopCycles = o.autoStopCycles
	}

	results := replay.Replay(cycles, cfg)
	printResults(out, results)
	printSummary(out, replay.Summarize(results, cycles), metric, len(cycles))

	if len(o.sweep) > 0 {
		printSweep(out, replay.Sweep(cycles, cfg, o.sweep), len(cycles), metric)
	}
	return nil
}

// #endregion db-mode

// #region fixture-mode

func runFixtureMode(out io.Writer, path string) error {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return err
	}
	results := replay.Replay(f.Cycles, f.Config.ToReplayConfig())

	expected := make([]string, len(f.ExpectedResults))
	for i, e := range f.ExpectedResults {
		expected[i] = e.Action
	}
	diverge := printComparison(out, results, expected)

	sum := replay.Summarize(results, f.Cycles)
	if sum.StopCycle != f.ExpectedStop {
		fmt.Fprintf(out, "stop cycle: expected %d, replayed %d\n", f.ExpectedStop, sum.StopCycle)
		diverge++
	}
	if sum.BestCycle != f.ExpectedBest {
		fmt.Fprintf(out, "best cycle: expected %d, replayed %d\n", f.ExpectedBest, sum.BestCycle)
		diverge++
	}
	if diverge > 0 {
		return fmt.Errorf("%w: %d differences", errDiverged, diverge)
	}
	return nil
}

// #endregion fixture-mode

// #region output

func printResults(out io.Writer, results []replay.ReplayResult) {
	fmt.Fprintf(out, "%5s | %-9s | %7s | %4s | %s\n", "Cycle", "Action", "Stalled", "Best", "Reason")
	fmt.Fprintf(out, "%5s-+-%-9s-+-%7s-+-%4s-+-%s\n", "-----", "---------", "-------", "----", "------")
	for _, r := range results {
		reason := r.Reason
		if r.Stop {
			reason += " [stop]"
		}
		fmt.Fprintf(out, "%5d | %-9s | %7d | %4d | %s\n", r.Cycle, r.Action, r.Stalled, r.BestCycle, reason)
	}
}

func printSummary(out io.Writer, s replay.ReplaySummary, metric gate.Metric, recorded int) {
	fmt.Fprintf(out, "\nSummary: %d of %d cycles, %d improved, %d stalled, %d invalid\n",
		s.TotalCycles, recorded, s.Improved, s.Stalled, s.Invalid)
	if s.StopCycle > 0 {
		fmt.Fprintf(out, "Stops after cycle %d\n", s.StopCycle)
	}
	if s.Best != nil {
		fmt.Fprintf(out, "Best: cycle %d (%s %.4f)\n", s.BestCycle, metric, value(*s.Best, metric))
	}
}

func printSweep(out io.Writer, rows []replay.SweepResult, recorded int, metric gate.Metric) {
	fmt.Fprintf(out, "\n%9s | %4s | %5s | %4s | %s\n", "Auto-stop", "Run", "Saved", "Best", metric)
	for _, r := range rows {
		k := fmt.Sprint(r.AutoStopCycles)
		if r.AutoStopCycles == 0 {
			k = "off"
		}
		fmt.Fprintf(out, "%9s | %4d | %5d | %4d | %.4f\n", k, r.CyclesRun, recorded-r.CyclesRun, r.BestCycle, r.BestValue)
	}
}

// printComparison prints expected against replayed actions and returns the
// number of differences.
func printComparison(out io.Writer, results []replay.ReplayResult, expected []string) int {
	fmt.Fprintf(out, "%-6s| %-10s| %-10s| %s\n", "Cycle", "Expected", "Replayed", "Match")
	fmt.Fprintf(out, "%-6s+%-11s+%-11s+%s\n", "------", "-----------", "-----------", "------")

	n := max(len(results), len(expected))
	matches := 0
	for i := 0; i < n; i++ {
		exp, got, cycle := "-", "-", "-"
		if i < len(expected) {
			exp = expected[i]
		}
		if i < len(results) {
			got = results[i].Action
			cycle = fmt.Sprint(results[i].Cycle)
		}
		match := "DIFF"
		if exp == got {
			match = "OK"
			matches++
		}
		fmt.Fprintf(out, "%-6s| %-10s| %-10s| %s\n", cycle, exp, got, match)
	}
	fmt.Fprintf(out, "\nSummary: %d total, %d match, %d diverge\n", n, matches, n-matches)
	return n - matches
}

func value(rec report.CycleRecord, metric gate.Metric) float64 {
	if metric == gate.MetricFSC {
		return rec.FSC
	}
	return rec.RFree
}

// #endregion output
