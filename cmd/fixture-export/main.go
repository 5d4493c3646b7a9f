// Command fixture-export turns a finished run's cycle log into a replay
// fixture. The fixture's expectations are what today's gate and stop checker
// decide, so checking it in pins current behaviour.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/modelcraft/internal/replay"
	"github.com/danielpatrickdp/modelcraft/internal/state"
)

type options struct {
	dbPath         string
	outPath        string
	description    string
	autoStopCycles int
	maxR           float64
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "fixture-export --db run.db --out fixture.json",
		Short:         "Export a run's cycle log as a replay fixture",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return export(out, o)
		},
	}
	cmd.Flags().StringVar(&o.dbPath, "db", "", "path to run.db")
	cmd.Flags().StringVar(&o.outPath, "out", "", "fixture file to write")
	cmd.Flags().StringVar(&o.description, "description", "", "fixture description (default: the db path)")
	cmd.Flags().IntVar(&o.autoStopCycles, "auto-stop-cycles", replay.DefaultReplayConfig().AutoStopCycles, "auto_stop_cycles the fixture is replayed with")
	cmd.Flags().Float64Var(&o.maxR, "max-r", 0, "override the eval R-factor bound")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func export(out io.Writer, o options) error {
	if _, err := os.Stat(o.dbPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}
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

	desc := o.description
	if desc == "" {
		desc = "exported from " + o.dbPath
	}
	f := replay.NewFixture(desc, cycles, replay.FixtureConfig{
		Metric:         replay.MetricFor(cycles),
		AutoStopCycles: o.autoStopCycles,
		MaxR:           o.maxR,
	})
	if err := replay.WriteFixture(o.outPath, f); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s: %d cycles, %d replayed, stop %d, best %d\n",
		o.outPath, len(f.Cycles), len(f.ExpectedResults), f.ExpectedStop, f.ExpectedBest)
	return nil
}
