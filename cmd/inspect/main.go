// Command inspect prints the cycle log, gate decisions, state versions and
// job timings recorded in a run's run.db.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/modelcraft/internal/logging"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
)

// #region main

type options struct {
	dbPath  string
	view    string
	last    int
	step    string
	version string
	jsonOut bool
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
		Use:           "inspect --db run.db [--view cycles|decisions|versions|jobs]",
		Short:         "Inspect a modelcraft run database",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(out, o)
		},
	}
	cmd.Flags().StringVar(&o.dbPath, "db", "", "path to run.db")
	cmd.Flags().StringVar(&o.view, "view", "cycles", "cycles, decisions, versions or jobs")
	cmd.Flags().IntVar(&o.last, "last", 20, "show N most recent versions or decisions (0 for all decisions)")
	cmd.Flags().StringVar(&o.step, "step", "", "filter decisions to one step, e.g. waters/refine")
	cmd.Flags().StringVar(&o.version, "version", "", "show a single state version")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "output as JSON instead of a table")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func run(out io.Writer, o options) error {
	if _, err := os.Stat(o.dbPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	store, err := state.NewStore(o.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	if o.version != "" {
		return runVersionMode(out, store, o.version, o.jsonOut)
	}
	switch o.view {
	case "cycles":
		return runCyclesMode(out, store, o.jsonOut)
	case "decisions":
		return runDecisionsMode(out, store, o.step, o.last, o.jsonOut)
	case "versions":
		return runVersionsMode(out, store, o.last, o.jsonOut)
	case "jobs":
		return runJobsMode(out, store, o.jsonOut)
	default:
		return fmt.Errorf("unknown view %q", o.view)
	}
}

// #endregion main

// #region cycles-mode

func runCyclesMode(out io.Writer, store *state.Store, jsonOut bool) error {
	cycles, err := store.ListCycles()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, cycles)
	}
	if len(cycles) == 0 {
		fmt.Fprintln(out, "no cycles recorded")
		return nil
	}

	fmt.Fprintf(out, "%5s  %8s  %6s  %6s  %7s  %7s  %6s  %8s\n",
		"Cycle", "Residues", "Waters", "Dummy", "R-work", "R-free", "FSC", "Seconds")
	for _, c := range cycles {
		fmt.Fprintf(out, "%5d  %8d  %6d  %6d  %7s  %7s  %6s  %8.0f\n",
			c.Cycle, c.Residues, c.Waters, c.Dummies, stat(c.RWork), stat(c.RFree), stat(c.FSC), c.Seconds)
	}

	best := bestCycle(cycles)
	if best != nil {
		fmt.Fprintf(out, "\nBest: cycle %d\n", best.Cycle)
	}
	return nil
}

// bestCycle picks lowest R-free, or highest FSC when no R-free was recorded.
func bestCycle(cycles []report.CycleRecord) *report.CycleRecord {
	var best *report.CycleRecord
	for i := range cycles {
		c := &cycles[i]
		switch {
		case best == nil:
			best = c
		case c.RFree > 0 && c.RFree < best.RFree:
			best = c
		case c.RFree == 0 && c.FSC > best.FSC:
			best = c
		}
	}
	return best
}

// #endregion cycles-mode

// #region decisions-mode

type decisionRow struct {
	Cycle    int                     `json:"cycle"`
	Step     string                  `json:"step"`
	Decision string                  `json:"decision"`
	Reason   string                  `json:"reason,omitempty"`
	Version  string                  `json:"version_id,omitempty"`
	Record   *logging.DecisionRecord `json:"record,omitempty"`
}

func runDecisionsMode(out io.Writer, store *state.Store, step string, last int, jsonOut bool) error {
	entries, err := logging.ListDecisions(store.DB(), step, 0)
	if err != nil {
		return err
	}
	if last > 0 && len(entries) > last {
		entries = entries[len(entries)-last:]
	}

	rows := make([]decisionRow, len(entries))
	for i, e := range entries {
		rows[i] = decisionRow{
			Cycle:    e.Cycle,
			Step:     e.Step,
			Decision: e.Decision,
			Reason:   e.Reason,
			Version:  e.VersionID,
			Record:   parseDecisionRecord(e.MetricsJSON),
		}
	}
	if jsonOut {
		return printJSON(out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no decisions recorded")
		return nil
	}

	fmt.Fprintf(out, "%5s  %-24s  %-8s  %-9s  %s\n", "Cycle", "Step", "Decision", "Version", "Reason")
	for _, r := range rows {
		fmt.Fprintf(out, "%5d  %-24s  %-8s  %-9s  %s\n", r.Cycle, r.Step, r.Decision, shortID(r.Version), r.Reason)
	}
	return nil
}

func parseDecisionRecord(metricsJSON string) *logging.DecisionRecord {
	if metricsJSON == "" {
		return nil
	}
	var rec logging.DecisionRecord
	if err := json.Unmarshal([]byte(metricsJSON), &rec); err != nil || rec.Step == "" {
		return nil
	}
	return &rec
}

// #endregion decisions-mode

// #region versions-mode

type versionRow struct {
	VersionID string  `json:"version_id"`
	ParentID  string  `json:"parent_id,omitempty"`
	Cycle     int     `json:"cycle"`
	Step      string  `json:"step,omitempty"`
	Decision  string  `json:"decision,omitempty"`
	Residues  int     `json:"residues"`
	Waters    int     `json:"waters"`
	RFree     float64 `json:"r_free,omitempty"`
	FSC       float64 `json:"fsc,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toVersionRow(v state.VersionWithProvenance) versionRow {
	r := versionRow{
		VersionID: v.VersionID,
		ParentID:  v.ParentID,
		Cycle:     v.Cycle,
		Step:      v.Step,
		Decision:  v.Decision,
		Residues:  v.Structure.Residues,
		Waters:    v.Structure.Waters,
		CreatedAt: v.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if v.Refinement != nil {
		r.RFree, r.FSC = v.Refinement.RFree, v.Refinement.FSC
	}
	return r
}

func runVersionsMode(out io.Writer, store *state.Store, last int, jsonOut bool) error {
	versions, err := store.ListVersions(last)
	if err != nil {
		return err
	}
	// store returns newest first
	rows := make([]versionRow, len(versions))
	for i, v := range versions {
		rows[len(versions)-1-i] = toVersionRow(v)
	}
	if jsonOut {
		return printJSON(out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no versions found")
		return nil
	}

	fmt.Fprintf(out, "%-9s  %-9s  %5s  %-24s  %-8s  %8s  %7s  %s\n",
		"Version", "Parent", "Cycle", "Step", "Decision", "Residues", "R-free", "Time")
	for _, r := range rows {
		fmt.Fprintf(out, "%-9s  %-9s  %5d  %-24s  %-8s  %8d  %7s  %s\n",
			shortID(r.VersionID), shortID(r.ParentID), r.Cycle, dash(r.Step), dash(r.Decision), r.Residues, stat(r.RFree), r.CreatedAt)
	}
	return nil
}

func runVersionMode(out io.Writer, store *state.Store, id string, jsonOut bool) error {
	cur, err := store.GetVersion(id)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, cur)
	}
	fmt.Fprintf(out, "Version:    %s\n", cur.VersionID)
	fmt.Fprintf(out, "Parent:     %s\n", dash(cur.ParentID))
	fmt.Fprintf(out, "Created:    %s\n", cur.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(out, "Structure:  %s\n", dash(cur.Structure.Path))
	fmt.Fprintf(out, "  residues=%d waters=%d dummies=%d\n", cur.Structure.Residues, cur.Structure.Waters, cur.Structure.Dummies)
	fmt.Fprintf(out, "Phases:     %s\n", dash(cur.Phases.Path))
	fmt.Fprintf(out, "FPhi best:  %s\n", dash(cur.FPhiBest.Path))
	if r := cur.Refinement; r != nil {
		fmt.Fprintf(out, "\nRefinement:\n")
		fmt.Fprintf(out, "  R-work: %s\n", stat(r.RWork))
		fmt.Fprintf(out, "  R-free: %s\n", stat(r.RFree))
		fmt.Fprintf(out, "  FSC:    %s\n", stat(r.FSC))
	}
	return nil
}

// #endregion versions-mode

// #region jobs-mode

func runJobsMode(out io.Writer, store *state.Store, jsonOut bool) error {
	totals, err := store.JobTotals()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, totals)
	}
	if len(totals) == 0 {
		fmt.Fprintln(out, "no jobs recorded")
		return nil
	}
	var sum float64
	fmt.Fprintf(out, "%-16s  %5s  %10s\n", "Step", "Count", "Seconds")
	for _, jt := range totals {
		fmt.Fprintf(out, "%-16s  %5d  %10.1f\n", jt.Step, jt.Count, jt.Seconds)
		sum += jt.Seconds
	}
	fmt.Fprintf(out, "%-16s  %5s  %10.1f\n", "total", "", sum)
	return nil
}

// #endregion jobs-mode

// #region output

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func stat(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
