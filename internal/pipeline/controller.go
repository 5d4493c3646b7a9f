package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/danielpatrickdp/modelcraft/internal/config"
	"github.com/danielpatrickdp/modelcraft/internal/eval"
	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/logging"
	"github.com/danielpatrickdp/modelcraft/internal/metrics"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/update"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
	"go.uber.org/zap"
)

// #region controller-struct

// Options wires a Controller. Runner, Store and Report are required.
type Options struct {
	Config    config.Config
	Contents  xtal.Contents
	Runner    Runner
	Store     *state.Store
	Report    *report.Report
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Progress  *Progress
	Preflight func(context.Context) error
}

// Controller runs one model-building job from initialization to
// termination. It is single-use and not safe for concurrent use.
type Controller struct {
	cfg       config.Config
	runner    Runner
	strategy  CycleStrategy
	gate      *gate.Gate
	eval      *eval.EvalHarness
	store     *state.Store
	report    *report.Report
	metrics   *metrics.Metrics
	logger    *zap.Logger
	progress  *Progress
	preflight func(context.Context) error

	phase     Phase
	cycle     int
	lastCycle int
	data      dataset
	current   state.Current
	best      tracker
	end       *Termination
}

// #endregion controller-struct

// #region constructor

// New returns a controller in the NotStarted phase.
func New(opts Options) (*Controller, error) {
	if opts.Runner == nil || opts.Store == nil || opts.Report == nil {
		return nil, errors.New("pipeline: runner, store and report are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metric := gate.MetricRFree
	if opts.Config.Mode == config.ModeEM {
		metric = gate.MetricFSC
	}
	evalCfg := eval.DefaultEvalConfig()
	evalCfg.Metric = metric

	strategy := SelectStrategy(opts.Config.Mode, opts.Config.XRay.Basic, StrategyOptions{
		Disable:         opts.Config.Run.Disable,
		PruneResolution: opts.Config.Pipeline.PruneResolution,
		Protein:         opts.Contents.HasProtein(),
		NucleicAcid:     opts.Contents.HasNucleicAcid(),
		StartingModel:   opts.Config.Run.Model != "",
	})

	g := gate.NewGate(gate.GateConfig{Metric: metric})
	return &Controller{
		cfg:       opts.Config,
		runner:    opts.Runner,
		strategy:  strategy,
		gate:      g,
		eval:      eval.NewEvalHarness(evalCfg),
		store:     opts.Store,
		report:    opts.Report,
		metrics:   opts.Metrics,
		logger:    logger.Named("pipeline"),
		progress:  opts.Progress,
		preflight: opts.Preflight,
		phase:     PhaseNotStarted,
		best:      tracker{policy: g.Policy()},
	}, nil
}

// #endregion constructor

// #region accessors

// Phase returns the lifecycle position.
func (c *Controller) Phase() Phase { return c.phase }

// Cycle returns the cycle being run, 0 before the first.
func (c *Controller) Cycle() int { return c.cycle }

// Current returns the current state.
func (c *Controller) Current() state.Current { return c.current }

// Best returns the best cycle so far, nil before any refinement completed a
// cycle.
func (c *Controller) Best() *Best { return c.best.best }

// Strategy returns the cycle strategy in use.
func (c *Controller) Strategy() CycleStrategy { return c.strategy }

// #endregion accessors

// #region run

// Run executes the whole job and returns how it ended. The report's
// termination reason is written before Run returns.
func (c *Controller) Run(ctx context.Context) Termination {
	if c.phase != PhaseNotStarted {
		return Termination{Reason: prefixStepFailed + "controller already used", Err: errors.New("controller already used")}
	}

	c.phase = PhaseInitializing
	c.logger.Info("initializing", zap.String("mode", string(c.cfg.Mode)), zap.String("strategy", string(c.strategy.ID())))
	if err := c.initialize(ctx); err != nil {
		return c.Terminate(err)
	}

	for cycle := 1; cycle <= c.cfg.Run.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return c.Terminate(err)
		}
		c.phase = PhaseRunning
		c.cycle = cycle
		start := time.Now()
		if err := c.runCycle(ctx); err != nil {
			return c.Terminate(err)
		}
		stop, err := c.endCycle(cycle, time.Since(start))
		if err != nil {
			return c.Terminate(err)
		}
		if stop {
			c.logger.Info("auto-stop", zap.Int("cycle", cycle), zap.Int("cycles_without_improvement", c.best.stalled))
			c.progress.Message(fmt.Sprintf("Stopping: no improvement in the last %d cycles", c.best.stalled))
			break
		}
	}

	if err := c.finalize(ctx); err != nil {
		return c.Terminate(err)
	}
	return c.Terminate(nil)
}

// Terminate ends the run with the reason err maps to; nil means a normal
// stop. Only the first call has an effect.
func (c *Controller) Terminate(err error) Termination {
	if c.end != nil {
		return *c.end
	}
	t := Termination{Reason: Reason(err), Err: err}
	c.end = &t
	c.phase = PhaseTerminated

	if werr := c.report.Terminate(t.Reason); werr != nil {
		c.logger.Error("write termination reason", zap.Error(werr))
	}
	if err != nil {
		c.logger.Error("terminated", zap.String("reason", t.Reason), zap.Int("cycle", c.cycle), zap.Error(err))
	} else {
		c.logger.Info("terminated", zap.String("reason", t.Reason), zap.Int("cycles", c.lastCycle))
	}
	c.progress.Terminated(t)
	return t
}

func (c *Controller) runCycle(ctx context.Context) error {
	for _, p := range c.strategy.Steps(c.cycle, c.data.Resolution) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runPlanned(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// runPlanned runs one planned step and its refinement. A rejected
// refinement restores the state from before the step.
func (c *Controller) runPlanned(ctx context.Context, p Planned) error {
	before := c.current
	ran, err := c.runStep(ctx, p.Kind)
	if err != nil {
		return err
	}
	if !ran {
		c.logger.Debug("skipped", zap.Int("cycle", c.cycle), zap.String("step", string(p.Kind)))
		return nil
	}
	if !p.Refine {
		return nil
	}
	return c.refine(ctx, string(p.Kind)+"/refine", p.AutoAccept, before)
}

// #endregion run

// #region initialize

func (c *Controller) initialize(ctx context.Context) error {
	if c.preflight != nil {
		if err := c.preflight(ctx); err != nil {
			return err
		}
	}
	root, err := c.store.CreateInitialState()
	if err != nil {
		return fmt.Errorf("create initial state: %w", err)
	}
	c.current = root

	if c.cfg.Mode == config.ModeEM {
		return c.initializeEM(ctx)
	}
	return c.initializeXRay(ctx)
}

func (c *Controller) initializeXRay(ctx context.Context) error {
	x := c.cfg.XRay
	header, err := c.runner.Header(ctx, x.Data)
	if err != nil {
		return err
	}
	obs, free, phases := header.DetectLabels()
	if l := xtal.ParseLabels(x.Observations); len(l) > 0 {
		obs = l
	}
	if l := xtal.ParseLabels(x.FreeRFlag); len(l) > 0 {
		free = l
	}
	if l := xtal.ParseLabels(x.Phases); len(l) > 0 {
		phases = l
	}
	if len(obs) == 0 {
		return job.Malformed("mtzdump", "no observation columns found in %s", x.Data)
	}

	c.data = dataset{
		Observations: xtal.DataItem{Path: x.Data, Role: xtal.RoleObservations, Labels: obs},
		Cell:         header.Cell,
		SpaceGroup:   header.SpaceGroup,
		Resolution:   header.Resolution,
	}
	if len(free) > 0 {
		c.data.FreeR = xtal.DataItem{Path: x.Data, Role: xtal.RoleFreeR, Labels: free}
	}
	if len(phases) > 0 {
		c.data.Phases = xtal.DataItem{Path: x.Data, Role: xtal.RolePhases, Labels: phases}
	}
	c.logger.Info("data",
		zap.String("cell", header.Cell.String()),
		zap.String("spacegroup", header.SpaceGroup),
		zap.Float64("resolution", header.Resolution),
		zap.Int("nreflections", header.NReflections),
		zap.Strings("observations", obs),
	)

	if c.data.Observations.IsIntensity() {
		conv, err := c.runner.Convert(ctx, c.data.Observations, c.data.FreeR)
		if err != nil {
			return err
		}
		c.data.Observations = conv.Observations
		if !conv.FreeR.IsZero() {
			c.data.FreeR = conv.FreeR
		}
		c.logger.Info("converted intensities to amplitudes", zap.Strings("labels", conv.Observations.Labels))
	}

	if c.cfg.Run.Model == "" && c.data.Phases.IsZero() {
		return ErrNoStartingPoint
	}
	if !c.data.Phases.IsZero() {
		if err := c.adopt("input", update.FromInput(c.current, c.data.Phases, xtal.DataItem{})); err != nil {
			return err
		}
	}
	if c.cfg.Run.Model == "" {
		return nil
	}

	model, err := xtal.ReadStructure(c.cfg.Run.Model)
	if err != nil {
		return fmt.Errorf("read starting model: %w", err)
	}
	tol := xtal.CellTolerance{Length: c.cfg.Pipeline.CellLengthTolerance, Angle: c.cfg.Pipeline.CellAngleTolerance}
	if err := xtal.CheckCompatible(model, c.data.Cell, c.data.SpaceGroup, tol); err != nil {
		return err
	}
	fitted, err := c.runner.FitCell(ctx, model, c.data.Cell, c.data.SpaceGroup)
	if err != nil {
		return err
	}
	if err := c.adopt("pdbset", update.FromStructure(c.current, fitted)); err != nil {
		return err
	}
	if x.Unbiased && !c.data.Phases.IsZero() {
		c.logger.Info("unbiased: starting model not refined against the data")
		return nil
	}
	return c.refine(ctx, "initial/refine", true, c.current)
}

func (c *Controller) initializeEM(ctx context.Context) error {
	conv, err := c.runner.MapToStructureFactors(ctx)
	if err != nil {
		return err
	}
	c.data = dataset{Observations: conv.Observations, Resolution: c.cfg.EM.Resolution}
	if err := c.adopt("map2sf", update.FromInput(c.current, xtal.DataItem{}, conv.FPhi)); err != nil {
		return err
	}
	if c.cfg.Run.Model == "" {
		return nil
	}
	model, err := xtal.ReadStructure(c.cfg.Run.Model)
	if err != nil {
		return fmt.Errorf("read starting model: %w", err)
	}
	if err := c.adopt("input", update.FromStructure(c.current, steps.StructureResult{Structure: model})); err != nil {
		return err
	}
	return c.refine(ctx, "initial/refine", true, c.current)
}

// #endregion initialize

// #region steps

// runStep runs one non-refinement step and adopts its result. It reports
// false when the step was skipped because the state cannot feed it.
func (c *Controller) runStep(ctx context.Context, kind StepKind) (bool, error) {
	cur := c.current
	modelIn := steps.ModelInput{Model: cur.Structure, FPhiBest: cur.FPhiBest, FPhiDiff: cur.FPhiDiff}
	hasDensity := cur.HasModel() && !cur.FPhiBest.IsZero()

	var u update.UpdateResult
	switch kind {
	case StepSheetbend:
		if !cur.HasModel() {
			return false, nil
		}
		r, err := c.runner.Sheetbend(ctx, c.refineInput())
		if err != nil {
			return false, err
		}
		u = update.FromStructure(cur, r)

	case StepPrune, StepPruneChains:
		if !hasDensity {
			return false, nil
		}
		r, err := c.runner.Prune(ctx, modelIn, kind == StepPruneChains)
		if err != nil {
			return false, err
		}
		u = update.FromStructure(cur, r)

	case StepDensityModification:
		if cur.Phases.IsZero() {
			return false, nil
		}
		r, err := c.runner.DensityModify(ctx, steps.PhasedInput{
			Model:        cur.Structure,
			Observations: c.data.Observations,
			FreeR:        c.data.FreeR,
			Phases:       cur.Phases,
			FPhi:         cur.FPhiCalc,
		})
		if err != nil {
			return false, err
		}
		c.logger.Debug("density modification", zap.Int("nreflections", r.NReflections))
		u = update.FromDensityModification(cur, r)

	case StepAddDummies, StepAddWaters:
		if !hasDensity {
			return false, nil
		}
		r, err := c.runner.AddSolvent(ctx, modelIn, kind == StepAddDummies)
		if err != nil {
			return false, err
		}
		u = update.FromStructure(cur, r)

	case StepRemoveSolvent:
		if !cur.HasModel() {
			return false, nil
		}
		r, err := c.runner.RemoveSolvent(ctx, cur.Structure)
		if err != nil {
			return false, err
		}
		u = update.FromStructure(cur, r)

	case StepBuildProtein, StepBuildNucleicAcid:
		buildKind := steps.BuildProtein
		if kind == StepBuildNucleicAcid {
			buildKind = steps.BuildNucleicAcid
		}
		r, err := c.runner.Build(ctx, buildKind, steps.PhasedInput{
			Model:        cur.Structure,
			Observations: c.data.Observations,
			FreeR:        c.data.FreeR,
			Phases:       cur.Phases,
			FPhi:         cur.FPhiBest,
		})
		if err != nil {
			return false, err
		}
		u = update.FromBuild(cur, r)
		if !u.Proposed() {
			c.logDecision(string(kind), "", "reject", u.Decision.Reason, nil)
			return false, fmt.Errorf("%s: %w", kind, ErrNoResiduesBuilt)
		}
		c.logger.Info("built",
			zap.String("step", string(kind)),
			zap.Int("residues", r.ResiduesBuilt),
			zap.Int("fragments", r.Fragments),
		)

	default:
		return false, fmt.Errorf("unknown step %q", kind)
	}
	return true, c.adopt(string(kind), u)
}

func (c *Controller) refineInput() steps.RefineInput {
	return steps.RefineInput{
		Model:        c.current.Structure,
		Observations: c.data.Observations,
		FreeR:        c.data.FreeR,
		Phases:       c.data.Phases,
	}
}

// #endregion steps

// #region transitions

// adopt commits a transition unconditionally.
func (c *Controller) adopt(step string, u update.UpdateResult) error {
	if err := c.store.CommitState(u.NewState); err != nil {
		return fmt.Errorf("commit %s: %w", step, err)
	}
	c.current = u.NewState
	c.logDecision(step, u.NewState.VersionID, "auto", u.Decision.Reason, nil)
	c.logger.Debug("adopted",
		zap.String("step", step),
		zap.String("version", u.NewState.VersionID),
		zap.Int("residue_delta", u.Metrics.ResidueDelta),
		zap.Int("water_delta", u.Metrics.WaterDelta),
		zap.Strings("fields", u.Metrics.FieldsSet),
	)
	return nil
}

// refine runs a refinement of the current model and gates the result
// against the refinement behind the current state. A rejection restores
// before, in memory and in the store.
func (c *Controller) refine(ctx context.Context, step string, autoAccept bool, before state.Current) error {
	res, err := c.runner.Refine(ctx, c.refineInput())
	if err != nil {
		return err
	}
	if ev := c.eval.Run(res); !ev.Passed {
		return ev.Err(step)
	}

	reference := c.current.Refinement
	decision := c.gate.Evaluate(res, reference, autoAccept)
	u := update.FromRefinement(c.current, res)

	action := decision.Action
	if decision.AutoAccepted {
		action = "auto"
	}
	c.logDecision(step, u.NewState.VersionID, action, decision.Reason, &logging.DecisionRecord{
		AutoAccept: autoAccept,
		Candidate:  snapshot(res),
		Reference:  snapshotPtr(reference),
	})

	for _, v := range decision.VetoSignals {
		if v.Type == gate.VetoZeroResidues {
			return fmt.Errorf("%s: %w", step, steps.ErrZeroResidueRefinement)
		}
	}

	if decision.Committed() {
		if err := c.store.CommitState(u.NewState); err != nil {
			return fmt.Errorf("commit %s: %w", step, err)
		}
		c.current = u.NewState
		c.logger.Info("refined",
			zap.Int("cycle", c.cycle),
			zap.String("step", step),
			zap.String("decision", action),
			zap.Float64("r_work", res.RWork),
			zap.Float64("r_free", res.RFree),
			zap.Float64("fsc", res.FSC),
		)
		return nil
	}

	if err := c.store.Rollback(before.VersionID); err != nil {
		return fmt.Errorf("rollback after %s: %w", step, err)
	}
	c.current = before
	c.logger.Info("refinement rejected",
		zap.Int("cycle", c.cycle),
		zap.String("step", step),
		zap.String("reason", decision.Reason),
		zap.String("restored", before.VersionID),
	)
	return nil
}

func (c *Controller) logDecision(step, versionID, action, reason string, rec *logging.DecisionRecord) {
	if c.metrics != nil {
		c.metrics.ObserveDecision(step, action)
	}
	var raw string
	if rec != nil {
		rec.Step, rec.Cycle, rec.Action, rec.Reason = step, c.cycle, action, reason
		b, err := json.Marshal(rec)
		if err != nil {
			c.logger.Warn("marshal decision record", zap.Error(err))
		}
		raw = string(b)
	}
	err := logging.LogDecision(c.store.DB(), logging.ProvenanceEntry{
		VersionID:   versionID,
		Cycle:       c.cycle,
		Step:        step,
		MetricsJSON: raw,
		Decision:    action,
		Reason:      reason,
	})
	if err != nil {
		c.logger.Warn("provenance", zap.String("step", step), zap.Error(err))
	}
}

func snapshot(r steps.RefinementResult) logging.Snapshot {
	return logging.Snapshot{
		RWork:    r.RWork,
		RFree:    r.RFree,
		FSC:      r.FSC,
		Residues: r.Structure.Residues,
		Waters:   r.Structure.Waters,
	}
}

func snapshotPtr(r *steps.RefinementResult) *logging.Snapshot {
	if r == nil {
		return nil
	}
	s := snapshot(*r)
	return &s
}

// #endregion transitions

// #region cycle-boundary

// endCycle records the cycle, updates the best result and reports whether
// the auto-stop condition is met.
func (c *Controller) endCycle(cycle int, elapsed time.Duration) (bool, error) {
	rec := c.record(cycle, elapsed)
	if err := c.report.AddCycle(rec); err != nil {
		return false, fmt.Errorf("report cycle %d: %w", cycle, err)
	}
	if err := c.store.AppendCycle(rec); err != nil {
		return false, fmt.Errorf("store cycle %d: %w", cycle, err)
	}
	c.lastCycle = cycle

	improved := c.best.observe(rec, c.current)
	if improved {
		if err := c.writeBest(); err != nil {
			return false, err
		}
	}
	if c.metrics != nil {
		c.metrics.ObserveCycle(rec, c.best.stalled)
	}
	c.progress.Cycle(rec, improved)
	c.logger.Info("cycle",
		zap.Int("cycle", cycle),
		zap.Int("residues", rec.Residues),
		zap.Int("waters", rec.Waters),
		zap.Float64("r_work", rec.RWork),
		zap.Float64("r_free", rec.RFree),
		zap.Float64("fsc", rec.FSC),
		zap.Bool("improved", improved),
		zap.Int("cycles_without_improvement", c.best.stalled),
	)

	auto := c.cfg.Run.AutoStopCycles
	return auto > 0 && c.best.stalled >= auto, nil
}

func (c *Controller) record(cycle int, elapsed time.Duration) report.CycleRecord {
	s := c.current.Structure
	rec := report.CycleRecord{
		Cycle:    cycle,
		Residues: s.Residues,
		Waters:   s.Waters,
		Dummies:  s.Dummies,
		Seconds:  elapsed.Seconds(),
	}
	if r := c.current.Refinement; r != nil {
		if c.cfg.Mode == config.ModeEM {
			rec.FSC = r.FSC
		} else {
			rec.RWork, rec.RFree = r.RWork, r.RFree
		}
	}
	return rec
}

// writeBest copies the best structure and map coefficients into the run
// directory and records them as the report's final entry.
func (c *Controller) writeBest() error {
	b := c.best.best
	dir := c.cfg.Run.Directory
	if err := copyAtomic(b.State.Structure.Path, filepath.Join(dir, OutputStructure)); err != nil {
		return err
	}
	final := report.Final{CycleRecord: b.Record, Structure: OutputStructure}
	if fphi := b.State.Refinement.FPhiBest; !fphi.IsZero() {
		if err := copyAtomic(fphi.Path, filepath.Join(dir, OutputMap)); err != nil {
			return err
		}
		final.MapCoefficients = OutputMap
	}
	if err := c.report.SetFinal(final); err != nil {
		return fmt.Errorf("report final: %w", err)
	}
	return nil
}

// #endregion cycle-boundary

// #region finalize

// finalize completes side chains on the best X-ray model when it is good
// enough and the data go to high enough resolution. The result is kept only
// if it improves on the best.
func (c *Controller) finalize(ctx context.Context) error {
	b := c.best.best
	if c.cfg.Mode != config.ModeXRay || c.cfg.Run.Disable.SideChainFixing || b == nil || b.State.Refinement == nil {
		return nil
	}
	p := c.cfg.Pipeline
	if b.State.Refinement.RWork >= p.SideChainRWork || c.data.Resolution >= p.SideChainResolution {
		c.logger.Info("side-chain fixing skipped",
			zap.Float64("r_work", b.State.Refinement.RWork),
			zap.Float64("resolution", c.data.Resolution),
		)
		return nil
	}

	c.phase = PhaseFinalizing
	c.cycle = c.lastCycle + 1
	c.progress.Message(fmt.Sprintf("Fixing side chains on the model from cycle %d", b.Record.Cycle))
	start := time.Now()
	if b.State.VersionID != c.current.VersionID {
		if err := c.store.Rollback(b.State.VersionID); err != nil {
			return fmt.Errorf("restore best: %w", err)
		}
		c.current = b.State
	}
	before := c.current
	r, err := c.runner.FixSideChains(ctx, steps.ModelInput{
		Model:    before.Structure,
		FPhiBest: before.FPhiBest,
		FPhiDiff: before.FPhiDiff,
	})
	if err != nil {
		return err
	}
	if err := c.adopt("side-chains", update.FromStructure(before, r)); err != nil {
		return err
	}
	if err := c.refine(ctx, "side-chains/refine", false, before); err != nil {
		return err
	}
	_, err = c.endCycle(c.cycle, time.Since(start))
	return err
}

// #endregion finalize
