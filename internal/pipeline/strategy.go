package pipeline

import (
	"github.com/danielpatrickdp/modelcraft/internal/config"
)

// #region step-kind

// StepKind names a planned step.
type StepKind string

const (
	StepSheetbend           StepKind = "sheetbend"
	StepPrune               StepKind = "prune"
	StepDensityModification StepKind = "parrot"
	StepAddDummies          StepKind = "dummy-atoms"
	StepRemoveSolvent       StepKind = "remove-solvent"
	StepBuildProtein        StepKind = "buccaneer"
	StepPruneChains         StepKind = "prune-chains"
	StepBuildNucleicAcid    StepKind = "nautilus"
	StepAddWaters           StepKind = "waters"
)

// Planned is one step of a cycle. When Refine is set the step is followed
// by a refinement, adopted unconditionally if AutoAccept is set and only on
// improvement otherwise.
type Planned struct {
	Kind       StepKind
	Refine     bool
	AutoAccept bool
}

// #endregion step-kind

// #region strategy

// StrategyID identifies a cycle strategy.
type StrategyID string

const (
	StrategyXRayBasic StrategyID = "xray-basic"
	StrategyXRayFull  StrategyID = "xray-full"
	StrategyEM        StrategyID = "em"
)

// CycleStrategy plans the steps of one cycle. Strategies only decide the
// order and what is enabled; the controller runs them.
type CycleStrategy interface {
	ID() StrategyID
	Steps(cycle int, resolution float64) []Planned
}

// StrategyOptions is what the strategies plan from.
type StrategyOptions struct {
	Disable         config.DisableConfig
	PruneResolution float64
	Protein         bool // contents include protein
	NucleicAcid     bool // contents include RNA or DNA
	StartingModel   bool
}

// SelectStrategy returns the strategy for a configuration.
func SelectStrategy(mode config.Mode, basic bool, opts StrategyOptions) CycleStrategy {
	switch {
	case mode == config.ModeEM:
		return emStrategy{opts}
	case basic:
		return xrayBasic{opts}
	default:
		return xrayFull{opts}
	}
}

func (o StrategyOptions) buildProtein() bool     { return o.Protein && !o.Disable.Buccaneer }
func (o StrategyOptions) buildNucleicAcid() bool { return o.NucleicAcid && !o.Disable.Nautilus }

// #endregion strategy

// #region xray-basic

type xrayBasic struct{ opts StrategyOptions }

func (xrayBasic) ID() StrategyID { return StrategyXRayBasic }

func (s xrayBasic) Steps(cycle int, _ float64) []Planned {
	var plan []Planned
	if cycle == 1 && !s.opts.Disable.Parrot {
		plan = append(plan, Planned{Kind: StepDensityModification})
	}
	if s.opts.buildProtein() {
		plan = append(plan, Planned{Kind: StepBuildProtein, Refine: true, AutoAccept: true})
	}
	if s.opts.buildNucleicAcid() {
		plan = append(plan, Planned{Kind: StepBuildNucleicAcid, Refine: true, AutoAccept: true})
	}
	return plan
}

// #endregion xray-basic

// #region xray-full

type xrayFull struct{ opts StrategyOptions }

func (xrayFull) ID() StrategyID { return StrategyXRayFull }

func (s xrayFull) Steps(cycle int, resolution float64) []Planned {
	d := s.opts.Disable
	var plan []Planned
	if cycle == 1 && s.opts.StartingModel && !d.Sheetbend {
		plan = append(plan, Planned{Kind: StepSheetbend, Refine: true, AutoAccept: true})
	}
	if cycle > 1 && resolution < s.opts.PruneResolution && !d.Pruning && s.opts.Protein {
		plan = append(plan, Planned{Kind: StepPrune})
	}
	if !d.Parrot {
		plan = append(plan, Planned{Kind: StepDensityModification})
	}
	if !d.DummyAtoms {
		plan = append(plan, Planned{Kind: StepAddDummies, Refine: true, AutoAccept: true})
	} else {
		plan = append(plan, Planned{Kind: StepRemoveSolvent, Refine: true, AutoAccept: true})
	}
	if s.opts.buildProtein() {
		plan = append(plan, Planned{Kind: StepBuildProtein, Refine: true, AutoAccept: true})
		if !d.Pruning {
			plan = append(plan, Planned{Kind: StepPruneChains, Refine: true, AutoAccept: true})
		}
	}
	if s.opts.buildNucleicAcid() {
		plan = append(plan, Planned{Kind: StepBuildNucleicAcid, Refine: true, AutoAccept: true})
	}
	if !d.Waters {
		plan = append(plan, Planned{Kind: StepAddWaters, Refine: true})
	}
	return plan
}

// #endregion xray-full

// #region em

type emStrategy struct{ opts StrategyOptions }

func (emStrategy) ID() StrategyID { return StrategyEM }

func (s emStrategy) Steps(int, float64) []Planned {
	var plan []Planned
	if s.opts.buildProtein() {
		plan = append(plan, Planned{Kind: StepBuildProtein, Refine: true, AutoAccept: true})
	}
	if s.opts.buildNucleicAcid() {
		plan = append(plan, Planned{Kind: StepBuildNucleicAcid, Refine: true, AutoAccept: true})
	}
	return plan
}

// #endregion em
