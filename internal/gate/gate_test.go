package gate

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

func xray(rfree float64) steps.RefinementResult {
	return steps.RefinementResult{
		Structure: xtal.Structure{Path: "m.pdb", Residues: 100},
		RWork:     rfree - 0.03,
		RFree:     rfree,
	}
}

func em(fsc float64) steps.RefinementResult {
	return steps.RefinementResult{
		Structure: xtal.Structure{Path: "m.pdb", Residues: 100},
		FSC:       fsc,
	}
}

func TestPolicyNilReferenceAlwaysBetter(t *testing.T) {
	for _, p := range []Policy{NewPolicy(MetricRFree), NewPolicy(MetricFSC)} {
		for _, r := range []steps.RefinementResult{xray(0.99), xray(0.1), em(0), em(0.9), {}} {
			if !p.IsBetter(r, nil) {
				t.Fatalf("%s: IsBetter(%+v, nil) should be true", p.Metric(), r)
			}
		}
	}
}

func TestPolicyNeverBetterThanItself(t *testing.T) {
	for _, p := range []Policy{NewPolicy(MetricRFree), NewPolicy(MetricFSC)} {
		for _, r := range []steps.RefinementResult{xray(0.3), em(0.7), {}} {
			if p.IsBetter(r, &r) {
				t.Fatalf("%s: IsBetter(x, x) should be false for %+v", p.Metric(), r)
			}
		}
	}
}

func TestPolicyXRayLowerRFreeWins(t *testing.T) {
	p := NewPolicy(MetricRFree)
	ref := xray(0.30)
	if !p.IsBetter(xray(0.29), &ref) {
		t.Fatal("lower R-free should be better")
	}
	if p.IsBetter(xray(0.31), &ref) {
		t.Fatal("higher R-free should not be better")
	}
}

func TestPolicyEMHigherFSCWins(t *testing.T) {
	p := NewPolicy(MetricFSC)
	ref := em(0.70)
	if !p.IsBetter(em(0.71), &ref) {
		t.Fatal("higher FSC should be better")
	}
	if p.IsBetter(em(0.69), &ref) {
		t.Fatal("lower FSC should not be better")
	}
}

func TestGateCommitOnImprovement(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	ref := xray(0.30)

	decision := g.Evaluate(xray(0.28), &ref, false)

	if !decision.Committed() {
		t.Fatalf("expected commit, got %s: %s", decision.Action, decision.Reason)
	}
	if decision.Vetoed || decision.AutoAccepted {
		t.Fatalf("unexpected flags: %+v", decision)
	}
}

func TestGateRejectsWorseResult(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	ref := xray(0.30)

	decision := g.Evaluate(xray(0.32), &ref, false)

	if decision.Action != "reject" {
		t.Fatalf("expected reject, got %s", decision.Action)
	}
	if decision.Vetoed {
		t.Fatal("a worse result is not a veto")
	}
}

func TestGateAutoAcceptBypassesPolicy(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	ref := xray(0.25)

	decision := g.Evaluate(xray(0.40), &ref, true)

	if !decision.Committed() || !decision.AutoAccepted {
		t.Fatalf("expected auto-accepted commit, got %+v", decision)
	}
}

func TestGateVetoesZeroResidues(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	candidate := xray(0.2)
	candidate.Structure.Residues = 0

	decision := g.Evaluate(candidate, nil, true)

	if decision.Committed() {
		t.Fatal("zero-residue model must be rejected even when auto-accepted")
	}
	if len(decision.VetoSignals) == 0 || decision.VetoSignals[0].Type != VetoZeroResidues {
		t.Fatalf("expected VetoZeroResidues, got %+v", decision.VetoSignals)
	}
}

func TestGateVetoesNaNMetric(t *testing.T) {
	g := NewGate(GateConfig{Metric: MetricFSC})

	decision := g.Evaluate(em(math.NaN()), nil, false)

	if !decision.Vetoed || decision.VetoSignals[0].Type != VetoBadMetric {
		t.Fatalf("expected VetoBadMetric, got %+v", decision)
	}
}

func TestGateDefaultsToRFree(t *testing.T) {
	g := NewGate(GateConfig{})
	if g.Policy().Metric() != MetricRFree {
		t.Fatalf("expected r_free, got %s", g.Policy().Metric())
	}
}
