// Package metrics exposes per-run counters and gauges and writes them in the
// Prometheus textfile format for node_exporter style collection.
package metrics

import (
	"fmt"

	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modelcraft"

// Metrics is the run's metric set on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	stepSeconds *prometheus.CounterVec
	stepRuns    *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	cycle       prometheus.Gauge
	residues    prometheus.Gauge
	waters      prometheus.Gauge
	rWork       prometheus.Gauge
	rFree       prometheus.Gauge
	fsc         prometheus.Gauge
	stalled     prometheus.Gauge
}

// New registers the metric set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		stepSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "step_seconds_total",
			Help: "Wall time spent in each external step.",
		}, []string{"step"}),
		stepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "step_runs_total",
			Help: "Completed invocations of each external step.",
		}, []string{"step"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decisions_total",
			Help: "Gate decisions by step and action.",
		}, []string{"step", "action"}),
		cycle:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "cycle", Help: "Last completed cycle."}),
		residues: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "residues", Help: "Residues in the last cycle's model."}),
		waters:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "waters", Help: "Waters in the last cycle's model."}),
		rWork:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "r_work", Help: "R-work of the last cycle."}),
		rFree:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "r_free", Help: "R-free of the last cycle."}),
		fsc:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "fsc", Help: "FSC of the last cycle."}),
		stalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cycles_without_improvement",
			Help: "Consecutive cycles that did not improve on the best result.",
		}),
	}
	m.reg.MustRegister(m.stepSeconds, m.stepRuns, m.decisions,
		m.cycle, m.residues, m.waters, m.rWork, m.rFree, m.fsc, m.stalled)
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// AddJob satisfies job.TimingSink.
func (m *Metrics) AddJob(name string, seconds float64) {
	m.stepSeconds.WithLabelValues(name).Add(seconds)
	m.stepRuns.WithLabelValues(name).Inc()
}

// ObserveDecision counts one gate decision.
func (m *Metrics) ObserveDecision(step, action string) {
	m.decisions.WithLabelValues(step, action).Inc()
}

// ObserveCycle sets the cycle gauges.
func (m *Metrics) ObserveCycle(rec report.CycleRecord, cyclesWithoutImprovement int) {
	m.cycle.Set(float64(rec.Cycle))
	m.residues.Set(float64(rec.Residues))
	m.waters.Set(float64(rec.Waters))
	m.rWork.Set(rec.RWork)
	m.rFree.Set(rec.RFree)
	m.fsc.Set(rec.FSC)
	m.stalled.Set(float64(cyclesWithoutImprovement))
}

// WriteFile writes every metric to path in the textfile format.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
