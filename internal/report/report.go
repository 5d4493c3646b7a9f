// Package report keeps the run report (modelcraft.json) current on disk.
// The file is rewritten atomically after every job and every cycle so a
// killed run always leaves a valid snapshot behind.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// #region types

// CycleRecord is the snapshot taken at the end of one cycle.
type CycleRecord struct {
	Cycle    int     `json:"cycle"`
	Residues int     `json:"residues"`
	Waters   int     `json:"waters"`
	Dummies  int     `json:"dummy_atoms"`
	RWork    float64 `json:"r_work,omitempty"`
	RFree    float64 `json:"r_free,omitempty"`
	FSC      float64 `json:"fsc,omitempty"`
	Seconds  float64 `json:"seconds"`
}

// Final describes the best cycle and the files written for it.
type Final struct {
	CycleRecord
	Structure       string `json:"structure"`
	MapCoefficients string `json:"map_coefficients,omitempty"`
}

// Document is the on-disk JSON layout.
type Document struct {
	Seconds           map[string]float64 `json:"seconds"`
	Cycles            []CycleRecord      `json:"cycles"`
	Final             *Final             `json:"final"`
	TerminationReason string             `json:"termination_reason,omitempty"`
}

// #endregion types

// #region report

// Report accumulates the run record and rewrites it on every change.
type Report struct {
	mu     sync.Mutex
	path   string
	doc    Document
	start  time.Time
	now    func() time.Time
	logger *zap.Logger
}

// New returns a report that writes to path. Nothing is written until the
// first mutation.
func New(path string, logger *zap.Logger) *Report {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Report{
		path:   path,
		doc:    Document{Seconds: map[string]float64{}, Cycles: []CycleRecord{}},
		start:  time.Now(),
		now:    time.Now,
		logger: logger.Named("report"),
	}
}

// AddJob adds seconds to the cumulative time for step name. It satisfies
// job.TimingSink, so write failures are logged rather than returned.
func (r *Report) AddJob(name string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Seconds[name] += seconds
	if err := r.writeLocked(); err != nil {
		r.logger.Error("write report", zap.Error(err))
	}
}

// AddCycle appends a cycle record. Cycle numbers must strictly increase.
func (r *Report) AddCycle(rec CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.doc.Cycles); n > 0 && rec.Cycle <= r.doc.Cycles[n-1].Cycle {
		return fmt.Errorf("cycle %d does not follow cycle %d", rec.Cycle, r.doc.Cycles[n-1].Cycle)
	}
	r.doc.Cycles = append(r.doc.Cycles, rec)
	return r.writeLocked()
}

// SetFinal records the best cycle.
func (r *Report) SetFinal(f Final) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Final = &f
	return r.writeLocked()
}

// Terminate records why the run ended.
func (r *Report) Terminate(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.TerminationReason = reason
	return r.writeLocked()
}

// Snapshot returns a copy of the current document.
func (r *Report) Snapshot() Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

func (r *Report) copyLocked() Document {
	doc := Document{
		Seconds:           make(map[string]float64, len(r.doc.Seconds)+1),
		Cycles:            append([]CycleRecord{}, r.doc.Cycles...),
		TerminationReason: r.doc.TerminationReason,
	}
	for k, v := range r.doc.Seconds {
		doc.Seconds[k] = v
	}
	doc.Seconds["total"] = r.now().Sub(r.start).Seconds()
	if r.doc.Final != nil {
		f := *r.doc.Final
		doc.Final = &f
	}
	return doc
}

// writeLocked replaces the report file via a temp file and rename.
func (r *Report) writeLocked() error {
	raw, err := json.MarshalIndent(r.copyLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".modelcraft-*.json")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}

// #endregion report

// #region read

// Read loads a report written by a previous run.
func Read(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read report: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("parse report %s: %w", path, err)
	}
	return doc, nil
}

// #endregion read
