package pipeline

import (
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/state"
	"go.uber.org/zap"
)

// Timings fans one job timing out to several sinks.
type Timings []job.TimingSink

// AddJob satisfies job.TimingSink.
func (t Timings) AddJob(name string, seconds float64) {
	for _, s := range t {
		if s != nil {
			s.AddJob(name, seconds)
		}
	}
}

// StoreTimings records job timings in the run store.
type StoreTimings struct {
	Store  *state.Store
	Logger *zap.Logger
}

// AddJob satisfies job.TimingSink.
func (s StoreTimings) AddJob(name string, seconds float64) {
	if err := s.Store.RecordJob(name, seconds); err != nil && s.Logger != nil {
		s.Logger.Warn("record job timing", zap.String("step", name), zap.Error(err))
	}
}
