package logging

import "time"

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table: one accept or
// reject decision taken on a step result.
type ProvenanceEntry struct {
	VersionID   string
	Cycle       int
	Step        string
	MetricsJSON string
	Decision    string // "commit" | "reject" | "auto"
	Reason      string
	CreatedAt   time.Time
}

// #endregion provenance-entry

// #region decision-record
// DecisionRecord captures the inputs of one gate evaluation.
// Serialized as JSON into provenance_log.metrics_json for replay.
type DecisionRecord struct {
	Step       string    `json:"step"`
	Cycle      int       `json:"cycle"`
	AutoAccept bool      `json:"auto_accept"`
	Candidate  Snapshot  `json:"candidate"`
	Reference  *Snapshot `json:"reference,omitempty"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason"`
}

// Snapshot is the metric view of a refinement result.
type Snapshot struct {
	RWork    float64 `json:"r_work,omitempty"`
	RFree    float64 `json:"r_free,omitempty"`
	FSC      float64 `json:"fsc,omitempty"`
	Residues int     `json:"residues"`
	Waters   int     `json:"waters"`
}

// #endregion decision-record
