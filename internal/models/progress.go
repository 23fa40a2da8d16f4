package models

import (
	"time"
)

// ProgressPhase names the stage a job is in when an event is recorded
type ProgressPhase string

const (
	PhaseInit      ProgressPhase = "init"
	PhaseExtract   ProgressPhase = "extract"
	PhaseRaster    ProgressPhase = "raster"
	PhaseDescribe  ProgressPhase = "describe"
	PhaseParse     ProgressPhase = "parse"
	PhaseMap       ProgressPhase = "map"
	PhaseEnrich    ProgressPhase = "enrich"
	PhaseMatch     ProgressPhase = "match"
	PhaseUpload    ProgressPhase = "upload"
	PhaseClean     ProgressPhase = "clean"
	PhaseCompress  ProgressPhase = "compress"
	PhaseSuccess   ProgressPhase = "success"
	PhaseFailed    ProgressPhase = "failed"
	PhaseCancelled ProgressPhase = "cancelled"
)

// ProgressEvent is one entry in a job's append-only history. Sequence
// numbers are assigned by the single writing worker and are strictly
// increasing within a job; ordering across jobs is unspecified.
type ProgressEvent struct {
	Sequence  int64             `json:"sequence"`
	JobID     string            `json:"job_id"`
	Timestamp time.Time         `json:"timestamp"`
	Phase     ProgressPhase     `json:"phase"`
	Step      string            `json:"step"`
	Progress  float64           `json:"progress"` // [0,100]
	Status    JobStatus         `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ProgressSnapshot is the latest state written to progress/latest.json.
// Readers may observe history events not yet reflected in the snapshot,
// never the inverse.
type ProgressSnapshot struct {
	JobID     string        `json:"job_id"`
	Sequence  int64         `json:"sequence"`
	Status    JobStatus     `json:"status"`
	Phase     ProgressPhase `json:"phase"`
	Step      string        `json:"step"`
	Progress  float64       `json:"progress"`
	UpdatedAt time.Time     `json:"updated_at"`
	LastError string        `json:"last_error,omitempty"`
}
