package models

import (
	"time"
)

// JobKind identifies which pipeline a job drives
type JobKind string

const (
	JobKindPDF         JobKind = "pdf"
	JobKindJSONUnified JobKind = "json-unified"
	JobKindJSONSingle  JobKind = "json-single"
	JobKindCompress    JobKind = "compress"
	JobKindClean       JobKind = "clean"
	JobKindSplit       JobKind = "split"
)

// JobStatus tracks the lifecycle of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPaused    JobStatus = "paused"
)

// Terminal reports whether the status admits no further transitions
// (paused jobs may be retried, so paused is not terminal).
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// InputDescriptor identifies one input blob of a submission
type InputDescriptor struct {
	Name string `json:"name"` // Original filename
	Key  string `json:"key"`  // Blob store key holding the uploaded bytes
	Size int64  `json:"size"`
}

// ResultDescriptor points at the outputs of a completed job
type ResultDescriptor struct {
	ManifestKey string   `json:"manifest_key"`
	OutputKeys  []string `json:"output_keys"`
}

// Job is a single externally submitted unit of work. The orchestrator owns
// every Job exclusively; all mutations are serialised behind its mutex.
type Job struct {
	ID          string            `json:"id"`
	Kind        JobKind           `json:"kind"`
	Status      JobStatus         `json:"status"`
	Progress    float64           `json:"progress"` // [0,100]
	SubmittedAt time.Time         `json:"submitted_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	Inputs      []InputDescriptor `json:"inputs"`
	Options     JobOptions        `json:"options"`
	Result      *ResultDescriptor `json:"result,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
}

// JobOptions carries the option map recognised by the core.
// Unset values fall back to configured defaults at dispatch time.
type JobOptions struct {
	MaxImages        *int     `json:"max_images,omitempty"`
	RasterMode       string   `json:"raster_mode,omitempty"` // auto | manual | off
	RasterPages      []int    `json:"raster_pages,omitempty"`
	Language         string   `json:"language,omitempty"` // fr | en
	LLMEnrichment    *bool    `json:"llm_enrichment,omitempty"`
	PreserveSource   bool     `json:"preserve_source,omitempty"`
	ItemsPerChunk    int      `json:"items_per_chunk,omitempty"`
	MinMatchScore    *float64 `json:"min_match_score,omitempty"`
	CompressionLevel string   `json:"compression_level,omitempty"` // fast | balanced | max
	Recursive        bool     `json:"recursive,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the job table lock
func (j *Job) Clone() *Job {
	c := *j
	c.Inputs = append([]InputDescriptor(nil), j.Inputs...)
	if j.Result != nil {
		r := *j.Result
		r.OutputKeys = append([]string(nil), j.Result.OutputKeys...)
		c.Result = &r
	}
	if j.Options.RasterPages != nil {
		c.Options.RasterPages = append([]int(nil), j.Options.RasterPages...)
	}
	return &c
}

// Manifest is written to result/manifest.json when a job reaches a
// terminal state. It lists every output produced under the job prefix.
type Manifest struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
	Outputs     []string  `json:"outputs"`
}

// ErrorReport is written to result/error.json on failure
type ErrorReport struct {
	Kind      string `json:"kind"` // Stable machine tag from the error taxonomy
	Message   string `json:"message"`
	Stage     string `json:"stage"`
	Retryable bool   `json:"retryable"`
}
