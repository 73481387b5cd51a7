package domain

import "time"

// State enumerates the lifecycle states of one upscale attempt.
type State string

const (
	StateIdle       State = "idle"
	StateReady      State = "ready"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// Terminal reports whether no further automatic transition will happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// JobStatus enumerates the status of a submitted job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusError      JobStatus = "error"
)

// ResultReference locates the produced artifact, usually a URL.
type ResultReference string

// UpscaleJob is one submission of an asset with frozen options.
type UpscaleJob struct {
	ID         string          `json:"id"`
	Options    UpscaleOptions  `json:"options"`
	Status     JobStatus       `json:"status"`
	ResultRef  ResultReference `json:"result_ref,omitempty"`
	ErrorRef   string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
}
