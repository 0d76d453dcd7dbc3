// Package model defines the domain types shared by the import pipeline.
package model

import (
	"slices"
	"time"
)

// JobState represents the lifecycle state of a batch import job.
type JobState string

const (
	JobStateIdle       JobState = "idle"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateCancelled  JobState = "cancelled"
	JobStateFailed     JobState = "failed"
)

// jobTransitions lists the allowed edges of the job state machine.
var jobTransitions = map[JobState][]JobState{
	JobStateIdle:       {JobStateProcessing},
	JobStateProcessing: {JobStateCompleted, JobStateCancelled, JobStateFailed},
	JobStateCompleted:  {JobStateIdle},
	JobStateCancelled:  {JobStateIdle},
	JobStateFailed:     {JobStateIdle},
}

// CanTransition reports whether moving from s to next is a valid edge.
func (s JobState) CanTransition(next JobState) bool {
	return slices.Contains(jobTransitions[s], next)
}

// IsTerminal reports whether the state ends a batch.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateCancelled, JobStateFailed:
		return true
	default:
		return false
	}
}

// ImportMode selects whether a batch creates a new record or merges into an existing one.
type ImportMode string

const (
	ImportModeNew   ImportMode = "new"
	ImportModeMerge ImportMode = "merge"
)

// Valid reports whether m is a known mode.
func (m ImportMode) Valid() bool {
	return m == ImportModeNew || m == ImportModeMerge
}

// BatchJob is the progress and outcome of one batch import.
type BatchJob struct {
	ID                 string     `json:"id"`
	AccountID          string     `json:"account_id"`
	State              JobState   `json:"state"`
	Mode               ImportMode `json:"mode"`
	TotalFiles         int        `json:"total_files"`
	ProcessedFiles     int        `json:"processed_files"`
	CurrentFileIndex   int        `json:"current_file_index"`
	CurrentFileName    string     `json:"current_file_name,omitempty"`
	CompletedFiles     []string   `json:"completed_files"`
	TargetRecordID     string     `json:"target_record_id,omitempty"`
	DuplicateDetected  bool       `json:"duplicate_detected"`
	DuplicateAddress   string     `json:"duplicate_address,omitempty"`
	Error              string     `json:"error,omitempty"`
	ErrorKind          ErrorKind  `json:"error_kind,omitempty"`
	PersonalCredential bool       `json:"personal_credential"`
	Provider           Provider   `json:"provider,omitempty"`
	CreditsCharged     int        `json:"credits_charged"`
	Locale             string     `json:"locale,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j BatchJob) Clone() BatchJob {
	out := j
	out.CompletedFiles = slices.Clone(j.CompletedFiles)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Progress returns the completed fraction in [0,1].
func (j BatchJob) Progress() float64 {
	if j.TotalFiles == 0 {
		return 0
	}
	return float64(j.ProcessedFiles) / float64(j.TotalFiles)
}

// JobFilter specifies criteria for listing persisted jobs.
type JobFilter struct {
	AccountID string   `json:"account_id,omitempty"`
	State     JobState `json:"state,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}
