// Package jobs defines fetch jobs run by a bounded worker pool.
package jobs

import (
	"context"
	"time"
)

// Status represents the current status of a job.
type Status string

const (
	// StatusPending indicates the job is waiting for a worker.
	StatusPending Status = "pending"
	// StatusRunning indicates a worker is executing the job.
	StatusRunning Status = "running"
	// StatusCompleted indicates the handler returned nil.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the handler returned an error.
	StatusFailed Status = "failed"
)

// FetchJob fetches one account's transactions.
type FetchJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// RunID ties the job to one sync run.
	RunID string `json:"run_id"`

	// AccountID is the configured account to fetch.
	AccountID string `json:"account_id"`

	// Status is the current status of the job.
	Status Status `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`
}

// Handler processes a job. Provider adapters retry transient errors
// themselves, so a returned error is final.
type Handler func(ctx context.Context, job *FetchJob) error

// Store records job state. The orchestrator reads a run's jobs back for
// the report.
type Store interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *FetchJob) error

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter Filter) ([]*FetchJob, error)
}

// Filter defines filtering criteria for listing jobs.
type Filter struct {
	RunID  string
	Status Status
	Limit  int
}
