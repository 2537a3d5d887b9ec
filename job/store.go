package job

import (
	"context"

	"github.com/courierhq/courier/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Type filters by job type. Empty means all types.
	Type string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the optional persistence contract for jobs. The queue uses
// it best-effort: persistence failures are logged, never allowed to block
// dispatch. Its absence degrades the queue to pure in-memory operation.
type Store interface {
	// CreateJob persists a new job record.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// FindPendingJobs returns all jobs in pending state, due or not.
	// Used by crash recovery to reload the ready set.
	FindPendingJobs(ctx context.Context) ([]*Job, error)

	// ResetRunningJobs flips jobs stuck in running state (from a prior
	// crash) back to pending, preserving their attempt counts, and returns
	// how many were reset.
	ResetRunningJobs(ctx context.Context) (int, error)

	// ListJobsByState returns jobs matching the given state, oldest first.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
