package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/backoff"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
)

// DeadJobs lists jobs that exhausted their attempt budget, oldest first.
// Requires a store; returns ErrNoStore otherwise.
func (q *Queue) DeadJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	if q.store == nil {
		return nil, courier.ErrNoStore
	}
	return q.store.ListJobsByState(ctx, job.StateFailed, opts)
}

// RequeueDead puts a dead job back into circulation with a fresh attempt
// budget. The re-dispatch is delayed by the given strategy evaluated at
// the job's original attempt count, so repeatedly revived jobs back off
// rather than hot-looping; a nil strategy requeues immediately.
func (q *Queue) RequeueDead(ctx context.Context, jobID id.JobID, strategy backoff.Strategy) (*job.Job, error) {
	if q.store == nil {
		return nil, courier.ErrNoStore
	}

	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateFailed {
		return nil, fmt.Errorf("requeue job %s: state is %q, want %q", jobID, j.State, job.StateFailed)
	}

	now := time.Now().UTC()
	prior := j.Attempts
	if prior < 1 {
		prior = 1
	}
	j.State = job.StatePending
	j.Attempts = 0
	j.LastError = ""
	j.CompletedAt = nil
	j.ScheduledFor = nil
	if strategy != nil {
		due := now.Add(strategy.Delay(prior))
		j.ScheduledFor = &due
	}
	j.Touch()

	// Synchronous write here: an operator action should fail loudly
	// rather than best-effort like the hot path.
	if err := q.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, courier.ErrQueueClosed
	}
	q.push(j)
	q.mu.Unlock()

	q.logger.Info("dead job requeued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)
	q.dispatch()
	return j, nil
}
