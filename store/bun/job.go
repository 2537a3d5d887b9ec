package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
)

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrJobAlreadyExists
		}
		return fmt.Errorf("courier/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().Model((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

// FindPendingJobs returns all jobs in pending state, oldest first.
func (s *Store) FindPendingJobs(ctx context.Context) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("state = ?", string(job.StatePending)).
		Order("enqueued_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: find pending jobs: %w", err)
	}
	return convertJobs(models)
}

// ResetRunningJobs flips jobs stuck in running state back to pending,
// preserving attempt counts, and returns how many were reset.
func (s *Store) ResetRunningJobs(ctx context.Context) (int, error) {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("state = ?", string(job.StatePending)).
		Set("updated_at = NOW()").
		Where("state = ?", string(job.StateRunning)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: reset running jobs: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(rows), nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil)).
		Where("state = ?", string(state)).
		Order("enqueued_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var models []jobModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("courier/bun: list jobs by state: %w", err)
	}
	return convertJobs(models)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: count jobs: %w", err)
	}
	return int64(n), nil
}

func convertJobs(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
