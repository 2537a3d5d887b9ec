// Package job defines the unit of asynchronous work: the Job entity, its
// lifecycle states, the typed handler registry, and the persistence contract.
package job

import (
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be dispatched.
	StatePending State = "pending"
	// StateRunning means the job is currently executing.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts and is dead.
	// Dead jobs are never re-enqueued automatically.
	StateFailed State = "failed"
)

// Job represents a unit of work to be executed by the queue.
type Job struct {
	courier.Entity

	ID           id.JobID      `json:"id"`
	Type         string        `json:"type"`
	Payload      []byte        `json:"payload"`
	State        State         `json:"state"`
	Attempts     int           `json:"attempts"`
	MaxAttempts  int           `json:"max_attempts"`
	LastError    string        `json:"last_error,omitempty"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// DueAt returns when the job becomes eligible for dispatch:
// ScheduledFor when set, otherwise EnqueuedAt.
func (j *Job) DueAt() time.Time {
	if j.ScheduledFor != nil {
		return *j.ScheduledFor
	}
	return j.EnqueuedAt
}

// Due reports whether the job is eligible for dispatch at t.
func (j *Job) Due(t time.Time) bool {
	return !j.DueAt().After(t)
}
