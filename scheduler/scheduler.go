// Package scheduler provides recurring job scheduling: fixed-interval
// entries and cron-expression entries. Each entry re-arms its timer only
// after the previous fire completes, so a slow enqueue can never cause
// overlapping fires of the same entry.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits scheduler lifecycle events.
// ext.Registry satisfies this interface via EmitScheduleFired.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, entryName string, jobID id.JobID)
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// Task is a handle for a scheduled entry, used to cancel it.
type Task struct {
	// Name identifies the entry: explicit for cron entries, derived
	// from (jobType, interval) for interval entries.
	Name string
	// JobType is the job type enqueued on each fire.
	JobType string

	next func(time.Time) time.Time

	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

// Scheduler owns a set of recurring entries. Safe for concurrent use.
type Scheduler struct {
	enqueue EnqueueFunc
	emitter Emitter
	logger  *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*Task
	stopped bool
}

// New creates a Scheduler that enqueues fired jobs through enqueue.
func New(enqueue EnqueueFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueue: enqueue,
		logger:  slog.Default(),
		tasks:   make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers a fixed-interval entry for jobType. The first fire
// happens one full interval after registration, never immediately.
// Scheduling the same (jobType, interval) pair again returns the existing
// task instead of creating a duplicate.
func (s *Scheduler) Schedule(jobType string, interval time.Duration) *Task {
	name := fmt.Sprintf("%s@%s", jobType, interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		return t
	}

	t := &Task{
		Name:    name,
		JobType: jobType,
		next: func(now time.Time) time.Time {
			return now.Add(interval)
		},
	}
	s.tasks[name] = t
	if !s.stopped {
		s.arm(t, time.Now().UTC())
	}
	s.logger.Info("interval entry scheduled",
		slog.String("entry", name),
		slog.Duration("interval", interval),
	)
	return t
}

// ScheduleCron registers a cron-expression entry under an explicit name.
// Standard 5-field expressions and descriptors like "@every 30s" or
// "@hourly" are accepted. Registering a duplicate name returns the
// existing task.
func (s *Scheduler) ScheduleCron(name, jobType, cronExpr string) (*Task, error) {
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		return t, nil
	}

	t := &Task{
		Name:    name,
		JobType: jobType,
		next:    sched.Next,
	}
	s.tasks[name] = t
	if !s.stopped {
		s.arm(t, time.Now().UTC())
	}
	s.logger.Info("cron entry scheduled",
		slog.String("entry", name),
		slog.String("expression", cronExpr),
	)
	return t, nil
}

// Cancel stops a task's future fires. Cancelling an already-cancelled or
// unknown task is a no-op. A fire already in flight completes.
func (s *Scheduler) Cancel(t *Task) {
	if t == nil {
		return
	}

	t.mu.Lock()
	already := t.cancelled
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	s.mu.Lock()
	delete(s.tasks, t.Name)
	s.mu.Unlock()

	if !already {
		s.logger.Info("entry cancelled", slog.String("entry", t.Name))
	}
}

// Stop cancels all entries. The scheduler accepts no further fires;
// newly scheduled entries stay dormant.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.Cancel(t)
	}
	s.logger.Info("scheduler stopped")
}

// Entries returns the names of all live entries.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// arm sets t's timer for its next fire time.
func (s *Scheduler) arm(t *Task, now time.Time) {
	at := t.next(now)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.timer = time.AfterFunc(at.Sub(now), func() { s.fire(t) })
}

// fire enqueues the entry's job and re-arms the timer afterwards. The
// re-arm is computed from the post-enqueue clock, so entries never
// overlap themselves regardless of how long the enqueue takes.
func (s *Scheduler) fire(t *Task) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	ctx := context.Background()
	jobID, err := s.enqueue(ctx, t.JobType, nil)
	if err != nil {
		s.logger.Error("scheduled enqueue failed",
			slog.String("entry", t.Name),
			slog.String("job_type", t.JobType),
			slog.String("error", err.Error()),
		)
	} else {
		if s.emitter != nil {
			s.emitter.EmitScheduleFired(ctx, t.Name, jobID)
		}
		s.logger.Debug("entry fired",
			slog.String("entry", t.Name),
			slog.String("job_id", jobID.String()),
		)
	}

	s.arm(t, time.Now().UTC())
}
