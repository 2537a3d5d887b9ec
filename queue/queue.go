package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/ext"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/middleware"
)

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	// Queued is the number of jobs waiting in the ready set (due or not).
	Queued int
	// Running is the number of handlers currently executing.
	Running int
	// Concurrency is the parallelism limit.
	Concurrency int
	// Types lists the registered job types.
	Types []string
	// Paused reports whether dispatching is suspended.
	Paused bool
}

// Queue is the in-process job scheduler/executor. Safe for concurrent use.
type Queue struct {
	registry   *job.Registry
	store      job.Store // optional; nil disables durability
	extensions *ext.Registry
	mws        []middleware.Middleware
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time

	concurrency int

	mu      sync.Mutex
	ready   readyHeap
	seq     uint64
	running int
	paused  bool
	closed  bool

	// Single outstanding wake timer for the earliest not-yet-due job.
	timer    *time.Timer
	timerDue time.Time

	wg sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the maximum number of concurrently running jobs.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithStore enables durable persistence. Persistence is best-effort:
// failures are logged and never block dispatch.
func WithStore(s job.Store) Option {
	return func(q *Queue) { q.store = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(q *Queue) { q.extensions = r }
}

// WithMiddleware appends middleware wrapping every handler invocation.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(q *Queue) { q.mws = append(q.mws, mws...) }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue executing handlers from the given registry.
func New(registry *job.Registry, opts ...Option) *Queue {
	q := &Queue{
		registry:    registry,
		logger:      slog.Default(),
		concurrency: 10,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.extensions == nil {
		q.extensions = ext.NewRegistry(q.logger)
	}
	q.mw = middleware.Chain(q.mws...)
	return q
}

// Enqueue creates a job and schedules it for execution. A delay set via
// job.WithDelay postpones the first dispatch; job.WithMaxAttempts sets the
// total attempt budget (default 3). When a store is configured the job
// record is persisted best-effort; a persistence failure never blocks or
// fails the enqueue.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := q.now()
	j := &job.Job{
		Entity:      courier.NewEntity(),
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     payload,
		State:       job.StatePending,
		MaxAttempts: o.MaxAttempts,
		EnqueuedAt:  now,
		Timeout:     o.Timeout,
	}
	if o.Delay > 0 {
		due := now.Add(o.Delay)
		j.ScheduledFor = &due
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, courier.ErrQueueClosed
	}
	q.mu.Unlock()

	// Persist before the job becomes dispatchable so the first attempt
	// never races the create write.
	q.persist("create", func(ctx context.Context) error {
		return q.store.CreateJob(ctx, j)
	})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, courier.ErrQueueClosed
	}
	q.push(j)
	q.mu.Unlock()

	q.extensions.EmitJobEnqueued(ctx, j)
	q.dispatch()
	return j, nil
}

// Pause suspends dispatching of new work. Already-running jobs complete.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.stopTimerLocked()
	q.mu.Unlock()
	q.logger.Info("queue paused")
}

// Resume restarts dispatching and immediately attempts to drain the
// backlog in due-time order.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.logger.Info("queue resumed")
	q.dispatch()
}

// Stats returns a snapshot of queue state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:      len(q.ready),
		Running:     q.running,
		Concurrency: q.concurrency,
		Types:       q.registry.Types(),
		Paused:      q.paused,
	}
}

// RecoverPersisted reloads persisted jobs after a restart: pending jobs
// re-enter the ready set, and jobs stuck in running state from a prior
// crash are reset to pending with their attempt counts preserved. A job
// interrupted mid-execution is therefore retried — execution is
// at-least-once, never exactly-once. Returns the number of jobs loaded.
func (q *Queue) RecoverPersisted(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}

	reset, err := q.store.ResetRunningJobs(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		q.logger.Info("reset interrupted jobs to pending", slog.Int("count", reset))
	}

	jobs, err := q.store.FindPendingJobs(ctx)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	for _, j := range jobs {
		q.push(j)
	}
	q.mu.Unlock()

	if len(jobs) > 0 {
		q.logger.Info("recovered persisted jobs", slog.Int("count", len(jobs)))
	}
	q.dispatch()
	return len(jobs), nil
}

// Start begins dispatching. It returns immediately.
func (q *Queue) Start(_ context.Context) error {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
	q.logger.Info("queue started", slog.Int("concurrency", q.concurrency))
	q.dispatch()
	return nil
}

// Stop prevents new dispatches and waits for running jobs to finish.
// If the context expires first, Stop returns its error; jobs are never
// cancelled mid-flight.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.stopTimerLocked()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.logger.Warn("queue shutdown timed out with jobs still running")
		return ctx.Err()
	}
}

// push inserts a job into the ready heap. Caller holds q.mu.
func (q *Queue) push(j *job.Job) {
	q.seq++
	q.ready.pushItem(&item{j: j, seq: q.seq})
}

// dispatch pops and executes every due job while capacity remains, then
// arms the wake timer for the earliest not-yet-due job. It never blocks
// on handler execution.
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.closed {
		return
	}

	now := q.now()
	for q.running < q.concurrency {
		head := q.ready.peek()
		if head == nil {
			break
		}
		if !head.j.Due(now) {
			q.armTimerLocked(head.j.DueAt(), now)
			return
		}
		it := q.ready.popItem()
		q.running++
		q.wg.Add(1)
		go q.run(it.j)
	}

	// Capacity exhausted or heap empty; a not-yet-due head still needs
	// a wake so delayed jobs dispatch once capacity frees up late.
	if head := q.ready.peek(); head != nil && !head.j.Due(now) {
		q.armTimerLocked(head.j.DueAt(), now)
	}
}

// armTimerLocked (re-)arms the single wake timer for due. Caller holds q.mu.
func (q *Queue) armTimerLocked(due, now time.Time) {
	if q.timer != nil {
		if !due.Before(q.timerDue) {
			return
		}
		q.timer.Stop()
	}
	q.timerDue = due
	q.timer = time.AfterFunc(due.Sub(now), q.wake)
}

// stopTimerLocked cancels any outstanding wake timer. Caller holds q.mu.
func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// wake fires when the earliest delayed job comes due.
func (q *Queue) wake() {
	q.mu.Lock()
	q.timer = nil
	q.mu.Unlock()
	q.dispatch()
}

// run executes a single attempt of j and routes the outcome through the
// retry/dead-letter bookkeeping. Runs on its own goroutine.
func (q *Queue) run(j *job.Job) {
	defer q.wg.Done()

	ctx := context.Background()

	// Attempts are counted from the start of execution so a crash
	// mid-handler still consumes the attempt after recovery.
	j.Attempts++
	j.State = job.StateRunning
	j.Touch()
	q.persist("running", func(ctx context.Context) error {
		return q.store.UpdateJob(ctx, j)
	})
	q.extensions.EmitJobStarted(ctx, j)

	handler, ok := q.registry.Get(j.Type)
	var err error
	if !ok {
		// Configuration error: retrying cannot help.
		err = courier.ErrNoHandler
		q.finishDead(ctx, j, err)
	} else {
		terminal := func(ctx context.Context) error {
			return handler(ctx, j.Payload)
		}
		err = q.mw(ctx, j, terminal)
		if err == nil {
			q.finishSuccess(ctx, j)
		} else if j.Attempts < j.MaxAttempts {
			q.finishRetry(ctx, j, err)
		} else {
			q.finishDead(ctx, j, err)
		}
	}

	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.dispatch()
}

// finishSuccess marks the job completed and emits the lifecycle event.
func (q *Queue) finishSuccess(ctx context.Context, j *job.Job) {
	now := q.now()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.Touch()
	q.persist("completed", func(ctx context.Context) error {
		return q.store.UpdateJob(ctx, j)
	})
	// Latency is measured from enqueue, covering queue wait time.
	q.extensions.EmitJobCompleted(ctx, j, now.Sub(j.EnqueuedAt))
}

// finishRetry re-inserts the job for an immediate retry. The queue
// deliberately applies no backoff of its own: callers that need spaced
// retries (webhook delivery) re-enqueue with an explicit delay, and a
// generic queue-level backoff would double-apply it.
func (q *Queue) finishRetry(ctx context.Context, j *job.Job, err error) {
	j.State = job.StatePending
	j.LastError = err.Error()
	j.Touch()
	q.persist("pending", func(ctx context.Context) error {
		return q.store.UpdateJob(ctx, j)
	})
	q.extensions.EmitJobRetrying(ctx, j, j.Attempts)

	q.mu.Lock()
	if !q.closed {
		q.push(j)
	}
	q.mu.Unlock()
}

// finishDead marks the job terminally failed. Dead jobs are never
// re-enqueued automatically; see RequeueDead for the operator path.
func (q *Queue) finishDead(ctx context.Context, j *job.Job, err error) {
	j.State = job.StateFailed
	j.LastError = err.Error()
	j.Touch()
	q.persist("failed", func(ctx context.Context) error {
		return q.store.UpdateJob(ctx, j)
	})
	q.extensions.EmitJobFailed(ctx, j, err)

	q.logger.Warn("job dead after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempts", j.Attempts),
		slog.String("error", err.Error()),
	)
}

// persist runs a store operation best-effort: errors are logged and
// swallowed so a persistence failure never fails an enqueue or aborts
// an execution. Writes for a job stay ordered because each happens on
// the goroutine that owns the job at that moment. No-op without a store.
func (q *Queue) persist(op string, fn func(ctx context.Context) error) {
	if q.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		q.logger.Warn("job persistence failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}
