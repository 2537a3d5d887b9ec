package ext

import (
	"context"
	"time"

	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/webhook"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when the queue begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully. The elapsed
// duration is measured from enqueue time, not handler start.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails with attempts remaining.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error
}

// JobFailed is called when a job exhausts its attempts and is dead.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Webhook lifecycle hooks
// ──────────────────────────────────────────────────

// DeliverySucceeded is called when a webhook delivery gets a 2xx response.
type DeliverySucceeded interface {
	OnDeliverySucceeded(ctx context.Context, d *webhook.Delivery, elapsed time.Duration) error
}

// DeliveryRetrying is called when a delivery attempt fails and a retry
// has been scheduled.
type DeliveryRetrying interface {
	OnDeliveryRetrying(ctx context.Context, d *webhook.Delivery, nextAt time.Time) error
}

// DeliveryFailed is called when a delivery exhausts its retry schedule.
type DeliveryFailed interface {
	OnDeliveryFailed(ctx context.Context, d *webhook.Delivery, err error) error
}

// SubscriptionDisabled is called when a subscription crosses its failure
// threshold and is automatically deactivated.
type SubscriptionDisabled interface {
	OnSubscriptionDisabled(ctx context.Context, sub *webhook.Subscription) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// BreakerStateChanged is called on every circuit breaker state transition.
type BreakerStateChanged interface {
	OnBreakerStateChanged(ctx context.Context, name string, from, to breaker.State) error
}

// ScheduleFired is called when a scheduler entry fires and enqueues a job.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called when the engine is shutting down gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
