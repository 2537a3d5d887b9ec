package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/webhook"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type deliverySucceededEntry struct {
	name string
	hook DeliverySucceeded
}

type deliveryRetryingEntry struct {
	name string
	hook DeliveryRetrying
}

type deliveryFailedEntry struct {
	name string
	hook DeliveryFailed
}

type subscriptionDisabledEntry struct {
	name string
	hook SubscriptionDisabled
}

type breakerStateChangedEntry struct {
	name string
	hook BreakerStateChanged
}

type scheduleFiredEntry struct {
	name string
	hook ScheduleFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued          []jobEnqueuedEntry
	jobStarted           []jobStartedEntry
	jobCompleted         []jobCompletedEntry
	jobRetrying          []jobRetryingEntry
	jobFailed            []jobFailedEntry
	deliverySucceeded    []deliverySucceededEntry
	deliveryRetrying     []deliveryRetryingEntry
	deliveryFailed       []deliveryFailedEntry
	subscriptionDisabled []subscriptionDisabledEntry
	breakerStateChanged  []breakerStateChangedEntry
	scheduleFired        []scheduleFiredEntry
	shutdown             []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(DeliverySucceeded); ok {
		r.deliverySucceeded = append(r.deliverySucceeded, deliverySucceededEntry{name, h})
	}
	if h, ok := e.(DeliveryRetrying); ok {
		r.deliveryRetrying = append(r.deliveryRetrying, deliveryRetryingEntry{name, h})
	}
	if h, ok := e.(DeliveryFailed); ok {
		r.deliveryFailed = append(r.deliveryFailed, deliveryFailedEntry{name, h})
	}
	if h, ok := e.(SubscriptionDisabled); ok {
		r.subscriptionDisabled = append(r.subscriptionDisabled, subscriptionDisabledEntry{name, h})
	}
	if h, ok := e.(BreakerStateChanged); ok {
		r.breakerStateChanged = append(r.breakerStateChanged, breakerStateChangedEntry{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, scheduleFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// logHookError records a hook failure without propagating it.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all JobEnqueued hooks.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("JobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all JobStarted hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("JobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all JobCompleted hooks.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("JobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all JobRetrying hooks.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt); err != nil {
			r.logHookError("JobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all JobFailed hooks.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("JobFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Webhook event emitters
// ──────────────────────────────────────────────────

// EmitDeliverySucceeded notifies all DeliverySucceeded hooks.
func (r *Registry) EmitDeliverySucceeded(ctx context.Context, d *webhook.Delivery, elapsed time.Duration) {
	for _, e := range r.deliverySucceeded {
		if err := e.hook.OnDeliverySucceeded(ctx, d, elapsed); err != nil {
			r.logHookError("DeliverySucceeded", e.name, err)
		}
	}
}

// EmitDeliveryRetrying notifies all DeliveryRetrying hooks.
func (r *Registry) EmitDeliveryRetrying(ctx context.Context, d *webhook.Delivery, nextAt time.Time) {
	for _, e := range r.deliveryRetrying {
		if err := e.hook.OnDeliveryRetrying(ctx, d, nextAt); err != nil {
			r.logHookError("DeliveryRetrying", e.name, err)
		}
	}
}

// EmitDeliveryFailed notifies all DeliveryFailed hooks.
func (r *Registry) EmitDeliveryFailed(ctx context.Context, d *webhook.Delivery, delErr error) {
	for _, e := range r.deliveryFailed {
		if err := e.hook.OnDeliveryFailed(ctx, d, delErr); err != nil {
			r.logHookError("DeliveryFailed", e.name, err)
		}
	}
}

// EmitSubscriptionDisabled notifies all SubscriptionDisabled hooks.
func (r *Registry) EmitSubscriptionDisabled(ctx context.Context, sub *webhook.Subscription) {
	for _, e := range r.subscriptionDisabled {
		if err := e.hook.OnSubscriptionDisabled(ctx, sub); err != nil {
			r.logHookError("SubscriptionDisabled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Breaker / scheduler / lifecycle emitters
// ──────────────────────────────────────────────────

// EmitBreakerStateChanged notifies all BreakerStateChanged hooks.
func (r *Registry) EmitBreakerStateChanged(ctx context.Context, name string, from, to breaker.State) {
	for _, e := range r.breakerStateChanged {
		if err := e.hook.OnBreakerStateChanged(ctx, name, from, to); err != nil {
			r.logHookError("BreakerStateChanged", e.name, err)
		}
	}
}

// EmitScheduleFired notifies all ScheduleFired hooks.
func (r *Registry) EmitScheduleFired(ctx context.Context, entryName string, jobID id.JobID) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, entryName, jobID); err != nil {
			r.logHookError("ScheduleFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("Shutdown", e.name, err)
		}
	}
}
