// Package ext defines the extension system for courier.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, writing audit logs, forwarding to alerting, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued] — job was accepted into the queue
//   - [JobStarted] — the queue began executing the job
//   - [JobCompleted] — job finished successfully
//   - [JobRetrying] — job failed but will be retried
//   - [JobFailed] — job exhausted its attempts and is dead
//
// # Webhook Lifecycle Hooks
//
//   - [DeliverySucceeded] — a delivery got a 2xx response
//   - [DeliveryRetrying] — a delivery failed and a retry was scheduled
//   - [DeliveryFailed] — a delivery exhausted its retry schedule
//   - [SubscriptionDisabled] — a subscription was auto-disabled
//
// # Other Hooks
//
//   - [BreakerStateChanged] — a circuit breaker transitioned state
//   - [ScheduleFired] — a scheduler entry fired and enqueued a job
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated to the emitting subsystem.
package ext
