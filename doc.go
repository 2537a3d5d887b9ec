// Package courier provides in-process background job execution and reliable
// webhook delivery for Go services.
//
// Courier is a library, not a service. Construct an engine with a store,
// register jobs as ordinary Go functions, and publish domain events; the
// webhook subsystem fans them out to registered subscriptions with HMAC
// signing, retry schedules, and circuit-breaker protection.
//
// # Quick Start
//
//	eng, err := engine.Build(courier.DefaultConfig(), memory.New())
//	engine.Register(eng, job.NewDefinition("email.send", sendEmail))
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, queue, breaker, scheduler, webhook) owns its own
// store interface; a single backend (memory, bun/Postgres, redis) implements
// all of them. The queue is a single-process scheduler: a min-heap of due
// times and one wake timer, with bounded parallelism enforced by a running
// counter. Entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package courier
