// Package queue provides the in-process job scheduler and executor: typed
// handlers with bounded concurrency, delayed execution, immediate retries
// up to a per-job attempt budget, and optional durable persistence with
// crash recovery.
//
// The dispatcher keeps ready jobs in a min-heap ordered by due time and
// arms a single wake timer for the earliest not-yet-due job; it never
// polls. Parallelism is bounded by a running counter, and handlers run as
// independent goroutines so dispatch is never blocked by a slow job.
//
// The queue itself applies no backoff between retries: a failed job with
// attempts remaining is re-inserted immediately. Callers that need spaced
// retries (webhook delivery, for example) re-enqueue with an explicit
// delay instead.
package queue
