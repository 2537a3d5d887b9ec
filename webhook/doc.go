// Package webhook implements reliable webhook delivery: fan-out of
// published events to active subscriptions, HMAC-SHA256 signed HTTP
// dispatch, a fixed retry schedule with jitter, and automatic
// deactivation of persistently failing subscriptions.
//
// Delivery rides on the job queue: each delivery attempt is a
// "webhook.deliver" job, and retries are fresh delayed jobs rather than
// queue-level retries, so the delivery schedule is fully owned here.
package webhook
