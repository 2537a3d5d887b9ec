package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/backoff"
	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
)

// JobTypeDeliver is the job type carrying delivery attempts.
const JobTypeDeliver = "webhook.deliver"

// EventSubscriptionDisabled is published when a subscription is
// automatically deactivated after too many failed deliveries.
const EventSubscriptionDisabled = "webhook.subscription.disabled"

// EnqueueFunc is the callback the service uses to enqueue delivery jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits delivery lifecycle events. ext.Registry satisfies this
// interface.
type Emitter interface {
	EmitDeliverySucceeded(ctx context.Context, d *Delivery, elapsed time.Duration)
	EmitDeliveryRetrying(ctx context.Context, d *Delivery, nextAt time.Time)
	EmitDeliveryFailed(ctx context.Context, d *Delivery, delErr error)
	EmitSubscriptionDisabled(ctx context.Context, sub *Subscription)
}

// Envelope is the JSON body sent to webhook endpoints.
type Envelope struct {
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	Timestamp      string          `json:"timestamp"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// deliverPayload is the webhook.deliver job payload. Body carries the
// full signed envelope so retries never depend on the (possibly
// truncated) stored copy.
type deliverPayload struct {
	DeliveryID id.DeliveryID   `json:"delivery_id"`
	Body       json.RawMessage `json:"body"`
}

// truncationMarker replaces stored payloads larger than the cap.
type truncationMarker struct {
	Truncated      bool   `json:"truncated"`
	Event          string `json:"event"`
	IdempotencyKey string `json:"idempotency_key"`
	OriginalSize   int    `json:"original_size"`
}

var errRateLimited = errors.New("per-host rate limit exceeded")

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithHTTPClient sets the HTTP client used for deliveries. The client's
// own timeout is ignored; per-request deadlines come from SendTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithSendTimeout sets the hard deadline for a single delivery request.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithSchedule sets the retry delay schedule.
func WithSchedule(sched *backoff.Schedule) Option {
	return func(s *Service) { s.schedule = sched }
}

// WithMaxStoredPayload caps the stored copy of the envelope. Larger
// envelopes are stored as a truncation marker; the live send always
// carries the full body.
func WithMaxStoredPayload(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxStoredPayload = n
		}
	}
}

// WithAutoDisableThreshold sets how many consecutive terminal failures
// deactivate a subscription.
func WithAutoDisableThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.autoDisableThreshold = n
		}
	}
}

// WithRateLimit sets the per-host send rate limit. Over-limit sends
// count as transient delivery failures and go through the retry
// schedule rather than blocking.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Service) {
		s.rateLimit = limit
		s.rateBurst = burst
	}
}

// Service implements webhook fan-out and delivery.
type Service struct {
	store   Store
	enqueue EnqueueFunc
	breaker *breaker.Breaker
	emitter Emitter
	logger  *slog.Logger

	client      *http.Client
	sendTimeout time.Duration

	schedule             *backoff.Schedule
	maxStoredPayload     int
	autoDisableThreshold int

	rateLimit rate.Limit
	rateBurst int

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewService creates a webhook delivery service. Deliveries are sent
// through cb, which sheds load to failing targets as a group.
func NewService(store Store, enqueue EnqueueFunc, cb *breaker.Breaker, opts ...Option) *Service {
	s := &Service{
		store:                store,
		enqueue:              enqueue,
		breaker:              cb,
		logger:               slog.Default(),
		client:               &http.Client{},
		sendTimeout:          30 * time.Second,
		schedule:             backoff.DefaultDeliverySchedule(),
		maxStoredPayload:     64 * 1024,
		autoDisableThreshold: 10,
		rateLimit:            rate.Limit(25),
		rateBurst:            50,
		limiters:             make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler binds the delivery handler to the job registry.
func (s *Service) RegisterHandler(reg *job.Registry) {
	reg.Register(JobTypeDeliver, s.HandleDeliver)
}

// PublishEvent fans an event out to every active subscription matching
// eventType: one delivery record and one immediate delivery job per
// subscription, all sharing a single idempotency key. Publishing with
// zero matching subscriptions creates nothing and is not an error.
// Per-subscription store or enqueue failures are logged and skipped so
// one bad subscription never blocks the rest of the fan-out.
func (s *Service) PublishEvent(ctx context.Context, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	subs, err := s.store.ListSubscriptions(ctx, eventType, true)
	if err != nil {
		return fmt.Errorf("list subscriptions for %q: %w", eventType, err)
	}
	if len(subs) == 0 {
		return nil
	}

	env := Envelope{
		Event:          eventType,
		Data:           raw,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		IdempotencyKey: "wh_" + uuid.New().String(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	for _, sub := range subs {
		d := &Delivery{
			Entity:         courier.NewEntity(),
			ID:             id.NewDeliveryID(),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        s.storedPayload(body, env),
			Status:         StatusPending,
		}
		if err := s.store.CreateDelivery(ctx, d); err != nil {
			s.logger.Warn("create delivery failed, skipping subscription",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("event", eventType),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.enqueueDelivery(ctx, d.ID, body, 0); err != nil {
			s.logger.Warn("enqueue delivery failed, skipping subscription",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("delivery_id", d.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// storedPayload returns the audit copy of the envelope: the body itself
// when under the cap, otherwise a truncation marker.
func (s *Service) storedPayload(body []byte, env Envelope) []byte {
	if len(body) <= s.maxStoredPayload {
		return body
	}
	marker, err := json.Marshal(truncationMarker{
		Truncated:      true,
		Event:          env.Event,
		IdempotencyKey: env.IdempotencyKey,
		OriginalSize:   len(body),
	})
	if err != nil {
		return []byte(`{"truncated":true}`)
	}
	return marker
}

// enqueueDelivery enqueues a single-attempt delivery job. Retries are
// fresh delayed jobs scheduled here, never queue-level retries, so the
// delivery schedule stays fully owned by this package.
func (s *Service) enqueueDelivery(ctx context.Context, delID id.DeliveryID, body []byte, delay time.Duration) error {
	payload, err := json.Marshal(deliverPayload{DeliveryID: delID, Body: body})
	if err != nil {
		return fmt.Errorf("marshal delivery job payload: %w", err)
	}
	opts := []job.Option{job.WithMaxAttempts(1)}
	if delay > 0 {
		opts = append(opts, job.WithDelay(delay))
	}
	_, err = s.enqueue(ctx, JobTypeDeliver, payload, opts...)
	return err
}

// HandleDeliver executes one delivery attempt. It is the handler for
// webhook.deliver jobs.
func (s *Service) HandleDeliver(ctx context.Context, payload []byte) error {
	var dp deliverPayload
	if err := json.Unmarshal(payload, &dp); err != nil {
		return fmt.Errorf("unmarshal delivery payload: %w", err)
	}

	d, err := s.store.GetDelivery(ctx, dp.DeliveryID)
	if err != nil {
		return fmt.Errorf("load delivery %s: %w", dp.DeliveryID, err)
	}
	if d.Status == StatusDelivered {
		return nil
	}

	sub, err := s.store.GetSubscription(ctx, d.SubscriptionID)
	switch {
	case errors.Is(err, courier.ErrSubscriptionNotFound):
		s.abandon(ctx, d, "subscription no longer exists")
		return nil
	case err != nil:
		return fmt.Errorf("load subscription %s: %w", d.SubscriptionID, err)
	case !sub.Active:
		s.abandon(ctx, d, "subscription is inactive")
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(dp.Body, &env); err != nil {
		s.abandon(ctx, d, "malformed envelope: "+err.Error())
		return nil
	}

	start := time.Now()
	code, sendErr := s.send(ctx, sub, dp.Body, env)
	if sendErr == nil {
		s.recordSuccess(ctx, d, sub, code, time.Since(start))
		return nil
	}
	s.recordFailure(ctx, d, sub, code, dp.Body, sendErr)
	return nil
}

// send performs the signed HTTP POST through the per-host rate limiter
// and the shared circuit breaker.
func (s *Service) send(ctx context.Context, sub *Subscription, body []byte, env Envelope) (int, error) {
	target, err := url.Parse(sub.TargetURL)
	if err != nil {
		return 0, fmt.Errorf("parse target url: %w", err)
	}
	if !s.limiter(target.Host).Allow() {
		return 0, errRateLimited
	}

	var code int
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		var postErr error
		code, postErr = s.post(ctx, sub, body, env)
		return postErr
	})
	return code, err
}

// post issues the actual HTTP request and enforces the 2xx contract.
func (s *Service) post(ctx context.Context, sub *Subscription, body []byte, env Envelope) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(sub.Secret, body))
	req.Header.Set(HeaderEvent, env.Event)
	req.Header.Set(HeaderIdempotencyKey, env.IdempotencyKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("target responded %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// recordSuccess marks the delivery delivered and resets the
// subscription's failure streak.
func (s *Service) recordSuccess(ctx context.Context, d *Delivery, sub *Subscription, code int, elapsed time.Duration) {
	now := time.Now().UTC()

	d.Status = StatusDelivered
	d.ResponseCode = code
	d.ErrorMessage = ""
	d.AttemptCount++
	d.NextRetryAt = nil
	d.Touch()
	if err := s.store.UpdateDelivery(ctx, d); err != nil {
		s.logger.Warn("persist delivered state failed",
			slog.String("delivery_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	sub.FailureCount = 0
	sub.LastSuccessAt = &now
	sub.Touch()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		s.logger.Warn("persist subscription success failed",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitDeliverySucceeded(ctx, d, elapsed)
	}
	s.logger.Info("webhook delivered",
		slog.String("delivery_id", d.ID.String()),
		slog.String("event", d.EventType),
		slog.Int("code", code),
		slog.Int("attempt", d.AttemptCount),
	)
}

// recordFailure consumes a failed attempt: schedule a retry when the
// schedule has entries left, otherwise make the failure terminal and
// charge it to the subscription.
func (s *Service) recordFailure(ctx context.Context, d *Delivery, sub *Subscription, code int, body []byte, cause error) {
	d.AttemptCount++
	d.Status = StatusFailed
	d.ResponseCode = code
	d.ErrorMessage = cause.Error()

	if !s.schedule.Exhausted(d.AttemptCount) {
		delay := s.schedule.Delay(d.AttemptCount)
		next := time.Now().UTC().Add(delay)
		d.NextRetryAt = &next
		d.Touch()
		if err := s.store.UpdateDelivery(ctx, d); err != nil {
			s.logger.Warn("persist retry state failed",
				slog.String("delivery_id", d.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		if err := s.enqueueDelivery(ctx, d.ID, body, delay); err != nil {
			s.logger.Error("schedule retry failed",
				slog.String("delivery_id", d.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		if s.emitter != nil {
			s.emitter.EmitDeliveryRetrying(ctx, d, next)
		}
		s.logger.Warn("webhook delivery failed, retry scheduled",
			slog.String("delivery_id", d.ID.String()),
			slog.String("event", d.EventType),
			slog.Int("attempt", d.AttemptCount),
			slog.Duration("retry_in", delay),
			slog.String("error", cause.Error()),
		)
		return
	}

	// Schedule exhausted: terminal.
	now := time.Now().UTC()
	d.NextRetryAt = nil
	d.Touch()
	if err := s.store.UpdateDelivery(ctx, d); err != nil {
		s.logger.Warn("persist terminal failure failed",
			slog.String("delivery_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	sub.FailureCount++
	sub.LastFailureAt = &now
	disabled := false
	if sub.Active && sub.FailureCount >= s.autoDisableThreshold {
		sub.Active = false
		disabled = true
	}
	sub.Touch()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		s.logger.Warn("persist subscription failure failed",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitDeliveryFailed(ctx, d, cause)
	}
	s.logger.Error("webhook delivery exhausted retry schedule",
		slog.String("delivery_id", d.ID.String()),
		slog.String("event", d.EventType),
		slog.String("subscription_id", sub.ID.String()),
		slog.Int("attempts", d.AttemptCount),
		slog.String("error", cause.Error()),
	)

	if disabled {
		if s.emitter != nil {
			s.emitter.EmitSubscriptionDisabled(ctx, sub)
		}
		s.logger.Warn("subscription auto-disabled",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("event_type", sub.EventType),
			slog.Int("failure_count", sub.FailureCount),
		)
		// The disabled notice rides the normal pipeline so operators
		// can subscribe to it like any other event.
		if err := s.PublishEvent(ctx, EventSubscriptionDisabled, map[string]any{
			"subscription_id": sub.ID.String(),
			"event_type":      sub.EventType,
			"target_url":      sub.TargetURL,
			"failure_count":   sub.FailureCount,
			"disabled_at":     now.Format(time.RFC3339),
		}); err != nil {
			s.logger.Warn("publish disabled notice failed",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// abandon marks a delivery terminally failed without charging the
// subscription, used when the subscription itself is gone or inactive.
func (s *Service) abandon(ctx context.Context, d *Delivery, reason string) {
	d.Status = StatusFailed
	d.ErrorMessage = reason
	d.NextRetryAt = nil
	d.Touch()
	if err := s.store.UpdateDelivery(ctx, d); err != nil {
		s.logger.Warn("persist abandoned delivery failed",
			slog.String("delivery_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if s.emitter != nil {
		s.emitter.EmitDeliveryFailed(ctx, d, errors.New(reason))
	}
	s.logger.Warn("webhook delivery abandoned",
		slog.String("delivery_id", d.ID.String()),
		slog.String("reason", reason),
	)
}

// RetryDelivery manually re-attempts a delivery immediately, bypassing
// the retry schedule. Delivered deliveries return ErrDeliveryTerminal;
// deliveries to inactive subscriptions return ErrSubscriptionInactive.
func (s *Service) RetryDelivery(ctx context.Context, delID id.DeliveryID) error {
	d, err := s.store.GetDelivery(ctx, delID)
	if err != nil {
		return err
	}
	if d.Status == StatusDelivered {
		return courier.ErrDeliveryTerminal
	}

	sub, err := s.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		return err
	}
	if !sub.Active {
		return courier.ErrSubscriptionInactive
	}

	return s.enqueueDelivery(ctx, d.ID, d.Payload, 0)
}

// limiter returns the rate limiter for a target host, creating it on
// first use.
func (s *Service) limiter(host string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[host] = l
	}
	return l
}
