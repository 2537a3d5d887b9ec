package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/backoff"
	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/store/memory"
	"github.com/courierhq/courier/webhook"
)

// enqueueSpy records delivery jobs instead of running them.
type enqueueSpy struct {
	mu    sync.Mutex
	calls []enqueueCall
}

type enqueueCall struct {
	JobType string
	Payload []byte
	Opts    job.Options
}

func (e *enqueueSpy) Fn() webhook.EnqueueFunc {
	return func(_ context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
		o := job.DefaultOptions()
		for _, opt := range opts {
			opt(&o)
		}
		e.mu.Lock()
		e.calls = append(e.calls, enqueueCall{JobType: jobType, Payload: payload, Opts: o})
		e.mu.Unlock()
		return id.NewJobID(), nil
	}
}

func (e *enqueueSpy) getCalls() []enqueueCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]enqueueCall, len(e.calls))
	copy(out, e.calls)
	return out
}

type deliverPayload struct {
	DeliveryID id.DeliveryID   `json:"delivery_id"`
	Body       json.RawMessage `json:"body"`
}

// newService wires a Service against a fresh memory store with a
// jitter-free one-entry retry schedule, so tests can reason about exact
// attempt budgets (1 initial + 1 retry).
func newService(t *testing.T, opts ...webhook.Option) (*webhook.Service, *memory.Store, *enqueueSpy) {
	t.Helper()
	st := memory.New()
	spy := &enqueueSpy{}
	base := []webhook.Option{
		webhook.WithSchedule(&backoff.Schedule{Delays: []time.Duration{30 * time.Second}}),
	}
	svc := webhook.NewService(st, spy.Fn(), breaker.New("webhook_delivery"), append(base, opts...)...)
	return svc, st, spy
}

func mustCreateSub(t *testing.T, svc *webhook.Service, eventType, targetURL string) *webhook.Subscription {
	t.Helper()
	sub, err := svc.CreateSubscription(context.Background(), eventType, targetURL, "whsec_test")
	if err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	return sub
}

func TestPublishEventFansOutToActiveSubscriptions(t *testing.T) {
	ctx := context.Background()
	svc, st, spy := newService(t)

	mustCreateSub(t, svc, "order.created", "https://a.example.com/hook")
	mustCreateSub(t, svc, "order.created", "https://b.example.com/hook")
	inactive := mustCreateSub(t, svc, "order.created", "https://c.example.com/hook")
	if err := svc.DisableSubscription(ctx, inactive.ID); err != nil {
		t.Fatalf("DisableSubscription() error = %v", err)
	}
	mustCreateSub(t, svc, "user.created", "https://d.example.com/hook")

	if err := svc.PublishEvent(ctx, "order.created", map[string]string{"order_id": "o_1"}); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	deliveries, err := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if got, want := len(deliveries), 2; got != want {
		t.Fatalf("deliveries created = %d, want %d", got, want)
	}

	calls := spy.getCalls()
	if got, want := len(calls), 2; got != want {
		t.Fatalf("jobs enqueued = %d, want %d", got, want)
	}

	// All deliveries of one publish share a single idempotency key, and
	// each delivery job carries the full envelope.
	var keys []string
	for _, c := range calls {
		if c.JobType != webhook.JobTypeDeliver {
			t.Errorf("job type = %q, want %q", c.JobType, webhook.JobTypeDeliver)
		}
		if c.Opts.Delay != 0 {
			t.Errorf("initial delivery delayed by %v, want immediate", c.Opts.Delay)
		}
		if c.Opts.MaxAttempts != 1 {
			t.Errorf("delivery job MaxAttempts = %d, want 1", c.Opts.MaxAttempts)
		}
		var dp deliverPayload
		if err := json.Unmarshal(c.Payload, &dp); err != nil {
			t.Fatalf("unmarshal job payload: %v", err)
		}
		var env webhook.Envelope
		if err := json.Unmarshal(dp.Body, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Event != "order.created" {
			t.Errorf("envelope event = %q, want order.created", env.Event)
		}
		if !strings.HasPrefix(env.IdempotencyKey, "wh_") {
			t.Errorf("idempotency key = %q, want wh_ prefix", env.IdempotencyKey)
		}
		keys = append(keys, env.IdempotencyKey)
	}
	if keys[0] != keys[1] {
		t.Errorf("idempotency keys differ across one publish: %q vs %q", keys[0], keys[1])
	}
}

func TestPublishEventNoSubscribers(t *testing.T) {
	ctx := context.Background()
	svc, st, spy := newService(t)

	if err := svc.PublishEvent(ctx, "nobody.cares", map[string]int{"n": 1}); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	if len(deliveries) != 0 {
		t.Errorf("deliveries = %d, want 0", len(deliveries))
	}
	if len(spy.getCalls()) != 0 {
		t.Errorf("jobs = %d, want 0", len(spy.getCalls()))
	}
}

func TestHandleDeliverSuccess(t *testing.T) {
	ctx := context.Background()

	type received struct {
		body      []byte
		signature string
		event     string
		idemKey   string
		ctype     string
	}
	var mu sync.Mutex
	var got *received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body) //nolint:errcheck
		mu.Lock()
		got = &received{
			body:      body,
			signature: r.Header.Get(webhook.HeaderSignature),
			event:     r.Header.Get(webhook.HeaderEvent),
			idemKey:   r.Header.Get(webhook.HeaderIdempotencyKey),
			ctype:     r.Header.Get("Content-Type"),
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, st, spy := newService(t)
	sub := mustCreateSub(t, svc, "order.created", srv.URL)

	if err := svc.PublishEvent(ctx, "order.created", map[string]string{"order_id": "o_1"}); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	calls := spy.getCalls()
	if len(calls) != 1 {
		t.Fatalf("jobs enqueued = %d, want 1", len(calls))
	}

	if err := svc.HandleDeliver(ctx, calls[0].Payload); err != nil {
		t.Fatalf("HandleDeliver() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("target never received the request")
	}
	if got.ctype != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got.ctype)
	}
	if got.event != "order.created" {
		t.Errorf("event header = %q, want order.created", got.event)
	}
	if !strings.HasPrefix(got.idemKey, "wh_") {
		t.Errorf("idempotency header = %q, want wh_ prefix", got.idemKey)
	}
	if !webhook.VerifySignature(sub.Secret, got.body, got.signature) {
		t.Error("signature does not verify against the received body")
	}

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	d := deliveries[0]
	if d.Status != webhook.StatusDelivered {
		t.Errorf("Status = %q, want delivered", d.Status)
	}
	if d.ResponseCode != http.StatusOK {
		t.Errorf("ResponseCode = %d, want 200", d.ResponseCode)
	}
	if d.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", d.AttemptCount)
	}

	gotSub, _ := st.GetSubscription(ctx, sub.ID)
	if gotSub.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", gotSub.FailureCount)
	}
	if gotSub.LastSuccessAt == nil {
		t.Error("LastSuccessAt not set after success")
	}
}

func TestHandleDeliverFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, st, spy := newService(t)
	sub := mustCreateSub(t, svc, "order.created", srv.URL)

	svc.PublishEvent(ctx, "order.created", map[string]string{"order_id": "o_1"})
	first := spy.getCalls()[0]

	if err := svc.HandleDeliver(ctx, first.Payload); err != nil {
		t.Fatalf("HandleDeliver() error = %v", err)
	}

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	d := deliveries[0]
	if d.Status != webhook.StatusFailed {
		t.Errorf("Status = %q, want failed", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", d.AttemptCount)
	}
	if d.ResponseCode != http.StatusInternalServerError {
		t.Errorf("ResponseCode = %d, want 500", d.ResponseCode)
	}
	if d.NextRetryAt == nil {
		t.Fatal("NextRetryAt not set, want scheduled retry")
	}
	if until := time.Until(*d.NextRetryAt); until < 25*time.Second || until > 35*time.Second {
		t.Errorf("retry in %v, want about 30s", until)
	}

	// A fresh delayed job carries the same full envelope.
	calls := spy.getCalls()
	if len(calls) != 2 {
		t.Fatalf("jobs enqueued = %d, want 2 (initial + retry)", len(calls))
	}
	retry := calls[1]
	if retry.Opts.Delay < 25*time.Second || retry.Opts.Delay > 35*time.Second {
		t.Errorf("retry job delay = %v, want about 30s", retry.Opts.Delay)
	}

	// A transient failure is not charged to the subscription yet.
	gotSub, _ := st.GetSubscription(ctx, sub.ID)
	if gotSub.FailureCount != 0 {
		t.Errorf("FailureCount = %d after transient failure, want 0", gotSub.FailureCount)
	}
}

func TestHandleDeliverSucceedsAfterRetries(t *testing.T) {
	ctx := context.Background()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, st, spy := newService(t,
		webhook.WithSchedule(&backoff.Schedule{Delays: []time.Duration{10 * time.Second, 20 * time.Second}}),
	)
	sub := mustCreateSub(t, svc, "order.created", srv.URL)

	// A prior terminal failure left the subscription with a streak.
	sub.FailureCount = 4
	st.UpdateSubscription(ctx, sub)

	svc.PublishEvent(ctx, "order.created", map[string]string{"order_id": "o_1"})

	// 500, 500, then 200; each failed attempt schedules the next retry.
	for range 3 {
		calls := spy.getCalls()
		if err := svc.HandleDeliver(ctx, calls[len(calls)-1].Payload); err != nil {
			t.Fatalf("HandleDeliver() error = %v", err)
		}
	}
	if hits != 3 {
		t.Fatalf("target hit %d times, want 3", hits)
	}

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	d := deliveries[0]
	if d.Status != webhook.StatusDelivered {
		t.Errorf("Status = %q, want delivered", d.Status)
	}
	if d.AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", d.AttemptCount)
	}
	if d.ResponseCode != http.StatusOK {
		t.Errorf("ResponseCode = %d, want 200", d.ResponseCode)
	}
	if d.NextRetryAt != nil {
		t.Error("NextRetryAt set on a delivered delivery")
	}
	if d.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want cleared", d.ErrorMessage)
	}

	// Success resets the accumulated failure streak.
	gotSub, _ := st.GetSubscription(ctx, sub.ID)
	if gotSub.FailureCount != 0 {
		t.Errorf("FailureCount = %d after success, want 0", gotSub.FailureCount)
	}
	if gotSub.LastSuccessAt == nil {
		t.Error("LastSuccessAt not set after success")
	}

	// No fourth job after the success.
	if got := len(spy.getCalls()); got != 3 {
		t.Errorf("jobs enqueued = %d, want 3", got)
	}
}

func TestHandleDeliverExhaustsScheduleTerminally(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc, st, spy := newService(t)
	sub := mustCreateSub(t, svc, "order.created", srv.URL)

	svc.PublishEvent(ctx, "order.created", map[string]string{"order_id": "o_1"})

	// First attempt fails, second (the only scheduled retry) fails too.
	svc.HandleDeliver(ctx, spy.getCalls()[0].Payload)
	svc.HandleDeliver(ctx, spy.getCalls()[1].Payload)

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	d := deliveries[0]
	if d.Status != webhook.StatusFailed {
		t.Errorf("Status = %q, want failed", d.Status)
	}
	if d.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", d.AttemptCount)
	}
	if d.NextRetryAt != nil {
		t.Error("NextRetryAt set on a terminal failure")
	}
	if !d.Terminal() {
		t.Error("Terminal() = false for an exhausted delivery")
	}

	// No third job.
	if got := len(spy.getCalls()); got != 2 {
		t.Errorf("jobs enqueued = %d, want 2", got)
	}

	gotSub, _ := st.GetSubscription(ctx, sub.ID)
	if gotSub.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", gotSub.FailureCount)
	}
	if gotSub.LastFailureAt == nil {
		t.Error("LastFailureAt not set after terminal failure")
	}
	if !gotSub.Active {
		t.Error("subscription deactivated below the threshold")
	}
}

func TestAutoDisableAtThreshold(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, st, spy := newService(t, webhook.WithAutoDisableThreshold(2))
	sub := mustCreateSub(t, svc, "order.created", srv.URL)
	// An operator listens for the disabled notice.
	mustCreateSub(t, svc, webhook.EventSubscriptionDisabled, "https://ops.example.com/hook")

	// Two events, each exhausting its schedule (1 attempt + 1 retry).
	for range 2 {
		svc.PublishEvent(ctx, "order.created", map[string]string{"n": "x"})
		calls := spy.getCalls()
		svc.HandleDeliver(ctx, calls[len(calls)-1].Payload)
		calls = spy.getCalls()
		svc.HandleDeliver(ctx, calls[len(calls)-1].Payload)
	}

	gotSub, _ := st.GetSubscription(ctx, sub.ID)
	if gotSub.FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2", gotSub.FailureCount)
	}
	if gotSub.Active {
		t.Error("subscription still active at the disable threshold")
	}

	// The disabled notice rode the normal pipeline to the ops listener,
	// exactly once: the streak only crosses the threshold once.
	notices, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	var disabledNotices int
	for _, d := range notices {
		if d.EventType == webhook.EventSubscriptionDisabled {
			disabledNotices++
		}
	}
	if disabledNotices != 1 {
		t.Errorf("subscription.disabled deliveries = %d, want exactly 1", disabledNotices)
	}

	// Further publishes skip the disabled subscription entirely.
	before := len(spy.getCalls())
	svc.PublishEvent(ctx, "order.created", map[string]string{"n": "y"})
	if got := len(spy.getCalls()); got != before {
		t.Errorf("disabled subscription still received %d new jobs", got-before)
	}
}

func TestTruncatedStoredPayloadStillDeliversFullBody(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var receivedLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body) //nolint:errcheck
		mu.Lock()
		receivedLen = len(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, st, spy := newService(t, webhook.WithMaxStoredPayload(256))
	mustCreateSub(t, svc, "report.ready", srv.URL)

	big := strings.Repeat("x", 4096)
	if err := svc.PublishEvent(ctx, "report.ready", map[string]string{"blob": big}); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	var marker struct {
		Truncated    bool `json:"truncated"`
		OriginalSize int  `json:"original_size"`
	}
	if err := json.Unmarshal(deliveries[0].Payload, &marker); err != nil {
		t.Fatalf("unmarshal stored payload: %v", err)
	}
	if !marker.Truncated {
		t.Error("stored payload not marked truncated")
	}
	if marker.OriginalSize <= 4096 {
		t.Errorf("original_size = %d, want > 4096", marker.OriginalSize)
	}

	if err := svc.HandleDeliver(ctx, spy.getCalls()[0].Payload); err != nil {
		t.Fatalf("HandleDeliver() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if receivedLen <= 4096 {
		t.Errorf("target received %d bytes, want the full envelope", receivedLen)
	}
}

func TestHandleDeliverAbandonsInactiveSubscription(t *testing.T) {
	ctx := context.Background()
	svc, st, spy := newService(t)
	sub := mustCreateSub(t, svc, "order.created", "https://unreachable.example.com/hook")

	svc.PublishEvent(ctx, "order.created", map[string]string{"n": "1"})
	svc.DisableSubscription(ctx, sub.ID)

	if err := svc.HandleDeliver(ctx, spy.getCalls()[0].Payload); err != nil {
		t.Fatalf("HandleDeliver() error = %v", err)
	}

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	d := deliveries[0]
	if d.Status != webhook.StatusFailed {
		t.Errorf("Status = %q, want failed", d.Status)
	}
	if d.NextRetryAt != nil {
		t.Error("abandoned delivery has a scheduled retry")
	}
	if d.ErrorMessage == "" {
		t.Error("abandoned delivery has no error message")
	}
	// Abandonment is not charged to the subscription.
	gotSub, _ := st.GetSubscription(ctx, sub.ID)
	if gotSub.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", gotSub.FailureCount)
	}
}

func TestHandleDeliverSkipsAlreadyDelivered(t *testing.T) {
	ctx := context.Background()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, _, spy := newService(t)
	mustCreateSub(t, svc, "order.created", srv.URL)
	svc.PublishEvent(ctx, "order.created", map[string]string{"n": "1"})

	payload := spy.getCalls()[0].Payload
	svc.HandleDeliver(ctx, payload)
	svc.HandleDeliver(ctx, payload)

	if hits != 1 {
		t.Errorf("target hit %d times for one delivered delivery, want 1", hits)
	}
}

func TestCircuitOpenCountsAsTransientFailure(t *testing.T) {
	ctx := context.Background()
	svc, st, spy := newService(t)

	// Force the shared breaker open before the first attempt.
	cb := breaker.New("webhook_delivery", breaker.WithFailureThreshold(1))
	svc = webhook.NewService(st, spy.Fn(), cb,
		webhook.WithSchedule(&backoff.Schedule{Delays: []time.Duration{time.Minute}}),
	)
	cb.Do(ctx, func(context.Context) error { return errors.New("boom") })

	mustCreateSub(t, svc, "order.created", "https://unreachable.example.com/hook")
	svc.PublishEvent(ctx, "order.created", map[string]string{"n": "1"})

	if err := svc.HandleDeliver(ctx, spy.getCalls()[0].Payload); err != nil {
		t.Fatalf("HandleDeliver() error = %v", err)
	}

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	d := deliveries[0]
	if d.Status != webhook.StatusFailed {
		t.Errorf("Status = %q, want failed", d.Status)
	}
	if d.NextRetryAt == nil {
		t.Error("open circuit did not schedule a retry")
	}
	if !strings.Contains(d.ErrorMessage, courier.ErrCircuitOpen.Error()) {
		t.Errorf("ErrorMessage = %q, want mention of open circuit", d.ErrorMessage)
	}
}

func TestRateLimitCountsAsTransientFailure(t *testing.T) {
	ctx := context.Background()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, st, spy := newService(t, webhook.WithRateLimit(rate.Limit(0.001), 1))
	mustCreateSub(t, svc, "order.created", srv.URL)

	// Burst of 1: first send passes, second is shed.
	svc.PublishEvent(ctx, "order.created", map[string]string{"n": "1"})
	svc.PublishEvent(ctx, "order.created", map[string]string{"n": "2"})
	calls := spy.getCalls()
	svc.HandleDeliver(ctx, calls[0].Payload)
	svc.HandleDeliver(ctx, calls[1].Payload)

	if hits != 1 {
		t.Errorf("target hit %d times, want 1 (second send rate-limited)", hits)
	}
	failed, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{Status: webhook.StatusFailed})
	if len(failed) != 1 {
		t.Fatalf("failed deliveries = %d, want 1", len(failed))
	}
	if failed[0].NextRetryAt == nil {
		t.Error("rate-limited delivery did not schedule a retry")
	}
}

func TestRetryDelivery(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, st, spy := newService(t)
	sub := mustCreateSub(t, svc, "order.created", srv.URL)
	svc.PublishEvent(ctx, "order.created", map[string]string{"n": "1"})
	svc.HandleDeliver(ctx, spy.getCalls()[0].Payload)

	deliveries, _ := st.ListDeliveries(ctx, webhook.ListDeliveriesOpts{})
	delivered := deliveries[0]

	// Delivered deliveries are terminal.
	if err := svc.RetryDelivery(ctx, delivered.ID); !errors.Is(err, courier.ErrDeliveryTerminal) {
		t.Errorf("RetryDelivery() on delivered = %v, want ErrDeliveryTerminal", err)
	}

	// A failed delivery to an active subscription gets a fresh job.
	failed := &webhook.Delivery{
		Entity:         courier.NewEntity(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventType:      "order.created",
		Payload:        []byte(`{"event":"order.created","data":{},"timestamp":"t","idempotency_key":"wh_k"}`),
		Status:         webhook.StatusFailed,
		AttemptCount:   2,
	}
	st.CreateDelivery(ctx, failed)

	before := len(spy.getCalls())
	if err := svc.RetryDelivery(ctx, failed.ID); err != nil {
		t.Fatalf("RetryDelivery() error = %v", err)
	}
	calls := spy.getCalls()
	if len(calls) != before+1 {
		t.Fatalf("jobs enqueued = %d, want %d", len(calls), before+1)
	}
	if calls[len(calls)-1].Opts.Delay != 0 {
		t.Error("manual retry delayed, want immediate")
	}

	// Inactive subscription refuses the retry.
	svc.DisableSubscription(ctx, sub.ID)
	if err := svc.RetryDelivery(ctx, failed.ID); !errors.Is(err, courier.ErrSubscriptionInactive) {
		t.Errorf("RetryDelivery() on inactive sub = %v, want ErrSubscriptionInactive", err)
	}
}

func TestCreateSubscription(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	sub, err := svc.CreateSubscription(ctx, "order.created", "https://example.com/hook", "")
	if err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	if sub.Secret == "" {
		t.Error("empty secret not generated")
	}
	if !sub.Active {
		t.Error("new subscription not active")
	}

	if _, err := svc.CreateSubscription(ctx, "", "https://example.com/hook", ""); err == nil {
		t.Error("CreateSubscription() with empty event type, want error")
	}
	if _, err := svc.CreateSubscription(ctx, "x", "not a url", ""); err == nil {
		t.Error("CreateSubscription() with invalid URL, want error")
	}
}

func TestRotateSecretReactivatesAndResets(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t)
	sub := mustCreateSub(t, svc, "order.created", "https://example.com/hook")

	// Simulate a disabled, failing subscription.
	sub.Active = false
	sub.FailureCount = 7
	st.UpdateSubscription(ctx, sub)

	rotated, err := svc.RotateSecret(ctx, sub.ID)
	if err != nil {
		t.Fatalf("RotateSecret() error = %v", err)
	}
	if rotated.Secret == "whsec_test" {
		t.Error("secret not rotated")
	}
	if !rotated.Active {
		t.Error("RotateSecret() did not re-activate")
	}
	if rotated.FailureCount != 0 {
		t.Errorf("FailureCount = %d after rotate, want 0", rotated.FailureCount)
	}
}

func TestEnableResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t)
	sub := mustCreateSub(t, svc, "order.created", "https://example.com/hook")

	sub.Active = false
	sub.FailureCount = 10
	st.UpdateSubscription(ctx, sub)

	if err := svc.EnableSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("EnableSubscription() error = %v", err)
	}
	got, _ := st.GetSubscription(ctx, sub.ID)
	if !got.Active {
		t.Error("subscription not active after enable")
	}
	if got.FailureCount != 0 {
		t.Errorf("FailureCount = %d after enable, want 0", got.FailureCount)
	}
}
