package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/observability"
	"github.com/courierhq/courier/webhook"
)

// The extension runs against the global MeterProvider, which defaults
// to noop instruments, so these tests verify the hook contract: every
// hook accepts its event and never surfaces an error into the emitter.

func newTestJob() *job.Job {
	return &job.Job{
		Entity: courier.NewEntity(),
		ID:     id.NewJobID(),
		Type:   "send.email",
	}
}

func newTestDelivery() *webhook.Delivery {
	return &webhook.Delivery{
		Entity:    courier.NewEntity(),
		ID:        id.NewDeliveryID(),
		EventType: "order.created",
	}
}

func TestMetricsExtensionName(t *testing.T) {
	e := observability.NewMetricsExtension()
	if got, want := e.Name(), "observability-metrics"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}

func TestJobHooksNeverError(t *testing.T) {
	ctx := context.Background()
	e := observability.NewMetricsExtension()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Errorf("OnJobEnqueued() error = %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, 100*time.Millisecond); err != nil {
		t.Errorf("OnJobCompleted() error = %v", err)
	}
	if err := e.OnJobRetrying(ctx, j, 2); err != nil {
		t.Errorf("OnJobRetrying() error = %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Errorf("OnJobFailed() error = %v", err)
	}
}

func TestDeliveryHooksNeverError(t *testing.T) {
	ctx := context.Background()
	e := observability.NewMetricsExtension()
	d := newTestDelivery()

	if err := e.OnDeliverySucceeded(ctx, d, 50*time.Millisecond); err != nil {
		t.Errorf("OnDeliverySucceeded() error = %v", err)
	}
	if err := e.OnDeliveryRetrying(ctx, d, time.Now().Add(time.Minute)); err != nil {
		t.Errorf("OnDeliveryRetrying() error = %v", err)
	}
	if err := e.OnDeliveryFailed(ctx, d, errors.New("target down")); err != nil {
		t.Errorf("OnDeliveryFailed() error = %v", err)
	}
	sub := &webhook.Subscription{
		Entity:    courier.NewEntity(),
		ID:        id.NewSubscriptionID(),
		EventType: "order.created",
	}
	if err := e.OnSubscriptionDisabled(ctx, sub); err != nil {
		t.Errorf("OnSubscriptionDisabled() error = %v", err)
	}
}

func TestBreakerAndScheduleHooks(t *testing.T) {
	ctx := context.Background()
	e := observability.NewMetricsExtension()

	if err := e.OnBreakerStateChanged(ctx, "webhook_delivery", breaker.Closed, breaker.Open); err != nil {
		t.Errorf("OnBreakerStateChanged() error = %v", err)
	}
	if err := e.OnScheduleFired(ctx, "cleanup@1h", id.NewJobID()); err != nil {
		t.Errorf("OnScheduleFired() error = %v", err)
	}
}

func TestGaugeSourcesAccepted(t *testing.T) {
	reg := breaker.NewRegistry()
	reg.Get("webhook_delivery")

	// Constructing with gauge sources must register callbacks without
	// panicking even on the noop provider.
	e := observability.NewMetricsExtension(
		observability.WithQueueStats(func() (int, int) { return 3, 1 }),
		observability.WithBreakerRegistry(reg),
	)
	if e == nil {
		t.Fatal("NewMetricsExtension() returned nil")
	}
}
