package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/ext"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/webhook"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnDeliverySucceeded(_ context.Context, _ *webhook.Delivery, _ time.Duration) error {
	e.calls = append(e.calls, "OnDeliverySucceeded")
	return nil
}

func (e *allHooksExt) OnDeliveryRetrying(_ context.Context, _ *webhook.Delivery, _ time.Time) error {
	e.calls = append(e.calls, "OnDeliveryRetrying")
	return nil
}

func (e *allHooksExt) OnDeliveryFailed(_ context.Context, _ *webhook.Delivery, _ error) error {
	e.calls = append(e.calls, "OnDeliveryFailed")
	return nil
}

func (e *allHooksExt) OnSubscriptionDisabled(_ context.Context, _ *webhook.Subscription) error {
	e.calls = append(e.calls, "OnSubscriptionDisabled")
	return nil
}

func (e *allHooksExt) OnBreakerStateChanged(_ context.Context, _ string, _, _ breaker.State) error {
	e.calls = append(e.calls, "OnBreakerStateChanged")
	return nil
}

func (e *allHooksExt) OnScheduleFired(_ context.Context, _ string, _ id.JobID) error {
	e.calls = append(e.calls, "OnScheduleFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// jobOnlyExt only implements job-related hooks.
type jobOnlyExt struct {
	calls []string
}

func (e *jobOnlyExt) Name() string { return "job-only" }

func (e *jobOnlyExt) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *jobOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	jo := &jobOnlyExt{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &job.Job{Type: "test-job"}

	// Both implement OnJobEnqueued → both called.
	r.EmitJobEnqueued(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobEnqueued" {
		t.Fatalf("all: expected [OnJobEnqueued], got %v", all.calls)
	}
	if len(jo.calls) != 1 || jo.calls[0] != "OnJobEnqueued" {
		t.Fatalf("jo: expected [OnJobEnqueued], got %v", jo.calls)
	}

	// Only all implements OnJobStarted → jo not called.
	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllJobHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Type: "test-job"}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobRetrying(ctx, j, 1)
	r.EmitJobFailed(ctx, j, errors.New("fail"))

	expected := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobCompleted",
		"OnJobRetrying", "OnJobFailed",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_AllDeliveryHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	d := &webhook.Delivery{EventType: "order.created"}
	sub := &webhook.Subscription{EventType: "order.created"}

	r.EmitDeliverySucceeded(ctx, d, time.Second)
	r.EmitDeliveryRetrying(ctx, d, time.Now().Add(time.Minute))
	r.EmitDeliveryFailed(ctx, d, errors.New("gone"))
	r.EmitSubscriptionDisabled(ctx, sub)

	expected := []string{
		"OnDeliverySucceeded", "OnDeliveryRetrying",
		"OnDeliveryFailed", "OnSubscriptionDisabled",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_BreakerScheduleShutdownHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitBreakerStateChanged(ctx, "webhook.delivery", breaker.Closed, breaker.Open)
	r.EmitScheduleFired(ctx, "nightly-report", id.NewJobID())
	r.EmitShutdown(ctx)

	expected := []string{"OnBreakerStateChanged", "OnScheduleFired", "OnShutdown"}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Type: "test-job"}

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitJobEnqueued(ctx, j)

	if len(all.calls) != 1 || all.calls[0] != "OnJobEnqueued" {
		t.Fatalf("all: expected [OnJobEnqueued], got %v", all.calls)
	}
	r.EmitShutdown(ctx)
	if all.calls[len(all.calls)-1] != "OnShutdown" {
		t.Fatalf("all: expected OnShutdown last, got %v", all.calls)
	}
}
