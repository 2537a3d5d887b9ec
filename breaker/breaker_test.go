package breaker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/breaker"
)

var errBoom = errors.New("boom")

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failN(n int) func(ctx context.Context) error {
	var calls atomic.Int64
	return func(_ context.Context) error {
		if calls.Add(1) <= int64(n) {
			return errBoom
		}
		return nil
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := breaker.New("dep",
		breaker.WithFailureThreshold(3),
		breaker.WithClock(clock.Now),
	)

	op := failN(100)
	for i := range 3 {
		if err := b.Do(context.Background(), op); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i+1, err)
		}
	}

	if got := b.State(); got != breaker.Open {
		t.Fatalf("State() = %v, want Open", got)
	}

	// Subsequent calls short-circuit without invoking the operation.
	var invoked atomic.Bool
	err := b.Do(context.Background(), func(_ context.Context) error {
		invoked.Store(true)
		return nil
	})
	if !errors.Is(err, courier.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked.Load() {
		t.Error("operation was invoked while circuit open")
	}
	if got := b.Failures(); got != 3 {
		t.Errorf("Failures() = %d, want 3", got)
	}
}

func TestBreaker_HalfOpenTrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := breaker.New("dep",
		breaker.WithFailureThreshold(2),
		breaker.WithOpenFor(10*time.Second),
		breaker.WithClock(clock.Now),
	)

	op := failN(2)
	b.Do(context.Background(), op) //nolint:errcheck
	b.Do(context.Background(), op) //nolint:errcheck

	if got := b.State(); got != breaker.Open {
		t.Fatalf("State() = %v, want Open", got)
	}

	// Before cooldown elapses the circuit stays shut.
	clock.Advance(9 * time.Second)
	if err := b.Do(context.Background(), op); !errors.Is(err, courier.ErrCircuitOpen) {
		t.Fatalf("pre-cooldown err = %v, want ErrCircuitOpen", err)
	}

	// After cooldown the next call is admitted as the trial and succeeds.
	clock.Advance(2 * time.Second)
	if err := b.Do(context.Background(), op); err != nil {
		t.Fatalf("trial err = %v, want nil", err)
	}
	if got := b.State(); got != breaker.Closed {
		t.Errorf("State() = %v, want Closed", got)
	}
	if got := b.Failures(); got != 0 {
		t.Errorf("Failures() = %d, want 0 after trial success", got)
	}
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := breaker.New("dep",
		breaker.WithFailureThreshold(1),
		breaker.WithOpenFor(time.Second),
		breaker.WithClock(clock.Now),
	)

	alwaysFail := func(_ context.Context) error { return errBoom }
	b.Do(context.Background(), alwaysFail) //nolint:errcheck

	clock.Advance(time.Second)
	if err := b.Do(context.Background(), alwaysFail); !errors.Is(err, errBoom) {
		t.Fatalf("trial err = %v, want errBoom", err)
	}
	if got := b.State(); got != breaker.Open {
		t.Errorf("State() = %v, want Open after failed trial", got)
	}

	// The cooldown restarted at trial failure.
	if err := b.Do(context.Background(), alwaysFail); !errors.Is(err, courier.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_SingleHalfOpenTrial(t *testing.T) {
	clock := newFakeClock()
	b := breaker.New("dep",
		breaker.WithFailureThreshold(1),
		breaker.WithOpenFor(time.Second),
		breaker.WithClock(clock.Now),
	)

	b.Do(context.Background(), func(_ context.Context) error { return errBoom }) //nolint:errcheck
	clock.Advance(time.Second)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	trialErr := make(chan error, 1)

	go func() {
		trialErr <- b.Do(context.Background(), func(_ context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted

	// A concurrent caller during the trial is rejected, not run.
	var invoked atomic.Bool
	err := b.Do(context.Background(), func(_ context.Context) error {
		invoked.Store(true)
		return nil
	})
	if !errors.Is(err, courier.ErrCircuitOpen) {
		t.Errorf("concurrent err = %v, want ErrCircuitOpen", err)
	}
	if invoked.Load() {
		t.Error("second trial was admitted while one was in flight")
	}

	close(release)
	if err := <-trialErr; err != nil {
		t.Fatalf("trial err = %v, want nil", err)
	}
	if got := b.State(); got != breaker.Closed {
		t.Errorf("State() = %v, want Closed", got)
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := breaker.New("dep", breaker.WithFailureThreshold(3))

	op := failN(2) // two failures then success
	b.Do(context.Background(), op) //nolint:errcheck
	b.Do(context.Background(), op) //nolint:errcheck
	if err := b.Do(context.Background(), op); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}

	if got := b.Failures(); got != 0 {
		t.Errorf("Failures() = %d, want 0 after success", got)
	}
	if got := b.State(); got != breaker.Closed {
		t.Errorf("State() = %v, want Closed", got)
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	clock := newFakeClock()

	type transition struct{ from, to breaker.State }
	var mu sync.Mutex
	var seen []transition

	b := breaker.New("dep",
		breaker.WithFailureThreshold(1),
		breaker.WithOpenFor(time.Second),
		breaker.WithClock(clock.Now),
		breaker.WithOnStateChange(func(name string, from, to breaker.State) {
			if name != "dep" {
				t.Errorf("callback name = %q, want %q", name, "dep")
			}
			mu.Lock()
			seen = append(seen, transition{from, to})
			mu.Unlock()
		}),
	)

	b.Do(context.Background(), func(_ context.Context) error { return errBoom }) //nolint:errcheck
	clock.Advance(time.Second)
	b.Do(context.Background(), func(_ context.Context) error { return nil }) //nolint:errcheck

	want := []transition{
		{breaker.Closed, breaker.Open},
		{breaker.Open, breaker.HalfOpen},
		{breaker.HalfOpen, breaker.Closed},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("saw %d transitions, want %d: %v", len(seen), len(want), seen)
	}
	for i, tr := range want {
		if seen[i] != tr {
			t.Errorf("transition %d = %v→%v, want %v→%v", i, seen[i].from, seen[i].to, tr.from, tr.to)
		}
	}
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	reg := breaker.NewRegistry(breaker.WithFailureThreshold(2))

	a := reg.Get("webhook_delivery")
	b := reg.Get("webhook_delivery")
	if a != b {
		t.Error("Get returned distinct breakers for the same name")
	}

	c := reg.Get("storage")
	if c == a {
		t.Error("Get returned the same breaker for different names")
	}
	if got := len(reg.All()); got != 2 {
		t.Errorf("len(All()) = %d, want 2", got)
	}
}
