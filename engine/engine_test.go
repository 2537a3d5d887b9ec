package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/engine"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/store/memory"
	"github.com/courierhq/courier/webhook"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func buildEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	eng, err := engine.Build(courier.DefaultConfig(), memory.New(), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return eng
}

func TestBuildRequiresStore(t *testing.T) {
	_, err := engine.Build(courier.DefaultConfig(), nil)
	if err != courier.ErrNoStore {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestBuildNormalizesZeroConfig(t *testing.T) {
	eng, err := engine.Build(courier.Config{}, memory.New())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := eng.Stats().Concurrency; got != 10 {
		t.Errorf("Concurrency = %d, want 10", got)
	}
}

type emailInput struct {
	To string `json:"to"`
}

func TestTypedJobRoundTrip(t *testing.T) {
	eng := buildEngine(t)

	var got atomic.Value
	engine.Register(eng, &job.Definition[emailInput]{
		Name: "email.send",
		Handler: func(_ context.Context, in emailInput) error {
			got.Store(in.To)
			return nil
		},
	})

	j, err := engine.Enqueue(context.Background(), eng, "email.send", emailInput{To: "user@example.com"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Type != "email.send" {
		t.Errorf("Type = %q, want %q", j.Type, "email.send")
	}

	waitFor(t, func() bool { return got.Load() != nil }, "handler never ran")
	if to := got.Load().(string); to != "user@example.com" {
		t.Errorf("payload To = %q, want %q", to, "user@example.com")
	}
}

func TestWebhookEndToEnd(t *testing.T) {
	eng := buildEngine(t)

	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env webhook.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		gotBody.Store(env.Event)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	sub, err := eng.CreateSubscription(ctx, "order.created", srv.URL, "")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if sub.Secret == "" {
		t.Fatal("expected a generated secret")
	}

	if err := eng.PublishEvent(ctx, "order.created", map[string]string{"id": "123"}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	waitFor(t, func() bool { return gotBody.Load() != nil }, "webhook never delivered")
	if ev := gotBody.Load().(string); ev != "order.created" {
		t.Errorf("envelope event = %q, want %q", ev, "order.created")
	}

	waitFor(t, func() bool {
		dels, listErr := eng.Webhooks().ListDeliveries(ctx, webhook.ListDeliveriesOpts{SubscriptionID: sub.ID})
		if listErr != nil || len(dels) != 1 {
			return false
		}
		return dels[0].Status == webhook.StatusDelivered
	}, "delivery never marked delivered")
}

func TestSchedulerFiresThroughQueue(t *testing.T) {
	eng := buildEngine(t)

	var fired atomic.Int32
	engine.Register(eng, &job.Definition[struct{}]{
		Name: "report.generate",
		Handler: func(context.Context, struct{}) error {
			fired.Add(1)
			return nil
		},
	})

	task := eng.Scheduler().Schedule("report.generate", 20*time.Millisecond)
	defer eng.Scheduler().Cancel(task)

	waitFor(t, func() bool { return fired.Load() >= 2 }, "schedule never fired twice")
}

func TestStartRecoversPersistedJobs(t *testing.T) {
	st := memory.New()

	// Simulate a prior process: a pending job already in the store,
	// unknown to the fresh engine's in-memory ready set.
	eng2, err := engine.Build(courier.DefaultConfig(), st)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var ran atomic.Int32
	engine.Register(eng2, &job.Definition[struct{}]{
		Name: "orphan.job",
		Handler: func(context.Context, struct{}) error {
			ran.Add(1)
			return nil
		},
	})

	orphan := &job.Job{
		Entity:      courier.NewEntity(),
		ID:          id.NewJobID(),
		Type:        "orphan.job",
		State:       job.StatePending,
		MaxAttempts: 3,
		EnqueuedAt:  time.Now().UTC().Add(-time.Minute),
	}
	if err := st.CreateJob(context.Background(), orphan); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := eng2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng2.Stop(context.Background()) //nolint:errcheck // test teardown

	waitFor(t, func() bool { return ran.Load() == 1 }, "recovered job never ran")
}

func TestStopDrainsRunningJobs(t *testing.T) {
	eng := buildEngine(t)

	release := make(chan struct{})
	var done atomic.Bool
	engine.Register(eng, &job.Definition[struct{}]{
		Name: "slow.job",
		Handler: func(context.Context, struct{}) error {
			<-release
			done.Store(true)
			return nil
		},
	})

	if _, err := engine.Enqueue(context.Background(), eng, "slow.job", struct{}{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool { return eng.Stats().Running == 1 }, "job never started")

	stopped := make(chan error, 1)
	go func() { stopped <- eng.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the running job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !done.Load() {
		t.Error("running job was not drained to completion")
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	eng := buildEngine(t)
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := engine.Enqueue(context.Background(), eng, "any.job", struct{}{}); err != courier.ErrQueueClosed {
		t.Fatalf("Enqueue after Stop err = %v, want ErrQueueClosed", err)
	}
}

func TestPauseResume(t *testing.T) {
	eng := buildEngine(t)

	var ran atomic.Int32
	engine.Register(eng, &job.Definition[struct{}]{
		Name: "paused.job",
		Handler: func(context.Context, struct{}) error {
			ran.Add(1)
			return nil
		},
	})

	eng.PauseQueue()
	if _, err := engine.Enqueue(context.Background(), eng, "paused.job", struct{}{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatal("job ran while queue was paused")
	}

	eng.ResumeQueue()
	waitFor(t, func() bool { return ran.Load() == 1 }, "job never ran after resume")
}
