package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/backoff"
	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/ext"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	mw "github.com/courierhq/courier/middleware"
	"github.com/courierhq/courier/observability"
	"github.com/courierhq/courier/queue"
	"github.com/courierhq/courier/scheduler"
	"github.com/courierhq/courier/store"
	"github.com/courierhq/courier/webhook"
)

// deliveryBreakerName is the shared circuit protecting outbound webhook
// sends.
const deliveryBreakerName = "webhook.delivery"

// Engine owns the wired subsystems: job queue, webhook delivery service,
// scheduler, circuit breakers, and the extension registry. Use Build to
// create one.
type Engine struct {
	cfg        courier.Config
	store      store.Store
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *job.Registry
	queue      *queue.Queue
	breakers   *breaker.Registry
	webhooks   *webhook.Service
	scheduler  *scheduler.Scheduler
	mws        []mw.Middleware

	httpClient       *http.Client
	deliverySchedule *backoff.Schedule

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the engine's job execution chain,
// after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithHTTPClient sets the HTTP client used for webhook deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(eng *Engine) { eng.httpClient = c }
}

// WithDeliverySchedule sets the webhook retry schedule. If not set,
// backoff.DefaultDeliverySchedule() is used.
func WithDeliverySchedule(sched *backoff.Schedule) Option {
	return func(eng *Engine) { eng.deliverySchedule = sched }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build wires an Engine from a config and a store. The store must be
// non-nil; use store/memory for tests and ephemeral setups. The caller
// is responsible for running st.Migrate before Start on stores that
// need it.
func Build(cfg courier.Config, st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, courier.ErrNoStore
	}

	def := courier.DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.MaxStoredPayload <= 0 {
		cfg.MaxStoredPayload = def.MaxStoredPayload
	}
	if cfg.AutoDisableThreshold <= 0 {
		cfg.AutoDisableThreshold = def.AutoDisableThreshold
	}
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = def.BreakerOpenFor
	}

	eng := &Engine{
		cfg:      cfg,
		store:    st,
		logger:   slog.Default(),
		registry: job.NewRegistry(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)

	for _, opt := range opts {
		opt(eng)
	}

	// Breaker transitions flow through the extension registry so the
	// observability extension sees them.
	eng.breakers = breaker.NewRegistry(
		breaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		breaker.WithOpenFor(cfg.BreakerOpenFor),
		breaker.WithOnStateChange(func(name string, from, to breaker.State) {
			eng.extensions.EmitBreakerStateChanged(context.Background(), name, from, to)
		}),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/courierhq/courier"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/courierhq/courier"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	allMws = append(allMws, eng.mws...)

	eng.queue = queue.New(eng.registry,
		queue.WithConcurrency(cfg.Concurrency),
		queue.WithStore(st),
		queue.WithLogger(eng.logger),
		queue.WithExtensions(eng.extensions),
		queue.WithMiddleware(allMws...),
	)

	// Both the webhook service and the scheduler enqueue through the
	// queue; the closure adapts Queue.Enqueue to their EnqueueFunc shape.
	enqueue := func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.queue.Enqueue(ctx, jobType, payload, opts...)
		if err != nil {
			return id.Nil, err
		}
		return j.ID, nil
	}

	whOpts := []webhook.Option{
		webhook.WithLogger(eng.logger),
		webhook.WithEmitter(eng.extensions),
		webhook.WithSendTimeout(cfg.DeliveryTimeout),
		webhook.WithMaxStoredPayload(cfg.MaxStoredPayload),
		webhook.WithAutoDisableThreshold(cfg.AutoDisableThreshold),
	}
	if eng.httpClient != nil {
		whOpts = append(whOpts, webhook.WithHTTPClient(eng.httpClient))
	}
	if eng.deliverySchedule != nil {
		whOpts = append(whOpts, webhook.WithSchedule(eng.deliverySchedule))
	}
	eng.webhooks = webhook.NewService(st, webhook.EnqueueFunc(enqueue), eng.breakers.Get(deliveryBreakerName), whOpts...)
	eng.webhooks.RegisterHandler(eng.registry)

	eng.scheduler = scheduler.New(scheduler.EnqueueFunc(enqueue),
		scheduler.WithLogger(eng.logger),
		scheduler.WithEmitter(eng.extensions),
	)

	// Register the observability metrics extension, fed by the queue's
	// stats and the breaker registry.
	statsFn := func() (queued, running int) {
		s := eng.queue.Stats()
		return s.Queued, s.Running
	}
	obsOpts := []observability.Option{
		observability.WithQueueStats(statsFn),
		observability.WithBreakerRegistry(eng.breakers),
	}
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/courierhq/courier/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter, obsOpts...)
	} else {
		obsExt = observability.NewMetricsExtension(obsOpts...)
	}
	eng.extensions.Register(obsExt)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job with a typed payload.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobType, err)
	}
	return eng.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	return eng.queue.Enqueue(ctx, jobType, payload, opts...)
}

// Start verifies the store connection, recovers persisted jobs, and
// begins processing.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("courier: store ping: %w", err)
	}

	if _, err := eng.queue.RecoverPersisted(ctx); err != nil {
		return fmt.Errorf("courier: recover persisted jobs: %w", err)
	}

	return eng.queue.Start(ctx)
}

// Stop gracefully shuts down the engine: the scheduler stops firing, the
// queue drains within the configured shutdown timeout, extensions get
// their shutdown hook, and the store is closed.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.scheduler.Stop()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	stopErr := eng.queue.Stop(ctx)

	eng.extensions.EmitShutdown(ctx)

	if err := eng.store.Close(); err != nil {
		eng.logger.Warn("store close error", slog.String("error", err.Error()))
	}
	return stopErr
}

// PublishEvent fans an event out to all active subscriptions for its type.
func (eng *Engine) PublishEvent(ctx context.Context, eventType string, data any) error {
	return eng.webhooks.PublishEvent(ctx, eventType, data)
}

// CreateSubscription registers a webhook subscription. An empty secret
// generates one.
func (eng *Engine) CreateSubscription(ctx context.Context, eventType, targetURL, secret string) (*webhook.Subscription, error) {
	return eng.webhooks.CreateSubscription(ctx, eventType, targetURL, secret)
}

// EnableSubscription re-activates a subscription and resets its failure
// count.
func (eng *Engine) EnableSubscription(ctx context.Context, subID id.SubscriptionID) error {
	return eng.webhooks.EnableSubscription(ctx, subID)
}

// DisableSubscription deactivates a subscription.
func (eng *Engine) DisableSubscription(ctx context.Context, subID id.SubscriptionID) error {
	return eng.webhooks.DisableSubscription(ctx, subID)
}

// RotateSecret issues a new signing secret for a subscription.
func (eng *Engine) RotateSecret(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	return eng.webhooks.RotateSecret(ctx, subID)
}

// RetryDelivery re-enqueues a failed delivery for an immediate attempt.
func (eng *Engine) RetryDelivery(ctx context.Context, delID id.DeliveryID) error {
	return eng.webhooks.RetryDelivery(ctx, delID)
}

// PauseQueue stops dispatching new jobs; running jobs finish.
func (eng *Engine) PauseQueue() { eng.queue.Pause() }

// ResumeQueue resumes dispatching after a pause.
func (eng *Engine) ResumeQueue() { eng.queue.Resume() }

// DeadJobs lists jobs that exhausted their attempts.
func (eng *Engine) DeadJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.queue.DeadJobs(ctx, opts)
}

// RequeueDead resets a dead job and re-enqueues it, optionally delayed
// by the given backoff strategy.
func (eng *Engine) RequeueDead(ctx context.Context, jobID id.JobID, strategy backoff.Strategy) (*job.Job, error) {
	return eng.queue.RequeueDead(ctx, jobID, strategy)
}

// Queue returns the job queue.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// Webhooks returns the webhook delivery service.
func (eng *Engine) Webhooks() *webhook.Service { return eng.webhooks }

// Scheduler returns the recurring-job scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Breakers returns the circuit breaker registry.
func (eng *Engine) Breakers() *breaker.Registry { return eng.breakers }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Stats returns a snapshot of queue counters.
func (eng *Engine) Stats() queue.Stats { return eng.queue.Stats() }
