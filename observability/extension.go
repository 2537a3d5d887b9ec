package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/courierhq/courier/breaker"
	"github.com/courierhq/courier/ext"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/webhook"
)

// meterName is the instrumentation scope name for courier metrics.
const meterName = "github.com/courierhq/courier/observability"

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.JobEnqueued          = (*MetricsExtension)(nil)
	_ ext.JobCompleted         = (*MetricsExtension)(nil)
	_ ext.JobRetrying          = (*MetricsExtension)(nil)
	_ ext.JobFailed            = (*MetricsExtension)(nil)
	_ ext.DeliverySucceeded    = (*MetricsExtension)(nil)
	_ ext.DeliveryRetrying     = (*MetricsExtension)(nil)
	_ ext.DeliveryFailed       = (*MetricsExtension)(nil)
	_ ext.SubscriptionDisabled = (*MetricsExtension)(nil)
	_ ext.BreakerStateChanged  = (*MetricsExtension)(nil)
	_ ext.ScheduleFired        = (*MetricsExtension)(nil)
)

// StatsFunc supplies live queue depth for the observable gauges.
type StatsFunc func() (queued, running int)

// Option configures a MetricsExtension.
type Option func(*MetricsExtension)

// WithQueueStats registers a queue depth source, enabling the
// courier.jobs.queue.length and courier.jobs.queue.running gauges.
func WithQueueStats(fn StatsFunc) Option {
	return func(m *MetricsExtension) { m.stats = fn }
}

// WithBreakerRegistry registers a breaker registry, enabling the
// courier.breaker.state and courier.breaker.failures gauges.
func WithBreakerRegistry(reg *breaker.Registry) Option {
	return func(m *MetricsExtension) { m.breakers = reg }
}

// MetricsExtension records lifecycle metrics for jobs, webhook
// deliveries, and circuit breakers. Register it on the ext registry.
type MetricsExtension struct {
	stats    StatsFunc
	breakers *breaker.Registry

	jobsEnqueued  metric.Int64Counter
	jobsProcessed metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobsRetried   metric.Int64Counter

	webhooksDelivered    metric.Int64Counter
	webhooksFailed       metric.Int64Counter
	webhooksRetried      metric.Int64Counter
	webhooksAutoDisabled metric.Int64Counter

	breakerTransitions metric.Int64Counter
	schedulesFired     metric.Int64Counter

	deliveryDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured, every instrument is a
// noop and the extension is free.
func NewMetricsExtension(opts ...Option) *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName), opts...)
}

// NewMetricsExtensionWithMeter creates a MetricsExtension recording to
// the provided meter. This variant allows injecting a MeterProvider for
// testing.
func NewMetricsExtensionWithMeter(meter metric.Meter, opts ...Option) *MetricsExtension {
	m := &MetricsExtension{}
	for _, opt := range opts {
		opt(m)
	}

	// On instrument-creation error the OTel API returns noops, so the
	// extension degrades gracefully rather than failing construction.
	m.jobsEnqueued, _ = meter.Int64Counter("courier.jobs.enqueued",
		metric.WithDescription("Jobs accepted into the queue"),
		metric.WithUnit("{job}"))
	m.jobsProcessed, _ = meter.Int64Counter("courier.jobs.processed",
		metric.WithDescription("Jobs completed successfully"),
		metric.WithUnit("{job}"))
	m.jobsFailed, _ = meter.Int64Counter("courier.jobs.failed",
		metric.WithDescription("Jobs dead after exhausting attempts"),
		metric.WithUnit("{job}"))
	m.jobsRetried, _ = meter.Int64Counter("courier.jobs.retried",
		metric.WithDescription("Job attempts that failed with retries remaining"),
		metric.WithUnit("{attempt}"))

	m.webhooksDelivered, _ = meter.Int64Counter("courier.webhooks.delivered",
		metric.WithDescription("Webhook deliveries acknowledged with a 2xx"),
		metric.WithUnit("{delivery}"))
	m.webhooksFailed, _ = meter.Int64Counter("courier.webhooks.failed",
		metric.WithDescription("Webhook deliveries terminally failed"),
		metric.WithUnit("{delivery}"))
	m.webhooksRetried, _ = meter.Int64Counter("courier.webhooks.retried",
		metric.WithDescription("Webhook delivery attempts scheduled for retry"),
		metric.WithUnit("{attempt}"))
	m.webhooksAutoDisabled, _ = meter.Int64Counter("courier.webhooks.auto_disabled",
		metric.WithDescription("Subscriptions deactivated for persistent failure"),
		metric.WithUnit("{subscription}"))

	m.breakerTransitions, _ = meter.Int64Counter("courier.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"))
	m.schedulesFired, _ = meter.Int64Counter("courier.schedules.fired",
		metric.WithDescription("Scheduler entries fired"),
		metric.WithUnit("{fire}"))

	m.deliveryDuration, _ = meter.Float64Histogram("courier.webhook.delivery.duration",
		metric.WithDescription("Duration of successful webhook deliveries in seconds"),
		metric.WithUnit("s"))

	m.registerGauges(meter)
	return m
}

// registerGauges wires the observable queue and breaker gauges for
// whichever sources were provided.
func (m *MetricsExtension) registerGauges(meter metric.Meter) {
	if m.stats != nil {
		length, _ := meter.Int64ObservableGauge("courier.jobs.queue.length",
			metric.WithDescription("Jobs waiting in the ready set"),
			metric.WithUnit("{job}"))
		running, _ := meter.Int64ObservableGauge("courier.jobs.queue.running",
			metric.WithDescription("Jobs currently executing"),
			metric.WithUnit("{job}"))
		meter.RegisterCallback(func(_ context.Context, o metric.Observer) error { //nolint:errcheck
			queued, active := m.stats()
			o.ObserveInt64(length, int64(queued))
			o.ObserveInt64(running, int64(active))
			return nil
		}, length, running)
	}

	if m.breakers != nil {
		state, _ := meter.Int64ObservableGauge("courier.breaker.state",
			metric.WithDescription("Breaker state: 0 closed, 1 open, 2 half-open"))
		failures, _ := meter.Int64ObservableGauge("courier.breaker.failures",
			metric.WithDescription("Consecutive failures counted by the breaker"))
		meter.RegisterCallback(func(_ context.Context, o metric.Observer) error { //nolint:errcheck
			for _, b := range m.breakers.All() {
				attrs := metric.WithAttributes(attribute.String("name", b.Name()))
				o.ObserveInt64(state, int64(b.State().Code()), attrs)
				o.ObserveInt64(failures, int64(b.Failures()), attrs)
			}
			return nil
		}, state, failures)
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", j.Type))
}

func deliveryAttrs(d *webhook.Delivery) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("event_type", d.EventType))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobsEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobsProcessed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int) error {
	m.jobsRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnDeliverySucceeded implements ext.DeliverySucceeded.
func (m *MetricsExtension) OnDeliverySucceeded(ctx context.Context, d *webhook.Delivery, elapsed time.Duration) error {
	m.webhooksDelivered.Add(ctx, 1, deliveryAttrs(d))
	m.deliveryDuration.Record(ctx, elapsed.Seconds(), deliveryAttrs(d))
	return nil
}

// OnDeliveryRetrying implements ext.DeliveryRetrying.
func (m *MetricsExtension) OnDeliveryRetrying(ctx context.Context, d *webhook.Delivery, _ time.Time) error {
	m.webhooksRetried.Add(ctx, 1, deliveryAttrs(d))
	return nil
}

// OnDeliveryFailed implements ext.DeliveryFailed.
func (m *MetricsExtension) OnDeliveryFailed(ctx context.Context, d *webhook.Delivery, _ error) error {
	m.webhooksFailed.Add(ctx, 1, deliveryAttrs(d))
	return nil
}

// OnSubscriptionDisabled implements ext.SubscriptionDisabled.
func (m *MetricsExtension) OnSubscriptionDisabled(ctx context.Context, sub *webhook.Subscription) error {
	m.webhooksAutoDisabled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", sub.EventType),
	))
	return nil
}

// OnBreakerStateChanged implements ext.BreakerStateChanged.
func (m *MetricsExtension) OnBreakerStateChanged(ctx context.Context, name string, from, to breaker.State) error {
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	return nil
}

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.schedulesFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry", entryName),
	))
	return nil
}
