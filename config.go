package courier

import "time"

// Config holds top-level configuration shared by the engine subsystems.
type Config struct {
	// Concurrency is the maximum number of jobs executed concurrently.
	Concurrency int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// DeliveryTimeout bounds each outbound webhook HTTP call.
	DeliveryTimeout time.Duration

	// MaxStoredPayload caps the serialized event payload persisted on a
	// delivery record. Larger payloads are stored as a truncation marker;
	// the live send still transmits the full body.
	MaxStoredPayload int

	// AutoDisableThreshold is the number of consecutive terminal delivery
	// failures after which a subscription is deactivated.
	AutoDisableThreshold int

	// BreakerFailureThreshold trips the webhook delivery circuit after this
	// many consecutive failed sends.
	BreakerFailureThreshold int

	// BreakerOpenFor is how long the webhook delivery circuit stays open
	// before admitting a half-open trial.
	BreakerOpenFor time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:             10,
		ShutdownTimeout:         30 * time.Second,
		DeliveryTimeout:         30 * time.Second,
		MaxStoredPayload:        64 * 1024,
		AutoDisableThreshold:    10,
		BreakerFailureThreshold: 5,
		BreakerOpenFor:          30 * time.Second,
	}
}
