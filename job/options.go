package job

import "time"

// Options configures per-job behavior.
type Options struct {
	// MaxAttempts is the total number of execution attempts before the job
	// is declared dead. Must be at least 1.
	MaxAttempts int

	// Delay postpones the first dispatch. Zero means ready immediately.
	Delay time.Duration

	// Timeout is the maximum duration a single attempt may run before its
	// context is cancelled. Zero disables the per-attempt deadline.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget. Values below 1 are
// clamped to 1.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		if n < 1 {
			n = 1
		}
		o.MaxAttempts = n
	}
}

// WithDelay schedules the job for dispatch after d elapses.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
