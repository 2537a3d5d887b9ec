package backoff

import (
	"math/rand/v2"
	"time"
)

// Schedule is a finite, ordered list of retry delays with proportional
// jitter. Unlike the open-ended strategies, a Schedule is exhausted after
// len(Delays) retries: an operation using it makes at most len(Delays)+1
// attempts in total.
type Schedule struct {
	// Delays holds the base delay before each retry, in order.
	Delays []time.Duration

	// Jitter is the proportional jitter applied to each delay, e.g. 0.2
	// yields a uniform value in [0.8d, 1.2d]. Zero disables jitter.
	Jitter float64
}

// NewSchedule creates a Schedule with the given base delays and ±20% jitter.
func NewSchedule(delays ...time.Duration) *Schedule {
	return &Schedule{Delays: delays, Jitter: 0.2}
}

// DefaultDeliverySchedule returns the retry schedule used for webhook
// deliveries: 30s, 2m, 10m, 30m, 2h.
func DefaultDeliverySchedule() *Schedule {
	return NewSchedule(
		30*time.Second,
		2*time.Minute,
		10*time.Minute,
		30*time.Minute,
		2*time.Hour,
	)
}

// MaxAttempts returns the total attempt budget implied by the schedule:
// the initial attempt plus one retry per delay entry.
func (s *Schedule) MaxAttempts() int {
	return len(s.Delays) + 1
}

// Exhausted reports whether an operation that has already made
// attempts attempts has no retries left.
func (s *Schedule) Exhausted(attempts int) bool {
	return attempts >= s.MaxAttempts()
}

// Delay returns the jittered delay before retry attempt n (1-indexed).
// Attempts beyond the schedule return the last entry's delay; callers
// should check Exhausted first.
func (s *Schedule) Delay(attempt int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Delays) {
		idx = len(s.Delays) - 1
	}
	d := s.Delays[idx]
	if s.Jitter <= 0 {
		return d
	}
	// Uniform in [1-Jitter, 1+Jitter].
	factor := 1 + s.Jitter*(2*rand.Float64()-1) //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(float64(d) * factor)
}
