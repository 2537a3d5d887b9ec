// Package breaker provides a circuit breaker: a failure-isolation state
// machine (closed/open/half-open) protecting a fallible dependency from
// being hammered while it is down, with automatic recovery probing.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/courierhq/courier"
)

// State is the circuit breaker state.
type State int

const (
	// Closed is normal operation; failures accumulate.
	Closed State = iota
	// Open short-circuits every call with ErrCircuitOpen.
	Open
	// HalfOpen admits exactly one trial call to probe recovery.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Code returns the numeric state code exposed as a gauge:
// 0 closed, 1 open, 2 half-open.
func (s State) Code() int { return int(s) }

// StateChangeFunc is invoked on every state transition. It is called
// outside the breaker's lock and must not call back into the breaker.
type StateChangeFunc func(name string, from, to State)

// Breaker wraps a fallible operation with circuit-breaking. Safe for
// concurrent use: state transitions are serialized under one mutex, and
// at most one trial call is in flight while half-open.
type Breaker struct {
	name             string
	failureThreshold int
	openFor          time.Duration
	onStateChange    StateChangeFunc
	now              func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures trip the
// circuit open. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithOpenFor sets how long the circuit stays open before admitting a
// half-open trial. Default 30s.
func WithOpenFor(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openFor = d
		}
	}
}

// WithOnStateChange sets the transition callback.
func WithOnStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a closed Breaker with the given name.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		openFor:          30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, accounting for open-interval expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.openFor {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do runs op through the breaker. When the circuit is open (or another
// caller holds the half-open trial) it returns ErrCircuitOpen without
// invoking op; otherwise it propagates op's own error after recording
// the outcome.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)

	if opErr != nil {
		b.recordFailure(trial)
		return opErr
	}
	b.recordSuccess(trial)
	return nil
}

// admit decides whether a call may proceed. It returns trial=true when
// the call is the half-open probe.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()

	switch b.state {
	case Closed:
		b.mu.Unlock()
		return false, nil

	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			b.mu.Unlock()
			return false, courier.ErrCircuitOpen
		}
		// Cooldown elapsed: this caller wins the half-open trial.
		from := b.state
		b.state = HalfOpen
		b.trialInFlight = true
		b.mu.Unlock()
		b.notify(from, HalfOpen)
		return true, nil

	case HalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return false, courier.ErrCircuitOpen
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return true, nil

	default:
		b.mu.Unlock()
		return false, courier.ErrCircuitOpen
	}
}

func (b *Breaker) recordSuccess(trial bool) {
	b.mu.Lock()
	from := b.state
	if trial {
		b.trialInFlight = false
	}
	b.failures = 0
	if b.state != Closed {
		b.state = Closed
		b.mu.Unlock()
		b.notify(from, Closed)
		return
	}
	b.mu.Unlock()
}

func (b *Breaker) recordFailure(trial bool) {
	b.mu.Lock()
	from := b.state
	if trial {
		// Failed trial: straight back to open with a fresh cooldown.
		b.trialInFlight = false
		b.state = Open
		b.openedAt = b.now()
		b.failures++
		b.mu.Unlock()
		b.notify(from, Open)
		return
	}

	b.failures++
	if b.state == Closed && b.failures >= b.failureThreshold {
		b.state = Open
		b.openedAt = b.now()
		b.mu.Unlock()
		b.notify(from, Open)
		return
	}
	b.mu.Unlock()
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}
