package courier

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("courier: no store configured")
	ErrStoreClosed = errors.New("courier: store closed")

	// Not found errors.
	ErrJobNotFound          = errors.New("courier: job not found")
	ErrSubscriptionNotFound = errors.New("courier: subscription not found")
	ErrDeliveryNotFound     = errors.New("courier: delivery not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("courier: job already exists")

	// Configuration errors.
	ErrNoHandler = errors.New("courier: no handler registered for job type")

	// State errors.
	ErrQueueClosed          = errors.New("courier: queue is closed")
	ErrDeliveryTerminal     = errors.New("courier: delivery already in a terminal state")
	ErrSubscriptionInactive = errors.New("courier: subscription is inactive")

	// ErrCircuitOpen is returned by a breaker that is short-circuiting calls.
	// The protected operation was not invoked.
	ErrCircuitOpen = errors.New("courier: circuit open")
)
