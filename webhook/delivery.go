package webhook

import (
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
)

// Status is the lifecycle state of a delivery.
type Status string

const (
	// StatusPending means no attempt has completed yet.
	StatusPending Status = "pending"
	// StatusDelivered means the target acknowledged with a 2xx.
	StatusDelivered Status = "delivered"
	// StatusFailed means the last attempt failed. A failed delivery
	// with NextRetryAt set will be retried; without it, it is terminal.
	StatusFailed Status = "failed"
)

// Delivery is one webhook send to one subscription, tracked across its
// retry attempts.
type Delivery struct {
	courier.Entity

	ID             id.DeliveryID     `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	EventType      string            `json:"event_type"`

	// Payload is the stored copy of the signed envelope, for audit and
	// replay. Envelopes over the storage cap are replaced with a
	// truncation marker; the live send always carries the full body.
	Payload []byte `json:"payload"`

	Status       Status `json:"status"`
	ResponseCode int    `json:"response_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// AttemptCount is the number of send attempts completed.
	AttemptCount int `json:"attempt_count"`

	// NextRetryAt is when the next attempt is scheduled. Nil when the
	// delivery is delivered or terminally failed.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Terminal reports whether no further attempts will be made.
func (d *Delivery) Terminal() bool {
	switch d.Status {
	case StatusDelivered:
		return true
	case StatusFailed:
		return d.NextRetryAt == nil
	}
	return false
}
