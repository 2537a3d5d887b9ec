package webhook

import (
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
)

// Subscription registers a target URL for an event type. A subscription
// whose FailureCount reaches the auto-disable threshold is deactivated
// and receives no further deliveries until re-enabled.
type Subscription struct {
	courier.Entity

	ID        id.SubscriptionID `json:"id"`
	EventType string            `json:"event_type"`
	TargetURL string            `json:"target_url"`

	// Secret is the HMAC-SHA256 signing key for this subscription.
	// Never serialized.
	Secret string `json:"-"`

	Active bool `json:"active"`

	// FailureCount counts consecutive terminal delivery failures. Reset
	// to zero on any successful delivery.
	FailureCount int `json:"failure_count"`

	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}
