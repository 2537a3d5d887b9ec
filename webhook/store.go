package webhook

import (
	"context"

	"github.com/courierhq/courier/id"
)

// ListDeliveriesOpts filters delivery list queries. Zero values mean
// "no filter".
type ListDeliveriesOpts struct {
	SubscriptionID id.SubscriptionID
	Status         Status
	Limit          int
	Offset         int
}

// Store defines the persistence contract for subscriptions and
// deliveries.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription retrieves a subscription by ID.
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)

	// UpdateSubscription persists changes to an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// ListSubscriptions returns subscriptions for an event type. Empty
	// eventType matches all. With activeOnly, inactive subscriptions
	// are excluded.
	ListSubscriptions(ctx context.Context, eventType string, activeOnly bool) ([]*Subscription, error)

	// CreateDelivery persists a new delivery record.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery retrieves a delivery by ID.
	GetDelivery(ctx context.Context, delID id.DeliveryID) (*Delivery, error)

	// UpdateDelivery persists changes to an existing delivery.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// ListDeliveries returns deliveries matching opts, oldest first.
	ListDeliveries(ctx context.Context, opts ListDeliveriesOpts) ([]*Delivery, error)
}
