package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/webhook"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m := toSubscriptionModel(sub)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("courier/bun: create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("courier/bun: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription persists changes to an existing subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: update subscription: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions returns subscriptions for an event type, oldest
// first. Empty eventType matches all; activeOnly excludes inactive
// subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context, eventType string, activeOnly bool) ([]*webhook.Subscription, error) {
	q := s.db.NewSelect().Model((*subscriptionModel)(nil)).
		Order("created_at ASC")
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if activeOnly {
		q = q.Where("active = TRUE")
	}

	var models []subscriptionModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("courier/bun: list subscriptions: %w", err)
	}

	subs := make([]*webhook.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// CreateDelivery persists a new delivery record.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	m := toDeliveryModel(d)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("courier/bun: create delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, delID id.DeliveryID) (*webhook.Delivery, error) {
	m := new(deliveryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", delID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("courier/bun: get delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

// UpdateDelivery persists changes to an existing delivery.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: update delivery: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrDeliveryNotFound
	}
	return nil
}

// ListDeliveries returns deliveries matching opts, oldest first.
func (s *Store) ListDeliveries(ctx context.Context, opts webhook.ListDeliveriesOpts) ([]*webhook.Delivery, error) {
	q := s.db.NewSelect().Model((*deliveryModel)(nil)).
		Order("created_at ASC")
	if !opts.SubscriptionID.IsNil() {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var models []deliveryModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("courier/bun: list deliveries: %w", err)
	}

	deliveries := make([]*webhook.Delivery, 0, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}
