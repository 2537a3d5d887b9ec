package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
)

// CreateSubscription registers a new active subscription. An empty
// secret gets a generated one; the caller must read it from the
// returned subscription, it is never serialized afterwards.
func (s *Service) CreateSubscription(ctx context.Context, eventType, targetURL, secret string) (*Subscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type is required")
	}
	u, err := url.Parse(targetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid target url %q", targetURL)
	}
	if secret == "" {
		secret = NewSecret()
	}

	sub := &Subscription{
		Entity:    courier.NewEntity(),
		ID:        id.NewSubscriptionID(),
		EventType: eventType,
		TargetURL: targetURL,
		Secret:    secret,
		Active:    true,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("event_type", eventType),
		slog.String("target_url", targetURL),
	)
	return sub, nil
}

// EnableSubscription re-activates a subscription and clears its failure
// streak so it is not immediately re-disabled.
func (s *Service) EnableSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	sub.Active = true
	sub.FailureCount = 0
	sub.Touch()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	s.logger.Info("subscription enabled", slog.String("subscription_id", subID.String()))
	return nil
}

// DisableSubscription deactivates a subscription. In-flight deliveries
// to it are abandoned on their next attempt.
func (s *Service) DisableSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	sub.Active = false
	sub.Touch()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	s.logger.Info("subscription disabled", slog.String("subscription_id", subID.String()))
	return nil
}

// RotateSecret replaces the signing secret, clears the failure streak,
// and re-activates the subscription. Returns the subscription carrying
// the new secret.
func (s *Service) RotateSecret(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	sub.Secret = NewSecret()
	sub.FailureCount = 0
	sub.Active = true
	sub.Touch()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscription secret rotated", slog.String("subscription_id", subID.String()))
	return sub, nil
}

// GetSubscription returns a subscription by ID.
func (s *Service) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	return s.store.GetSubscription(ctx, subID)
}

// ListSubscriptions returns subscriptions for an event type; empty
// eventType matches all.
func (s *Service) ListSubscriptions(ctx context.Context, eventType string, activeOnly bool) ([]*Subscription, error) {
	return s.store.ListSubscriptions(ctx, eventType, activeOnly)
}

// GetDelivery returns a delivery by ID.
func (s *Service) GetDelivery(ctx context.Context, delID id.DeliveryID) (*Delivery, error) {
	return s.store.GetDelivery(ctx, delID)
}

// ListDeliveries returns deliveries matching opts, oldest first.
func (s *Service) ListDeliveries(ctx context.Context, opts ListDeliveriesOpts) ([]*Delivery, error) {
	return s.store.ListDeliveries(ctx, opts)
}
