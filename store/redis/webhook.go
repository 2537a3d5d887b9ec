package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/webhook"
)

// CreateSubscription stores the subscription as a Hash and indexes it by
// event type.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	sID := sub.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, subscriptionKey(sID), subscriptionToMap(sub))
	pipe.SAdd(ctx, subscriptionIDsKey, sID)
	pipe.SAdd(ctx, eventIndexKey(sub.EventType), sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	return s.getSubscriptionByKey(ctx, subscriptionKey(subID.String()))
}

// UpdateSubscription persists changes to an existing subscription, moving
// its event-type index membership if the event type changed.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	sID := sub.ID.String()
	key := subscriptionKey(sID)

	oldEvent, err := s.client.HGet(ctx, key, "event_type").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return courier.ErrSubscriptionNotFound
		}
		return fmt.Errorf("courier/redis: update subscription get: %w", err)
	}

	fields := subscriptionToMap(sub)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if oldEvent != sub.EventType {
		pipe.SRem(ctx, eventIndexKey(oldEvent), sID)
		pipe.SAdd(ctx, eventIndexKey(sub.EventType), sID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: update subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns subscriptions for an event type, oldest first.
// Empty eventType matches all.
func (s *Store) ListSubscriptions(ctx context.Context, eventType string, activeOnly bool) ([]*webhook.Subscription, error) {
	indexKey := subscriptionIDsKey
	if eventType != "" {
		indexKey = eventIndexKey(eventType)
	}

	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list subscriptions smembers: %w", err)
	}

	var subs []*webhook.Subscription
	for _, sID := range ids {
		sub, getErr := s.getSubscriptionByKey(ctx, subscriptionKey(sID))
		if getErr != nil {
			continue // skip missing
		}
		if activeOnly && !sub.Active {
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, k int) bool {
		return subs[i].CreatedAt.Before(subs[k].CreatedAt)
	})
	return subs, nil
}

// CreateDelivery stores the delivery as a Hash and registers its ID for
// enumeration.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	dID := d.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, deliveryKey(dID), deliveryToMap(d))
	pipe.SAdd(ctx, deliveryIDsKey, dID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: create delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, delID id.DeliveryID) (*webhook.Delivery, error) {
	return s.getDeliveryByKey(ctx, deliveryKey(delID.String()))
}

// UpdateDelivery persists changes to an existing delivery.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	key := deliveryKey(d.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: update delivery exists: %w", err)
	}
	if exists == 0 {
		return courier.ErrDeliveryNotFound
	}

	fields := deliveryToMap(d)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("courier/redis: update delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns deliveries matching opts, oldest first.
func (s *Store) ListDeliveries(ctx context.Context, opts webhook.ListDeliveriesOpts) ([]*webhook.Delivery, error) {
	ids, err := s.client.SMembers(ctx, deliveryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list deliveries smembers: %w", err)
	}

	var dels []*webhook.Delivery
	for _, dID := range ids {
		d, getErr := s.getDeliveryByKey(ctx, deliveryKey(dID))
		if getErr != nil {
			continue // skip missing
		}
		if !opts.SubscriptionID.IsNil() && d.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		dels = append(dels, d)
	}
	sort.Slice(dels, func(i, k int) bool {
		return dels[i].CreatedAt.Before(dels[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(dels) {
			return nil, nil
		}
		dels = dels[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(dels) {
		dels = dels[:opts.Limit]
	}
	return dels, nil
}

// ── helpers ──

func subscriptionToMap(sub *webhook.Subscription) map[string]interface{} {
	m := map[string]interface{}{
		"id":            sub.ID.String(),
		"event_type":    sub.EventType,
		"target_url":    sub.TargetURL,
		"secret":        sub.Secret,
		"active":        strconv.FormatBool(sub.Active),
		"failure_count": strconv.Itoa(sub.FailureCount),
		"created_at":    sub.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    sub.UpdatedAt.Format(time.RFC3339Nano),
	}
	if sub.LastSuccessAt != nil {
		m["last_success_at"] = sub.LastSuccessAt.Format(time.RFC3339Nano)
	}
	if sub.LastFailureAt != nil {
		m["last_failure_at"] = sub.LastFailureAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getSubscriptionByKey(ctx context.Context, key string) (*webhook.Subscription, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get subscription: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrSubscriptionNotFound
	}
	return mapToSubscription(vals)
}

func mapToSubscription(m map[string]string) (*webhook.Subscription, error) {
	sID, err := id.ParseSubscriptionID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse subscription id: %w", err)
	}

	active, _ := strconv.ParseBool(m["active"])        //nolint:errcheck // best-effort parse from trusted Redis data
	failures, _ := strconv.Atoi(m["failure_count"])    //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	sub := &webhook.Subscription{
		Entity: courier.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           sID,
		EventType:    m["event_type"],
		TargetURL:    m["target_url"],
		Secret:       m["secret"],
		Active:       active,
		FailureCount: failures,
	}

	if v := m["last_success_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		sub.LastSuccessAt = &t
	}
	if v := m["last_failure_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		sub.LastFailureAt = &t
	}

	return sub, nil
}

func deliveryToMap(d *webhook.Delivery) map[string]interface{} {
	m := map[string]interface{}{
		"id":              d.ID.String(),
		"subscription_id": d.SubscriptionID.String(),
		"event_type":      d.EventType,
		"payload":         string(d.Payload),
		"status":          string(d.Status),
		"response_code":   strconv.Itoa(d.ResponseCode),
		"error_message":   d.ErrorMessage,
		"attempt_count":   strconv.Itoa(d.AttemptCount),
		"created_at":      d.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      d.UpdatedAt.Format(time.RFC3339Nano),
	}
	if d.NextRetryAt != nil {
		m["next_retry_at"] = d.NextRetryAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getDeliveryByKey(ctx context.Context, key string) (*webhook.Delivery, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get delivery: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrDeliveryNotFound
	}
	return mapToDelivery(vals)
}

func mapToDelivery(m map[string]string) (*webhook.Delivery, error) {
	dID, err := id.ParseDeliveryID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse delivery id: %w", err)
	}
	subID, err := id.ParseSubscriptionID(m["subscription_id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse subscription id: %w", err)
	}

	code, _ := strconv.Atoi(m["response_code"])     //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempt_count"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	d := &webhook.Delivery{
		Entity: courier.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:             dID,
		SubscriptionID: subID,
		EventType:      m["event_type"],
		Payload:        []byte(m["payload"]),
		Status:         webhook.Status(m["status"]),
		ResponseCode:   code,
		ErrorMessage:   m["error_message"],
		AttemptCount:   attempts,
	}

	if v := m["next_retry_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		d.NextRetryAt = &t
	}

	return d, nil
}
