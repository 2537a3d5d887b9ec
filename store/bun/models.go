package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/webhook"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:courier_jobs"`

	ID           string     `bun:"id,pk"`
	Type         string     `bun:"type,notnull"`
	Payload      []byte     `bun:"payload,type:bytea"`
	State        string     `bun:"state,notnull,default:'pending'"`
	Attempts     int        `bun:"attempts,notnull,default:0"`
	MaxAttempts  int        `bun:"max_attempts,notnull,default:3"`
	LastError    string     `bun:"last_error"`
	EnqueuedAt   time.Time  `bun:"enqueued_at,notnull,default:current_timestamp"`
	ScheduledFor *time.Time `bun:"scheduled_for"`
	CompletedAt  *time.Time `bun:"completed_at"`
	Timeout      int64      `bun:"timeout,notnull,default:0"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:           j.ID.String(),
		Type:         j.Type,
		Payload:      j.Payload,
		State:        string(j.State),
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		LastError:    j.LastError,
		EnqueuedAt:   j.EnqueuedAt,
		ScheduledFor: j.ScheduledFor,
		CompletedAt:  j.CompletedAt,
		Timeout:      j.Timeout.Nanoseconds(),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: courier.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           parsedID,
		Type:         m.Type,
		Payload:      m.Payload,
		State:        job.State(m.State),
		Attempts:     m.Attempts,
		MaxAttempts:  m.MaxAttempts,
		LastError:    m.LastError,
		EnqueuedAt:   m.EnqueuedAt,
		ScheduledFor: m.ScheduledFor,
		CompletedAt:  m.CompletedAt,
		Timeout:      time.Duration(m.Timeout),
	}, nil
}

// ── Subscription model ────────────────────────────────────────────

type subscriptionModel struct {
	bun.BaseModel `bun:"table:courier_subscriptions"`

	ID            string     `bun:"id,pk"`
	EventType     string     `bun:"event_type,notnull"`
	TargetURL     string     `bun:"target_url,notnull"`
	Secret        string     `bun:"secret,notnull"`
	Active        bool       `bun:"active,notnull,default:true"`
	FailureCount  int        `bun:"failure_count,notnull,default:0"`
	LastSuccessAt *time.Time `bun:"last_success_at"`
	LastFailureAt *time.Time `bun:"last_failure_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toSubscriptionModel(sub *webhook.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:            sub.ID.String(),
		EventType:     sub.EventType,
		TargetURL:     sub.TargetURL,
		Secret:        sub.Secret,
		Active:        sub.Active,
		FailureCount:  sub.FailureCount,
		LastSuccessAt: sub.LastSuccessAt,
		LastFailureAt: sub.LastFailureAt,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*webhook.Subscription, error) {
	parsedID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse subscription id %q: %w", m.ID, err)
	}

	return &webhook.Subscription{
		Entity: courier.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		EventType:     m.EventType,
		TargetURL:     m.TargetURL,
		Secret:        m.Secret,
		Active:        m.Active,
		FailureCount:  m.FailureCount,
		LastSuccessAt: m.LastSuccessAt,
		LastFailureAt: m.LastFailureAt,
	}, nil
}

// ── Delivery model ────────────────────────────────────────────────

type deliveryModel struct {
	bun.BaseModel `bun:"table:courier_deliveries"`

	ID             string     `bun:"id,pk"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	Payload        []byte     `bun:"payload,type:bytea"`
	Status         string     `bun:"status,notnull,default:'pending'"`
	ResponseCode   int        `bun:"response_code,notnull,default:0"`
	ErrorMessage   string     `bun:"error_message"`
	AttemptCount   int        `bun:"attempt_count,notnull,default:0"`
	NextRetryAt    *time.Time `bun:"next_retry_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toDeliveryModel(d *webhook.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		EventType:      d.EventType,
		Payload:        d.Payload,
		Status:         string(d.Status),
		ResponseCode:   d.ResponseCode,
		ErrorMessage:   d.ErrorMessage,
		AttemptCount:   d.AttemptCount,
		NextRetryAt:    d.NextRetryAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*webhook.Delivery, error) {
	parsedID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse delivery id %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse subscription id %q: %w", m.SubscriptionID, err)
	}

	return &webhook.Delivery{
		Entity: courier.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		SubscriptionID: subID,
		EventType:      m.EventType,
		Payload:        m.Payload,
		Status:         webhook.Status(m.Status),
		ResponseCode:   m.ResponseCode,
		ErrorMessage:   m.ErrorMessage,
		AttemptCount:   m.AttemptCount,
		NextRetryAt:    m.NextRetryAt,
	}, nil
}
