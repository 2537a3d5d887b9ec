// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing, development,
// and running without durability.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/courierhq/courier"
	"github.com/courierhq/courier/id"
	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/webhook"
)

// Ensure Store implements the subsystem contracts at compile time.
// We can't import store here (import cycle with the composite check in
// its tests), so we verify each subsystem.
var (
	_ job.Store     = (*Store)(nil)
	_ webhook.Store = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*job.Job
	subs       map[string]*webhook.Subscription
	deliveries map[string]*webhook.Delivery

	// seq preserves insertion order for oldest-first listings.
	jobSeq      map[string]uint64
	deliverySeq map[string]uint64
	nextSeq     uint64

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		subs:        make(map[string]*webhook.Subscription),
		deliveries:  make(map[string]*webhook.Delivery),
		jobSeq:      make(map[string]uint64),
		deliverySeq: make(map[string]uint64),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds unless the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is retained for inspection.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// CreateJob persists a new job record.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return courier.ErrJobAlreadyExists
	}
	cp := copyJob(j)
	m.jobs[key] = cp
	m.nextSeq++
	m.jobSeq[key] = m.nextSeq
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, courier.ErrJobNotFound
	}
	return copyJob(j), nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return courier.ErrJobNotFound
	}
	m.jobs[key] = copyJob(j)
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return courier.ErrJobNotFound
	}
	delete(m.jobs, key)
	delete(m.jobSeq, key)
	return nil
}

// FindPendingJobs returns all jobs in pending state, oldest first.
func (m *Store) FindPendingJobs(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.State == job.StatePending {
			out = append(out, copyJob(j))
		}
	}
	m.sortJobs(out)
	return out, nil
}

// ResetRunningJobs flips running jobs back to pending, preserving
// attempt counts, and returns how many were reset.
func (m *Store) ResetRunningJobs(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.jobs {
		if j.State == job.StateRunning {
			j.State = job.StatePending
			j.Touch()
			n++
		}
	}
	return n, nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.State == state {
			out = append(out, copyJob(j))
		}
	}
	m.sortJobs(out)
	return paginate(out, opts.Limit, opts.Offset), nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// sortJobs orders jobs by insertion sequence. Caller holds m.mu.
func (m *Store) sortJobs(jobs []*job.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		return m.jobSeq[jobs[a].ID.String()] < m.jobSeq[jobs[b].ID.String()]
	})
}

// ──────────────────────────────────────────────────
// Webhook store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (m *Store) CreateSubscription(_ context.Context, sub *webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sub
	m.subs[sub.ID.String()] = &cp
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (m *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[subID.String()]
	if !ok {
		return nil, courier.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// UpdateSubscription persists changes to an existing subscription.
func (m *Store) UpdateSubscription(_ context.Context, sub *webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sub.ID.String()
	if _, ok := m.subs[key]; !ok {
		return courier.ErrSubscriptionNotFound
	}
	cp := *sub
	m.subs[key] = &cp
	return nil
}

// ListSubscriptions returns subscriptions for an event type. Empty
// eventType matches all; activeOnly excludes inactive subscriptions.
func (m *Store) ListSubscriptions(_ context.Context, eventType string, activeOnly bool) ([]*webhook.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*webhook.Subscription
	for _, sub := range m.subs {
		if eventType != "" && sub.EventType != eventType {
			continue
		}
		if activeOnly && !sub.Active {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

// CreateDelivery persists a new delivery record.
func (m *Store) CreateDelivery(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID.String()
	cp := copyDelivery(d)
	m.deliveries[key] = cp
	m.nextSeq++
	m.deliverySeq[key] = m.nextSeq
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (m *Store) GetDelivery(_ context.Context, delID id.DeliveryID) (*webhook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deliveries[delID.String()]
	if !ok {
		return nil, courier.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// UpdateDelivery persists changes to an existing delivery.
func (m *Store) UpdateDelivery(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID.String()
	if _, ok := m.deliveries[key]; !ok {
		return courier.ErrDeliveryNotFound
	}
	m.deliveries[key] = copyDelivery(d)
	return nil
}

// ListDeliveries returns deliveries matching opts, oldest first.
func (m *Store) ListDeliveries(_ context.Context, opts webhook.ListDeliveriesOpts) ([]*webhook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*webhook.Delivery
	for _, d := range m.deliveries {
		if !opts.SubscriptionID.IsNil() && d.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(a, b int) bool {
		return m.deliverySeq[out[a].ID.String()] < m.deliverySeq[out[b].ID.String()]
	})
	return paginate(out, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyJob(j *job.Job) *job.Job {
	cp := *j
	if j.ScheduledFor != nil {
		t := *j.ScheduledFor
		cp.ScheduledFor = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	return &cp
}

func copyDelivery(d *webhook.Delivery) *webhook.Delivery {
	cp := *d
	if d.NextRetryAt != nil {
		t := *d.NextRetryAt
		cp.NextRetryAt = &t
	}
	if d.Payload != nil {
		cp.Payload = append([]byte(nil), d.Payload...)
	}
	return &cp
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
