// Package store defines the composite persistence contract: lifecycle
// management plus the per-subsystem store interfaces. Backends live in
// the subpackages memory, bun (Postgres), and redis; callers that only
// need one subsystem should depend on that subsystem's interface
// directly.
package store

import (
	"context"

	"github.com/courierhq/courier/job"
	"github.com/courierhq/courier/webhook"
)

// Store is the full persistence contract a backend must satisfy.
type Store interface {
	// Migrate creates or upgrades backend schema. Idempotent.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases resources. The store is unusable afterwards.
	Close() error

	job.Store
	webhook.Store
}
