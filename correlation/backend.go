package correlation

import (
	"context"
	"time"
)

// Backend is the storage primitive behind Store. Every read treats a record
// with ExpiresAt <= now as absent.
type Backend interface {
	// Insert stores a new record. It returns errors.ErrAlreadyExists when a
	// live record with the same session id exists.
	Insert(ctx context.Context, rec *Record) error

	// Load returns errors.ErrNotFound for missing or expired records.
	Load(ctx context.Context, sessionID string, now time.Time) (*Record, error)

	// Transition moves a live pending record to status as a single
	// compare-and-set. It reports false when the record is missing, expired
	// or no longer pending.
	Transition(ctx context.Context, sessionID string, status Status, now time.Time) (bool, error)

	// FindRecentPending returns the newest live pending record for guest
	// created at or after since, or errors.ErrNotFound.
	FindRecentPending(ctx context.Context, guest string, since, now time.Time) (*Record, error)

	// Sweep deletes expired records and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
