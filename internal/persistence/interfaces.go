// Package persistence provides database abstraction interfaces for storing
// user preferences and computed feeds
package persistence

import (
	"context"
	"errors"
	"time"

	"newsfeed/internal/core"
)

// ErrNotFound is returned when no row exists for the requested user
var ErrNotFound = errors.New("record not found")

// PreferenceRepository handles preference record persistence
type PreferenceRepository interface {
	// Get retrieves the user's record, or ErrNotFound
	Get(ctx context.Context, userID string) (*core.PreferenceRecord, error)

	// Upsert replaces the user's record wholesale
	Upsert(ctx context.Context, userID string, record core.PreferenceRecord) error

	// Delete removes the user's record
	Delete(ctx context.Context, userID string) error
}

// FeedCacheRepository handles computed feed persistence. Freshness is
// decided by the caller at read time.
type FeedCacheRepository interface {
	// Get retrieves the user's entry, or ErrNotFound
	Get(ctx context.Context, userID string) (*core.FeedCacheEntry, error)

	// Set replaces the user's entry
	Set(ctx context.Context, entry core.FeedCacheEntry) error

	// Delete removes the user's entry; deleting a missing entry is not an error
	Delete(ctx context.Context, userID string) error

	// DeleteComputedBefore removes every entry computed before cutoff
	DeleteComputedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Database provides access to all repositories
type Database interface {
	Preferences() PreferenceRepository
	FeedCache() FeedCacheRepository

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}
