// Package feedcache serves a user's last enriched feed while it is younger
// than the TTL and was computed from the user's current preferences.
package feedcache

import (
	"context"
	"errors"
	"time"

	"newsfeed/internal/core"
	"newsfeed/internal/logger"
	"newsfeed/internal/persistence"
)

// DefaultTTL is how long a computed feed stays servable
const DefaultTTL = time.Hour

// Cache wraps a FeedCacheRepository with freshness rules
type Cache struct {
	repo persistence.FeedCacheRepository
	ttl  time.Duration
	now  func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache over repo. A non-positive ttl selects DefaultTTL.
func New(repo persistence.FeedCacheRepository, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{repo: repo, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the user's entry when it is fresh and matches preferenceVersion.
// A stale or mismatched entry is a miss, not an error.
func (c *Cache) Get(ctx context.Context, userID, preferenceVersion string) (*core.FeedCacheEntry, bool, error) {
	entry, err := c.repo.Get(ctx, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !entry.Fresh(c.now(), c.ttl) {
		logger.Debug("Feed cache entry expired", "user_id", userID, "computed_at", entry.ComputedAt)
		return nil, false, nil
	}
	if entry.PreferenceVersion != preferenceVersion {
		logger.Debug("Feed cache entry computed from other preferences", "user_id", userID)
		return nil, false, nil
	}
	return entry, true, nil
}

// Set stores articles as the user's feed, computed now
func (c *Cache) Set(ctx context.Context, userID string, articles []core.Article, preferenceVersion string) (core.FeedCacheEntry, error) {
	entry := core.FeedCacheEntry{
		UserID:            userID,
		Articles:          articles,
		ComputedAt:        c.now().UTC(),
		PreferenceVersion: preferenceVersion,
	}
	return entry, c.repo.Set(ctx, entry)
}

// Invalidate drops the user's entry
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	return c.repo.Delete(ctx, userID)
}

// Purge deletes every expired entry
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	return c.repo.DeleteComputedBefore(ctx, c.now().Add(-c.ttl))
}

// RunSweeper purges expired entries every interval until ctx is done
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Purge(ctx)
			if err != nil {
				logger.Error("Feed cache purge failed", err)
				continue
			}
			if n > 0 {
				logger.Info("Purged expired feed cache entries", "count", n)
			}
		}
	}
}
