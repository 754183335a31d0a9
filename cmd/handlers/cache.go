package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"newsfeed/internal/config"
	"newsfeed/internal/feedcache"
	"newsfeed/internal/logger"
)

// NewCacheCmd creates the cache management command
func NewCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the computed feed cache",
		Long:  `Purge expired feeds or drop a single user's cached feed.`,
	}

	cacheCmd.AddCommand(newCachePurgeCmd())
	cacheCmd.AddCommand(newCacheClearCmd())

	return cacheCmd
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired cached feeds",
		Long:  `Delete every cached feed older than feed.cache_ttl. The server does this periodically on its own.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachePurge(cmd.Context())
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var userID string

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop one user's cached feed",
		Long:  `Drop a user's cached feed so the next request recomputes it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(cmd.Context(), userID)
		},
	}

	clearCmd.Flags().StringVar(&userID, "user", "", "User whose feed to drop")
	_ = clearCmd.MarkFlagRequired("user")
	return clearCmd
}

func openFeedCache(ctx context.Context) (*feedcache.Cache, func() error, error) {
	db, err := getDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	return feedcache.New(db.FeedCache(), config.GetFeed().CacheTTL), db.Close, nil
}

func runCachePurge(ctx context.Context) error {
	cache, closeDB, err := openFeedCache(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := cache.Purge(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}

	logger.Info("Feed cache purged", "removed", n)
	fmt.Printf("🧹 Removed %d expired feed(s)\n", n)
	return nil
}

func runCacheClear(ctx context.Context, userID string) error {
	cache, closeDB, err := openFeedCache(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear cache for %s: %w", userID, err)
	}

	fmt.Printf("✅ Cleared cached feed for %s\n", userID)
	return nil
}
