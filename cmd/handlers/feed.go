package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"newsfeed/internal/client"
)

// NewFeedCmd creates the feed command
func NewFeedCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show your personalized feed",
		Long: `Show your ranked news feed.

The server answers from its cache while your preferences are unchanged and the
cache is fresh. --refresh recomputes it, which spends AI quota.

Examples:
  newsfeed feed
  newsfeed feed --refresh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(cmd.Context(), refresh)
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Recompute the feed instead of using the cache")

	return cmd
}

// NewHeadlinesCmd creates the headlines command
func NewHeadlinesCmd() *cobra.Command {
	var category, country string

	cmd := &cobra.Command{
		Use:   "headlines",
		Short: "Show top headlines",
		Long: `Show the provider's current top headlines. Headlines are not personalized
and do not use AI quota.

Examples:
  newsfeed headlines
  newsfeed headlines --category technology --country gb`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeadlines(cmd.Context(), category, country)
		},
	}

	cmd.Flags().StringVar(&category, "category", "general", "Headline category")
	cmd.Flags().StringVar(&country, "country", "us", "Two-letter country code")

	return cmd
}

func runFeed(ctx context.Context, refresh bool) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	result, err := api.Feed(ctx, client.FeedRequest{ForceRefresh: refresh})
	if err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}

	printFeed(result)
	return nil
}

func runHeadlines(ctx context.Context, category, country string) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	articles, err := api.Headlines(ctx, category, country)
	if err != nil {
		return fmt.Errorf("failed to load headlines: %w", err)
	}
	if len(articles) == 0 {
		fmt.Println("📭 No headlines found")
		return nil
	}

	fmt.Printf("🗞️  Top %s headlines (%s)\n\n", category, country)
	printArticles(articles)
	return nil
}
