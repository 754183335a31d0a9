package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"newsfeed/internal/client"
	"newsfeed/internal/logger"
)

// NewPrefsCmd creates the prefs command for reading and writing preferences
func NewPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change your news preferences",
		Long: `Show or change the free-text statement your feed is built from.

Examples:
  # Show what the server understood
  newsfeed prefs get

  # Replace your preferences and load the new feed
  newsfeed prefs set "fusion energy and battery chemistry from the last two weeks"`,
	}

	cmd.AddCommand(newPrefsGetCmd())
	cmd.AddCommand(newPrefsSetCmd())

	return cmd
}

func newPrefsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show your stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefsGet(cmd.Context())
		},
	}
}

func newPrefsSetCmd() *cobra.Command {
	var noFeed bool

	cmd := &cobra.Command{
		Use:   "set <statement>",
		Short: "Replace your preferences",
		Long: `Replace your preferences with a new statement.

The feed is reloaded right away unless --no-feed is given. If the new feed is
not ready after a few retries, run 'newsfeed feed' again shortly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefsSet(cmd.Context(), strings.Join(args, " "), noFeed)
		},
	}

	cmd.Flags().BoolVar(&noFeed, "no-feed", false, "Do not reload the feed after saving")

	return cmd
}

func runPrefsGet(ctx context.Context) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	record, err := api.GetPreferences(ctx)
	if err != nil {
		return fmt.Errorf("failed to get preferences: %w", err)
	}
	if record == nil {
		fmt.Println("No preferences set. Use 'newsfeed prefs set \"...\"' to create them.")
		return nil
	}

	fmt.Println("🎯 Preferences")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Statement:  %s\n", record.RawInput)
	fmt.Printf("Topics:     %s\n", joinOrDash(record.Topics))
	fmt.Printf("Categories: %s\n", joinOrDash(record.Categories))
	fmt.Printf("Timeframe:  %s\n", orDash(record.Timeframe))
	if !record.ParsedAt.IsZero() {
		fmt.Printf("Updated:    %s\n", record.ParsedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runPrefsSet(ctx context.Context, text string, noFeed bool) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	result, err := api.SetPreferences(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	fmt.Println("✅ Preferences saved")
	fmt.Printf("Topics: %s\n", joinOrDash(result.Preferences.Topics))

	if noFeed {
		return nil
	}

	fmt.Println()
	feed, err := api.FeedAfterWrite(ctx, result.ConsistencyToken)
	if errors.Is(err, client.ErrDeferred) {
		logger.Debug("Feed deferred after preference write")
		fmt.Println("⏳ Your new feed is still being prepared. Run 'newsfeed feed' in a moment.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}

	printFeed(feed)
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
