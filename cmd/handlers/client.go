package handlers

import (
	"fmt"
	"strings"
	"time"

	"newsfeed/internal/client"
	"newsfeed/internal/config"
	"newsfeed/internal/core"
)

// newAPIClient builds a client for the configured server
func newAPIClient() (*client.Client, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c := cfg.Client
	if c.Token == "" {
		return nil, fmt.Errorf("no access token configured\n\n" +
			"Set NEWSFEED_TOKEN or client.token in .newsfeed.yaml.\n" +
			"For a local server, mint one with: newsfeed token --user <id>")
	}

	return client.New(c.BaseURL, c.Token,
		client.WithTimeout(c.Timeout),
		client.WithRetry(c.RetryAttempts, c.RetryMinWait, c.RetryMaxWait),
	), nil
}

// printArticles renders a feed the way the terminal reads best
func printArticles(articles []core.Article) {
	for i, a := range articles {
		fmt.Printf("%2d. %s\n", i+1, a.Title)

		var meta []string
		if a.Source.Name != "" {
			meta = append(meta, a.Source.Name)
		}
		if !a.PublishedAt.IsZero() {
			meta = append(meta, a.PublishedAt.Local().Format("Jan 2, 15:04"))
		}
		if a.RelevanceScore != nil {
			meta = append(meta, fmt.Sprintf("⭐ %.1f", *a.RelevanceScore))
		}
		if len(meta) > 0 {
			fmt.Printf("    %s\n", strings.Join(meta, " · "))
		}

		if a.Summary != "" {
			fmt.Printf("    %s\n", a.Summary)
		} else if a.Description != "" {
			fmt.Printf("    %s\n", a.Description)
		}
		fmt.Printf("    🔗 %s\n\n", a.URL)
	}
}

// printFeed renders a feed reply including its status line
func printFeed(result *client.FeedResult) {
	if result.RateLimited {
		fmt.Printf("⏳ %s\n", result.Message)
		return
	}
	if result.Empty() {
		msg := result.Message
		if msg == "" {
			msg = "no articles found"
		}
		fmt.Printf("📭 %s\n", msg)
		return
	}

	source := "fresh"
	if result.Cached {
		source = "cached"
	}
	fmt.Printf("📰 %d articles (%s, computed %s ago)\n\n",
		result.Count, source, time.Since(result.ComputedAt).Round(time.Second))
	printArticles(result.Articles)
}
