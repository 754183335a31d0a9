package search

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"newsfeed/internal/core"
	"newsfeed/internal/logger"
)

// RSSProvider implements Provider over a fixed set of RSS/Atom feeds.
// Items are matched locally against the OR-terms of the query.
type RSSProvider struct {
	feeds   []string
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// NewRSSProvider creates a provider reading the given feed URLs
func NewRSSProvider(feeds []string, opts Options) *RSSProvider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RSSProvider{
		feeds:   feeds,
		client:  client,
		timeout: timeout,
		now:     time.Now,
	}
}

// GetName returns the name of this provider
func (r *RSSProvider) GetName() string {
	return "RSS"
}

// Fetch reads every feed concurrently. A feed that fails is logged and
// skipped; the call fails only when every feed fails.
func (r *RSSProvider) Fetch(ctx context.Context, q Query) ([]core.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		items    []core.Article
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, feedURL := range r.feeds {
		g.Go(func() error {
			articles, err := r.fetchFeed(gctx, feedURL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("RSS feed failed", "feed", feedURL, "error", err)
				failures = append(failures, err)
				return nil
			}
			items = append(items, articles...)
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == len(r.feeds) && len(failures) > 0 {
		return nil, failures[0]
	}

	terms := splitTerms(q.Text)
	to := q.To
	if to.IsZero() {
		to = r.now()
	}

	seen := make(map[string]bool)
	var matched []core.Article
	for _, a := range items {
		if seen[a.URL] {
			continue
		}
		if !a.PublishedAt.IsZero() {
			if !q.From.IsZero() && a.PublishedAt.Before(q.From) {
				continue
			}
			if a.PublishedAt.After(to) {
				continue
			}
		}
		if !matchesAny(a, terms) {
			continue
		}
		seen[a.URL] = true
		matched = append(matched, a)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].PublishedAt.After(matched[j].PublishedAt)
	})

	if q.PageSize > 0 && len(matched) > q.PageSize {
		matched = matched[:q.PageSize]
	}

	logger.Info("RSS search completed", "query", q.Text, "feeds", len(r.feeds), "results_found", len(matched))
	return matched, nil
}

func (r *RSSProvider) fetchFeed(ctx context.Context, feedURL string) ([]core.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Provider: r.GetName(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Provider: r.GetName(), RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: r.GetName(), Status: resp.StatusCode, Details: feedURL}
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: r.GetName(), Status: resp.StatusCode, Details: fmt.Sprintf("failed to parse feed %s: %v", feedURL, err)}
	}

	articles := make([]core.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		desc := item.Description
		if desc == "" {
			desc = item.Content
		}

		a := core.Article{
			Title:       strings.TrimSpace(item.Title),
			URL:         strings.TrimSpace(item.Link),
			Source:      core.Source{Name: feed.Title},
			Description: plainText(desc),
		}
		if item.Image != nil {
			a.ImageURL = item.Image.URL
		}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			a.Author = item.Authors[0].Name
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = item.PublishedParsed.UTC()
		} else if item.UpdatedParsed != nil {
			a.PublishedAt = item.UpdatedParsed.UTC()
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func splitTerms(text string) []string {
	var terms []string
	for _, part := range strings.Split(text, " OR ") {
		if t := strings.ToLower(strings.TrimSpace(part)); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

func matchesAny(a core.Article, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(a.Title + " " + a.Description)
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
