package search

import (
	"context"
	"sync"
	"time"

	"newsfeed/internal/core"
)

// MockProvider implements Provider for testing purposes
type MockProvider struct {
	mu        sync.Mutex
	name      string
	articles  []core.Article
	err       error
	calls     int
	lastQuery Query
}

// NewMockProvider creates a new mock search provider
func NewMockProvider() *MockProvider {
	published := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	return &MockProvider{
		name: "Mock",
		articles: []core.Article{
			{
				Title:       "Example Article 1",
				URL:         "https://example.com/article1",
				Source:      core.Source{Name: "Example"},
				Description: "This is a mock article for testing purposes.",
				PublishedAt: published,
			},
			{
				Title:       "Test Article 2",
				URL:         "https://test.org/article2",
				Source:      core.Source{Name: "Test"},
				Description: "Another mock article with different content.",
				PublishedAt: published.Add(-time.Hour),
			},
			{
				Title:       "Demo Article 3",
				URL:         "https://demo.net/article3",
				Source:      core.Source{Name: "Demo"},
				Description: "Third mock article to simulate multiple results.",
				PublishedAt: published.Add(-2 * time.Hour),
			},
		},
	}
}

// GetName returns the name of this provider
func (m *MockProvider) GetName() string {
	return m.name
}

// Fetch returns the configured articles or error
func (m *MockProvider) Fetch(ctx context.Context, q Query) ([]core.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastQuery = q

	if m.err != nil {
		return nil, m.err
	}

	n := len(m.articles)
	if q.PageSize > 0 && q.PageSize < n {
		n = q.PageSize
	}
	out := make([]core.Article, n)
	copy(out, m.articles[:n])
	return out, nil
}

// Headlines returns the configured articles
func (m *MockProvider) Headlines(ctx context.Context, category, country string) ([]core.Article, error) {
	return m.Fetch(ctx, Query{PageSize: headlinesPageSize})
}

// SetArticles allows customization of mock results for testing
func (m *MockProvider) SetArticles(articles []core.Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles = articles
}

// SetError makes every subsequent call fail with err
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Fetch was invoked
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastQuery returns the most recent query passed to Fetch
func (m *MockProvider) LastQuery() Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}
