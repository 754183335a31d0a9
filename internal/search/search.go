package search

import (
	"context"
	"net/http"
	"strings"
	"time"

	"newsfeed/internal/core"
)

// Provider defines the unified interface for article search providers
type Provider interface {
	// Fetch returns candidate articles for the query, in provider order
	Fetch(ctx context.Context, q Query) ([]core.Article, error)

	// GetName returns the name of the search provider
	GetName() string
}

// HeadlineProvider is implemented by providers that expose a top-headlines feed
type HeadlineProvider interface {
	Headlines(ctx context.Context, category, country string) ([]core.Article, error)
}

// Query holds the parameters of one article search
type Query struct {
	Text     string
	From     time.Time // first calendar day, inclusive
	To       time.Time // zero means "now"
	PageSize int
	Language string
	SortBy   string
}

// ProviderType represents the type of search provider
type ProviderType string

const (
	ProviderTypeNewsAPI ProviderType = "newsapi"
	ProviderTypeRSS     ProviderType = "rss"
	ProviderTypeMock    ProviderType = "mock"
)

// Options configures provider construction
type Options struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Feeds             []string
	HTTPClient        *http.Client
}

// ProviderFactory creates search providers based on type and configuration
type ProviderFactory struct{}

// NewProviderFactory creates a new provider factory
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{}
}

// CreateProvider creates a search provider of the specified type
func (f *ProviderFactory) CreateProvider(providerType ProviderType, opts Options) (Provider, error) {
	switch providerType {
	case ProviderTypeNewsAPI:
		if opts.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewNewsAPIProvider(opts.APIKey, opts), nil
	case ProviderTypeRSS:
		if len(opts.Feeds) == 0 {
			return nil, ErrMissingFeeds
		}
		return NewRSSProvider(opts.Feeds, opts), nil
	case ProviderTypeMock:
		return NewMockProvider(), nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// GetAvailableProviders returns a list of available provider types
func (f *ProviderFactory) GetAvailableProviders() []ProviderType {
	return []ProviderType{
		ProviderTypeNewsAPI,
		ProviderTypeRSS,
		ProviderTypeMock,
	}
}

// removedTitle marks articles the provider has withdrawn
const removedTitle = "[Removed]"

// FilterValid drops articles without a title or URL and withdrawn articles,
// preserving order.
func FilterValid(articles []core.Article) []core.Article {
	valid := make([]core.Article, 0, len(articles))
	for _, a := range articles {
		if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.URL) == "" {
			continue
		}
		if a.Title == removedTitle {
			continue
		}
		valid = append(valid, a)
	}
	return valid
}
