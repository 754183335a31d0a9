package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"newsfeed/internal/core"
	"newsfeed/internal/logger"
)

const (
	defaultNewsAPIBaseURL = "https://newsapi.org"
	newsAPIDateLayout     = "2006-01-02"
	headlinesPageSize     = 20

	DefaultHeadlinesCategory = "technology"
	DefaultHeadlinesCountry  = "us"
)

// NewsAPIProvider implements Provider using the NewsAPI v2 REST API
type NewsAPIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewNewsAPIProvider creates a new NewsAPI provider
func NewNewsAPIProvider(apiKey string, opts Options) *NewsAPIProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultNewsAPIBaseURL
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &NewsAPIProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// GetName returns the name of this provider
func (n *NewsAPIProvider) GetName() string {
	return "NewsAPI"
}

// Fetch searches /v2/everything
func (n *NewsAPIProvider) Fetch(ctx context.Context, q Query) ([]core.Article, error) {
	params := url.Values{}
	params.Set("q", q.Text)
	if !q.From.IsZero() {
		params.Set("from", q.From.UTC().Format(newsAPIDateLayout))
	}
	if !q.To.IsZero() {
		params.Set("to", q.To.UTC().Format(newsAPIDateLayout))
	}

	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = "relevancy"
	}
	params.Set("sortBy", sortBy)

	language := q.Language
	if language == "" {
		language = "en"
	}
	params.Set("language", language)

	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	params.Set("pageSize", strconv.Itoa(pageSize))

	articles, err := n.get(ctx, "/v2/everything", params)
	if err != nil {
		return nil, err
	}

	logger.Info("NewsAPI search completed", "query", q.Text, "results_found", len(articles))
	return articles, nil
}

// Headlines returns the top headlines for a category and country
func (n *NewsAPIProvider) Headlines(ctx context.Context, category, country string) ([]core.Article, error) {
	if category == "" {
		category = DefaultHeadlinesCategory
	}
	if country == "" {
		country = DefaultHeadlinesCountry
	}

	params := url.Values{}
	params.Set("category", category)
	params.Set("country", country)
	params.Set("pageSize", strconv.Itoa(headlinesPageSize))

	return n.get(ctx, "/v2/top-headlines", params)
}

type newsAPIResponse struct {
	Status       string           `json:"status"`
	Code         string           `json:"code"`
	Message      string           `json:"message"`
	TotalResults int              `json:"totalResults"`
	Articles     []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
}

func (n *NewsAPIProvider) get(ctx context.Context, path string, params url.Values) ([]core.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		return nil, &ConnectivityError{Provider: n.GetName(), Err: err}
	}

	params.Set("apiKey", n.apiKey)
	fullURL := n.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create NewsAPI request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Provider: n.GetName(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &ConnectivityError{Provider: n.GetName(), Err: err}
	}

	var apiResponse newsAPIResponse
	decodeErr := json.Unmarshal(body, &apiResponse)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Provider: n.GetName(), RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{
			Provider: n.GetName(),
			Status:   resp.StatusCode,
			Code:     apiResponse.Code,
			Details:  apiResponse.Message,
		}
	}
	if decodeErr != nil {
		return nil, &ProviderError{
			Provider: n.GetName(),
			Status:   resp.StatusCode,
			Details:  "malformed response body",
		}
	}
	if apiResponse.Status != "ok" {
		return nil, &ProviderError{
			Provider: n.GetName(),
			Status:   resp.StatusCode,
			Code:     apiResponse.Code,
			Details:  apiResponse.Message,
		}
	}

	articles := make([]core.Article, 0, len(apiResponse.Articles))
	for _, item := range apiResponse.Articles {
		articles = append(articles, item.toArticle())
	}
	return articles, nil
}

func (a newsAPIArticle) toArticle() core.Article {
	article := core.Article{
		Title:       strings.TrimSpace(a.Title),
		URL:         strings.TrimSpace(a.URL),
		ImageURL:    a.URLToImage,
		Source:      core.Source{Name: a.Source.Name},
		Description: plainText(a.Description),
		Author:      a.Author,
	}
	if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
		article.PublishedAt = t.UTC()
	}
	return article
}

// plainText reduces an HTML fragment to whitespace-normalized text
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
