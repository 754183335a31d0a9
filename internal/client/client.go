// Package client is a Go SDK for the newsfeed HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"newsfeed/internal/core"
)

const defaultTimeout = 100 * time.Second

// Client calls the newsfeed API as one authenticated user
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      retryPolicy
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetry configures FeedAfterWrite: attempts retries after the first
// try, each preceded by a pause between minWait and maxWait.
func WithRetry(attempts int, minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.retry = newRetryPolicy(attempts, minWait, maxWait)
	}
}

// New creates a client for the API at baseURL, authenticating with token
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		retry:      defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PreferencesResult is the reply to SetPreferences
type PreferencesResult struct {
	Message          string                `json:"message"`
	Preferences      core.PreferenceRecord `json:"preferences"`
	ConsistencyToken string                `json:"consistencyToken"`
}

// FeedRequest selects how the feed is computed
type FeedRequest struct {
	ForceRefresh     bool                   `json:"forceRefresh"`
	Preferences      *core.PreferenceRecord `json:"preferences,omitempty"`
	ConsistencyToken string                 `json:"consistencyToken,omitempty"`
}

// FeedResult is a feed reply. A rate limited reply is a result, not an error.
type FeedResult struct {
	Articles    []core.Article `json:"articles"`
	Count       int            `json:"count"`
	Cached      bool           `json:"cached"`
	RateLimited bool           `json:"rateLimited"`
	Message     string         `json:"message"`
	ComputedAt  time.Time      `json:"computedAt"`
}

// Empty reports whether the reply carries no articles
func (r *FeedResult) Empty() bool {
	return len(r.Articles) == 0
}

// SetPreferences stores a new preference statement
func (c *Client) SetPreferences(ctx context.Context, text string) (*PreferencesResult, error) {
	var result PreferencesResult
	body := map[string]string{"preferenceText": text}
	if err := c.do(ctx, http.MethodPost, "/api/preferences", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPreferences returns the stored record, or nil when none is set
func (c *Client) GetPreferences(ctx context.Context) (*core.PreferenceRecord, error) {
	var result struct {
		Preferences *core.PreferenceRecord `json:"preferences"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/preferences", nil, &result); err != nil {
		return nil, err
	}
	return result.Preferences, nil
}

// Feed fetches the personalized feed
func (c *Client) Feed(ctx context.Context, req FeedRequest) (*FeedResult, error) {
	var result FeedResult
	var err error
	if req.Preferences == nil && req.ConsistencyToken == "" {
		path := "/api/news"
		if req.ForceRefresh {
			path += "?refresh=true"
		}
		err = c.do(ctx, http.MethodGet, path, nil, &result)
	} else {
		err = c.do(ctx, http.MethodPost, "/api/news", req, &result)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests && apiErr.body != nil {
		if jsonErr := json.Unmarshal(apiErr.body, &result); jsonErr == nil && result.RateLimited {
			return &result, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Headlines fetches top headlines; empty arguments use server defaults
func (c *Client) Headlines(ctx context.Context, category, country string) ([]core.Article, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if country != "" {
		q.Set("country", country)
	}
	path := "/api/news/headlines"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var result struct {
		Articles []core.Article `json:"articles"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Articles, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
