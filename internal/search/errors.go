package search

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingAPIKey is returned when a required API key is not provided
	ErrMissingAPIKey = errors.New("API key is required")

	// ErrMissingFeeds is returned when the RSS provider has no feed URLs
	ErrMissingFeeds = errors.New("at least one feed URL is required")

	// ErrUnsupportedProvider is returned when an unsupported provider type is specified
	ErrUnsupportedProvider = errors.New("unsupported search provider")

	// ErrHeadlinesUnsupported is returned when the provider has no headlines feed
	ErrHeadlinesUnsupported = errors.New("provider does not support headlines")
)

// RateLimitedError reports that the provider refused the request for quota reasons
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// ProviderError is a non-success response from the provider
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Details  string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s request failed with status %d", e.Provider, e.Status)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// ConnectivityError means no usable response was received
type ConnectivityError struct {
	Provider string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Provider, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a provider-side failure a caller may retry
func IsRetryable(err error) bool {
	var rl *RateLimitedError
	var pe *ProviderError
	var ce *ConnectivityError
	return errors.As(err, &rl) || errors.As(err, &pe) || errors.As(err, &ce)
}
