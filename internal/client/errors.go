package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrDeferred means the post-write feed never became available within the
// retry budget; a later ordinary request will pick it up.
var ErrDeferred = errors.New("feed not ready yet, try again shortly")

// APIError is a non-2xx reply from the API
type APIError struct {
	Status    int
	Message   string
	Retryable bool

	body []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api request failed with status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api request failed with status %d", e.Status)
}

// TransportError means no reply was received
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("api unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, body: body}

	var payload struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
		apiErr.Retryable = payload.Retryable
	}
	if status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
		apiErr.Retryable = true
	}
	return apiErr
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
