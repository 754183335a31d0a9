package server

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"newsfeed/internal/auth"
	"newsfeed/internal/core"
	"newsfeed/internal/feed"
	"newsfeed/internal/search"
)

// FeedRequest is the body of POST /api/news
type FeedRequest struct {
	ForceRefresh     bool                   `json:"forceRefresh"`
	Preferences      *core.PreferenceRecord `json:"preferences,omitempty"`
	ConsistencyToken string                 `json:"consistencyToken,omitempty"`
}

// FeedResponse is the body of every feed reply
type FeedResponse struct {
	Articles    []core.Article `json:"articles"`
	Count       int            `json:"count,omitempty"`
	Cached      bool           `json:"cached,omitempty"`
	RateLimited bool           `json:"rateLimited,omitempty"`
	Message     string         `json:"message,omitempty"`
	ComputedAt  time.Time      `json:"computedAt,omitzero"`
}

// HeadlinesResponse is the body of GET /api/news/headlines
type HeadlinesResponse struct {
	Articles []core.Article `json:"articles"`
	Count    int            `json:"count"`
}

// handleGetNews handles GET /api/news
func (s *Server) handleGetNews(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	s.serveFeed(w, r, feed.Request{UserID: userID, ForceRefresh: refresh})
}

// handlePostNews handles POST /api/news
func (s *Server) handlePostNews(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var body FeedRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	req := feed.Request{
		UserID:       userID,
		ForceRefresh: body.ForceRefresh,
		Token:        strings.TrimSpace(body.ConsistencyToken),
	}
	if body.Preferences != nil && !body.Preferences.IsZero() {
		req.Override = body.Preferences
	}

	s.serveFeed(w, r, req)
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, req feed.Request) {
	resp, err := s.deps.Feed.GetFeed(r.Context(), req)
	if err != nil {
		s.respondUpstreamError(w, r, err)
		return
	}

	body := FeedResponse{
		Articles:   resp.Articles,
		Count:      resp.Count(),
		Message:    resp.Message,
		ComputedAt: resp.ComputedAt,
	}
	if body.Articles == nil {
		body.Articles = []core.Article{}
	}

	status := http.StatusOK
	switch resp.Status {
	case feed.StatusRateLimited:
		body.RateLimited = true
		status = http.StatusTooManyRequests
	case feed.StatusCached:
		body.Cached = true
	}

	s.respondJSON(w, status, body)
}

// handleHeadlines handles GET /api/news/headlines
func (s *Server) handleHeadlines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	articles, err := s.deps.Feed.Headlines(r.Context(), q.Get("category"), q.Get("country"))
	if errors.Is(err, search.ErrHeadlinesUnsupported) {
		s.respondError(w, r, http.StatusNotImplemented, "headlines are not available from the configured provider", nil)
		return
	}
	if err != nil {
		s.respondUpstreamError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, HeadlinesResponse{Articles: articles, Count: len(articles)})
}

// respondUpstreamError maps provider failures to retryable 502/503 replies
// and everything else to a generic 500.
func (s *Server) respondUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rateLimited  *search.RateLimitedError
		providerErr  *search.ProviderError
		connectivity *search.ConnectivityError
	)

	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.As(err, &rateLimited):
		status = http.StatusServiceUnavailable
		message = "news provider is busy, please retry shortly"
		if rateLimited.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateLimited.RetryAfter.Seconds()))))
		}
	case errors.As(err, &connectivity):
		status = http.StatusServiceUnavailable
		message = "news provider is unreachable, please retry shortly"
	case errors.As(err, &providerErr):
		status = http.StatusBadGateway
		message = "news provider request failed, please retry shortly"
	}

	if status == http.StatusInternalServerError {
		s.respondError(w, r, status, message, err)
		return
	}

	s.log.Warn("Upstream request failed", "status", status, "error", err)
	s.respondJSON(w, status, ErrorResponse{Error: message, Retryable: true})
}
