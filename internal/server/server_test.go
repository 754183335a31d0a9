package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"newsfeed/internal/auth"
	"newsfeed/internal/config"
	"newsfeed/internal/core"
	"newsfeed/internal/feed"
	"newsfeed/internal/preferences"
	"newsfeed/internal/ratelimit"
	"newsfeed/internal/search"
)

const testSecret = "server-test-secret-0123"

type fakeDB struct{ err error }

func (f fakeDB) Ping(ctx context.Context) error { return f.err }

type fakePreferences struct {
	WriteFunc func(ctx context.Context, userID, rawText string) (core.PreferenceRecord, core.ConsistencyToken, error)
	ReadFunc  func(ctx context.Context, userID string) (*core.PreferenceRecord, error)
}

func (f *fakePreferences) Write(ctx context.Context, userID, rawText string) (core.PreferenceRecord, core.ConsistencyToken, error) {
	if f.WriteFunc != nil {
		return f.WriteFunc(ctx, userID, rawText)
	}
	record := core.PreferenceRecord{RawInput: rawText, Timeframe: core.DefaultTimeframe}
	return record, core.ConsistencyToken{ID: "t1", UserID: userID, Record: record}, nil
}

func (f *fakePreferences) Read(ctx context.Context, userID string) (*core.PreferenceRecord, error) {
	if f.ReadFunc != nil {
		return f.ReadFunc(ctx, userID)
	}
	return nil, nil
}

type fakeTokens struct{}

func (fakeTokens) Encode(token core.ConsistencyToken) (string, error) {
	return "encoded-" + token.ID, nil
}

type fakeFeed struct {
	GetFeedFunc   func(ctx context.Context, req feed.Request) (feed.Response, error)
	HeadlinesFunc func(ctx context.Context, category, country string) ([]core.Article, error)

	lastRequest feed.Request
}

func (f *fakeFeed) GetFeed(ctx context.Context, req feed.Request) (feed.Response, error) {
	f.lastRequest = req
	if f.GetFeedFunc != nil {
		return f.GetFeedFunc(ctx, req)
	}
	return feed.Response{Status: feed.StatusFresh, Articles: []core.Article{{Title: "t", URL: "https://x.example"}}}, nil
}

func (f *fakeFeed) Headlines(ctx context.Context, category, country string) ([]core.Article, error) {
	if f.HeadlinesFunc != nil {
		return f.HeadlinesFunc(ctx, category, country)
	}
	return []core.Article{}, nil
}

type testServer struct {
	*Server
	prefs *fakePreferences
	feed  *fakeFeed
	token string
}

func newTestServer(t *testing.T, db HealthChecker) *testServer {
	t.Helper()
	verifier := auth.NewJWTVerifier(testSecret)
	token, err := verifier.Sign("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	ts := &testServer{prefs: &fakePreferences{}, feed: &fakeFeed{}, token: token}
	ts.Server = New(Deps{
		DB:          db,
		Preferences: ts.prefs,
		Tokens:      fakeTokens{},
		Feed:        ts.feed,
		Quota:       ratelimit.New(10),
		Verifier:    verifier,
		Version:     "test",
	}, config.Server{Host: "127.0.0.1", Port: 0})
	return ts
}

func (ts *testServer) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if authed {
		r.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.Router().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		db     HealthChecker
		status int
		want   string
	}{
		{name: "healthy", db: fakeDB{}, status: http.StatusOK, want: "ok"},
		{name: "database down", db: fakeDB{err: errors.New("refused")}, status: http.StatusServiceUnavailable, want: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.db)
			w := ts.do(http.MethodGet, "/health", "", false)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, w.Code)
			}
			var body HealthResponse
			decode(t, w, &body)
			if body.Status != tt.want {
				t.Errorf("Expected status %q, got %q", tt.want, body.Status)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, fakeDB{})
	w := ts.do(http.MethodGet, "/api/status", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body StatusResponse
	decode(t, w, &body)
	if body.Version != "test" || body.RateLimit.Limit != 10 || body.RateLimit.Remaining != 10 {
		t.Errorf("Unexpected status %+v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, fakeDB{})

	if w := ts.do(http.MethodGet, "/api/news", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/preferences", nil)
	r.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()
	ts.Router().ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for invalid token, got %d", w.Code)
	}
}

func TestSetPreferences(t *testing.T) {
	ts := newTestServer(t, fakeDB{})

	w := ts.do(http.MethodPost, "/api/preferences", `{"preferenceText":"AI news"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body SetPreferencesResponse
	decode(t, w, &body)
	if body.Preferences.RawInput != "AI news" || body.ConsistencyToken != "encoded-t1" || body.Message == "" {
		t.Errorf("Unexpected response %+v", body)
	}
	if got := w.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Expected no-store on per-user response, got %q", got)
	}
}

func TestSetPreferencesValidation(t *testing.T) {
	ts := newTestServer(t, fakeDB{})
	ts.prefs.WriteFunc = func(ctx context.Context, userID, rawText string) (core.PreferenceRecord, core.ConsistencyToken, error) {
		return core.PreferenceRecord{}, core.ConsistencyToken{}, preferences.ErrEmptyPreferences
	}

	w := ts.do(http.MethodPost, "/api/preferences", `{"preferenceText":"   "}`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	var body ErrorResponse
	decode(t, w, &body)
	if body.Error != "preferenceText is required" {
		t.Errorf("Unexpected error %q", body.Error)
	}

	if w := ts.do(http.MethodPost, "/api/preferences", `{not json`, true); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}

	ts.prefs.WriteFunc = func(ctx context.Context, userID, rawText string) (core.PreferenceRecord, core.ConsistencyToken, error) {
		return core.PreferenceRecord{}, core.ConsistencyToken{}, errors.New("db gone")
	}
	w = ts.do(http.MethodPost, "/api/preferences", `{"preferenceText":"x"}`, true)
	if w.Code != http.StatusInternalServerError || strings.Contains(w.Body.String(), "db gone") {
		t.Errorf("Expected generic 500, got %d %s", w.Code, w.Body.String())
	}
}

func TestGetPreferences(t *testing.T) {
	ts := newTestServer(t, fakeDB{})

	w := ts.do(http.MethodGet, "/api/preferences", "", true)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"preferences":null`) {
		t.Errorf("Expected null preferences, got %d %s", w.Code, w.Body.String())
	}

	ts.prefs.ReadFunc = func(ctx context.Context, userID string) (*core.PreferenceRecord, error) {
		if userID != "user-1" {
			t.Errorf("Expected authenticated user, got %q", userID)
		}
		return &core.PreferenceRecord{RawInput: "space", Topics: []string{"space"}}, nil
	}
	w = ts.do(http.MethodGet, "/api/preferences", "", true)
	var body GetPreferencesResponse
	decode(t, w, &body)
	if body.Preferences == nil || body.Preferences.RawInput != "space" {
		t.Errorf("Unexpected preferences %+v", body.Preferences)
	}
}

func TestFeedResponseMapping(t *testing.T) {
	score := 7.0
	tests := []struct {
		name      string
		resp      feed.Response
		err       error
		status    int
		check     func(t *testing.T, body map[string]any)
		retryHint string
	}{
		{
			name:   "fresh",
			resp:   feed.Response{Status: feed.StatusFresh, Articles: []core.Article{{Title: "a", URL: "u", RelevanceScore: &score}}},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["count"] != 1.0 || body["cached"] != nil {
					t.Errorf("Unexpected body %v", body)
				}
			},
		},
		{
			name:   "cached",
			resp:   feed.Response{Status: feed.StatusCached, Articles: []core.Article{{Title: "a", URL: "u"}}},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["cached"] != true {
					t.Errorf("Expected cached flag, got %v", body)
				}
			},
		},
		{
			name:   "rate limited",
			resp:   feed.Response{Status: feed.StatusRateLimited, Articles: []core.Article{}, Message: feed.MessageRateLimited},
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, body map[string]any) {
				if body["rateLimited"] != true || body["message"] != feed.MessageRateLimited || body["count"] != nil {
					t.Errorf("Unexpected body %v", body)
				}
			},
		},
		{
			name:   "no preferences",
			resp:   feed.Response{Status: feed.StatusNoPreferences, Message: feed.MessageNoPreferences},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				articles, ok := body["articles"].([]any)
				if !ok || len(articles) != 0 || body["message"] != feed.MessageNoPreferences || body["count"] != nil {
					t.Errorf("Expected empty articles and message, got %v", body)
				}
			},
		},
		{
			name:   "no articles",
			resp:   feed.Response{Status: feed.StatusNoArticles, Articles: []core.Article{}, Message: feed.MessageNoArticles},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["message"] != feed.MessageNoArticles || body["count"] != nil {
					t.Errorf("Expected message without count, got %v", body)
				}
			},
		},
		{
			name:   "provider error",
			err:    &search.ProviderError{Provider: "NewsAPI", Status: 500, Details: "secret detail"},
			status: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				if body["retryable"] != true || strings.Contains(body["error"].(string), "secret detail") {
					t.Errorf("Expected generic retryable error, got %v", body)
				}
			},
		},
		{
			name:   "connectivity",
			err:    &search.ConnectivityError{Provider: "NewsAPI", Err: errors.New("dial")},
			status: http.StatusServiceUnavailable,
		},
		{
			name:      "provider rate limit",
			err:       &search.RateLimitedError{Provider: "NewsAPI", RetryAfter: 1500 * time.Millisecond},
			status:    http.StatusServiceUnavailable,
			retryHint: "2",
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				if body["error"] != "internal server error" || body["retryable"] != nil {
					t.Errorf("Unexpected body %v", body)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, fakeDB{})
			ts.feed.GetFeedFunc = func(ctx context.Context, req feed.Request) (feed.Response, error) {
				return tt.resp, tt.err
			}

			w := ts.do(http.MethodGet, "/api/news", "", true)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.retryHint != "" && w.Header().Get("Retry-After") != tt.retryHint {
				t.Errorf("Expected Retry-After %s, got %q", tt.retryHint, w.Header().Get("Retry-After"))
			}
			var body map[string]any
			decode(t, w, &body)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestGetNewsRefreshFlag(t *testing.T) {
	ts := newTestServer(t, fakeDB{})

	ts.do(http.MethodGet, "/api/news?refresh=true", "", true)
	if !ts.feed.lastRequest.ForceRefresh || ts.feed.lastRequest.UserID != "user-1" {
		t.Errorf("Unexpected request %+v", ts.feed.lastRequest)
	}

	ts.do(http.MethodGet, "/api/news", "", true)
	if ts.feed.lastRequest.ForceRefresh {
		t.Error("Expected refresh to default to false")
	}
}

func TestPostNews(t *testing.T) {
	ts := newTestServer(t, fakeDB{})

	w := ts.do(http.MethodPost, "/api/news", `{"forceRefresh":true,"consistencyToken":" tok ","preferences":{"raw_input":"AI","topics":["AI"]}}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	req := ts.feed.lastRequest
	if !req.ForceRefresh || req.Token != "tok" || req.Override == nil || req.Override.RawInput != "AI" {
		t.Errorf("Unexpected request %+v", req)
	}

	ts.do(http.MethodPost, "/api/news", `{"preferences":{}}`, true)
	if ts.feed.lastRequest.Override != nil {
		t.Error("Expected empty preferences to be ignored")
	}

	if w := ts.do(http.MethodPost, "/api/news", "", true); w.Code != http.StatusOK {
		t.Errorf("Expected empty body to be accepted, got %d", w.Code)
	}
	if w := ts.do(http.MethodPost, "/api/news", "[", true); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}
}

func TestHeadlines(t *testing.T) {
	ts := newTestServer(t, fakeDB{})
	ts.feed.HeadlinesFunc = func(ctx context.Context, category, country string) ([]core.Article, error) {
		if category != "science" || country != "gb" {
			t.Errorf("Unexpected params %q %q", category, country)
		}
		return []core.Article{{Title: "h", URL: "u"}}, nil
	}

	w := ts.do(http.MethodGet, "/api/news/headlines?category=science&country=gb", "", true)
	var body HeadlinesResponse
	decode(t, w, &body)
	if w.Code != http.StatusOK || body.Count != 1 {
		t.Errorf("Unexpected response %d %+v", w.Code, body)
	}

	ts.feed.HeadlinesFunc = func(ctx context.Context, category, country string) ([]core.Article, error) {
		return nil, search.ErrHeadlinesUnsupported
	}
	if w := ts.do(http.MethodGet, "/api/news/headlines", "", true); w.Code != http.StatusNotImplemented {
		t.Errorf("Expected 501, got %d", w.Code)
	}
}
