package feed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"newsfeed/internal/core"
	"newsfeed/internal/enrich"
	"newsfeed/internal/feedcache"
	"newsfeed/internal/persistence"
	"newsfeed/internal/preferences"
	"newsfeed/internal/ratelimit"
	"newsfeed/internal/search"
	"newsfeed/internal/store"
)

var testNow = time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubPrefs struct {
	mu     sync.Mutex
	record *core.PreferenceRecord
	err    error
	reads  int
}

func (s *stubPrefs) Read(ctx context.Context, userID string) (*core.PreferenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.record, s.err
}

func (s *stubPrefs) set(record *core.PreferenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record
}

type fakeAI struct {
	SummarizeFunc func(ctx context.Context, articles []core.Article) ([]string, error)
	ScoreFunc     func(ctx context.Context, articles []core.Article, pref string) ([]float64, error)

	summarizeCalls atomic.Int32
	scoreCalls     atomic.Int32
}

func (f *fakeAI) Summarize(ctx context.Context, articles []core.Article) ([]string, error) {
	f.summarizeCalls.Add(1)
	if f.SummarizeFunc != nil {
		return f.SummarizeFunc(ctx, articles)
	}
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = "summary of " + a.Title
	}
	return out, nil
}

func (f *fakeAI) Score(ctx context.Context, articles []core.Article, pref string) ([]float64, error) {
	f.scoreCalls.Add(1)
	if f.ScoreFunc != nil {
		return f.ScoreFunc(ctx, articles, pref)
	}
	out := make([]float64, len(articles))
	for i := range articles {
		out[i] = float64((i * 7) % 11)
	}
	return out, nil
}

type harness struct {
	orch     *Orchestrator
	provider *search.MockProvider
	ai       *fakeAI
	limiter  *ratelimit.Limiter
	store    *store.Store
	prefs    *stubPrefs
	bridge   *preferences.Bridge
	clock    *clock
}

func newHarness(t *testing.T, dailyLimit int, opts ...Option) *harness {
	t.Helper()
	s, err := store.NewStore(context.Background(), filepath.Join(t.TempDir(), "feed.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		provider: search.NewMockProvider(),
		ai:       &fakeAI{},
		store:    s,
		prefs:    &stubPrefs{},
		clock:    &clock{t: testNow},
	}
	record := testRecord()
	h.prefs.record = &record
	h.limiter = ratelimit.New(dailyLimit, ratelimit.WithClock(h.clock.now))
	h.bridge = preferences.NewBridge("consistency-secret", time.Minute, preferences.WithBridgeClock(h.clock.now))

	h.orch = NewOrchestrator(Deps{
		Preferences: h.prefs,
		Tokens:      h.bridge,
		Cache:       feedcache.New(s.FeedCache(), time.Hour, feedcache.WithClock(h.clock.now)),
		Provider:    h.provider,
		Enricher:    enrich.NewEngine(h.ai, h.limiter),
		Limiter:     h.limiter,
	}, append([]Option{WithClock(h.clock.now)}, opts...)...)
	return h
}

func testRecord() core.PreferenceRecord {
	return core.PreferenceRecord{
		RawInput:   "AI and space exploration",
		Topics:     []string{"AI", "space"},
		Categories: []string{"technology"},
		Timeframe:  "7 days",
		ParsedAt:   testNow.Add(-time.Hour),
	}
}

func makeArticles(n int) []core.Article {
	articles := make([]core.Article, n)
	for i := range articles {
		articles[i] = core.Article{
			Title:       fmt.Sprintf("Article %d", i),
			URL:         fmt.Sprintf("https://news.example/%d", i),
			Source:      core.Source{Name: "Example"},
			PublishedAt: testNow.Add(-time.Duration(i) * time.Hour),
		}
	}
	return articles
}

func titles(articles []core.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.Title
	}
	return out
}

func assertSortedByScore(t *testing.T, articles []core.Article) {
	t.Helper()
	for i := 1; i < len(articles); i++ {
		if articles[i-1].Score() < articles[i].Score() {
			t.Fatalf("Articles not sorted by score at %d: %v then %v", i, articles[i-1].Score(), articles[i].Score())
		}
	}
}

func TestGetFeedEndToEnd(t *testing.T) {
	h := newHarness(t, 100)

	raw := makeArticles(25)
	raw[2].Title = "[Removed]"
	raw[10].URL = ""
	raw[17].Title = ""
	h.provider.SetArticles(raw)

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusFresh {
		t.Fatalf("Expected fresh feed, got %s", resp.Status)
	}
	if resp.Count() != 20 {
		t.Fatalf("Expected 20 articles, got %d", resp.Count())
	}
	for _, a := range resp.Articles {
		if !a.Enriched() {
			t.Errorf("Expected %q to be enriched", a.Title)
		}
		if a.Title == "" || a.URL == "" || a.Title == "[Removed]" {
			t.Errorf("Invalid article leaked into feed: %+v", a)
		}
	}
	assertSortedByScore(t, resp.Articles)

	q := h.provider.LastQuery()
	if q.Text != "AI OR space OR technology" {
		t.Errorf("Unexpected query text %q", q.Text)
	}
	if want := time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC); !q.From.Equal(want) {
		t.Errorf("Expected from %s, got %s", want, q.From)
	}
	if q.PageSize != DefaultPageSize || q.Language != "en" {
		t.Errorf("Unexpected page size or language: %+v", q)
	}

	if h.ai.summarizeCalls.Load() != 1 || h.ai.scoreCalls.Load() != 1 {
		t.Errorf("Expected one call per stage, got %d/%d", h.ai.summarizeCalls.Load(), h.ai.scoreCalls.Load())
	}
	if got := h.limiter.Snapshot().Count; got != 2 {
		t.Errorf("Expected 2 recorded attempts, got %d", got)
	}
}

func TestGetFeedServesCacheUntilExpiry(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	first, err := h.orch.GetFeed(ctx, Request{UserID: "u1"})
	if err != nil || first.Status != StatusFresh {
		t.Fatalf("Expected fresh feed, got %s (%v)", first.Status, err)
	}

	for i := 0; i < 2; i++ {
		h.clock.advance(20 * time.Minute)
		cached, err := h.orch.GetFeed(ctx, Request{UserID: "u1"})
		if err != nil {
			t.Fatalf("GetFeed failed: %v", err)
		}
		if cached.Status != StatusCached {
			t.Fatalf("Expected cached feed on read %d, got %s", i, cached.Status)
		}
		if strings.Join(titles(cached.Articles), ",") != strings.Join(titles(first.Articles), ",") {
			t.Errorf("Cached articles differ: %v vs %v", titles(cached.Articles), titles(first.Articles))
		}
		for j := range cached.Articles {
			if cached.Articles[j].Score() != first.Articles[j].Score() || cached.Articles[j].Summary != first.Articles[j].Summary {
				t.Errorf("Cached article %d differs from computed one", j)
			}
		}
	}
	if h.provider.Calls() != 1 || h.ai.summarizeCalls.Load() != 1 {
		t.Errorf("Expected no recomputation inside the TTL, got %d fetches", h.provider.Calls())
	}

	// computed at t0, now t0+1h: exactly TTL old is stale
	h.clock.advance(20 * time.Minute)
	again, err := h.orch.GetFeed(ctx, Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if again.Status != StatusFresh {
		t.Errorf("Expected recomputation after expiry, got %s", again.Status)
	}
	if h.provider.Calls() != 2 || h.ai.summarizeCalls.Load() != 2 || h.ai.scoreCalls.Load() != 2 {
		t.Errorf("Expected exactly one more fetch and enrichment, got %d fetches", h.provider.Calls())
	}
}

func TestGetFeedForceRefreshBypassesCache(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	if _, err := h.orch.GetFeed(ctx, Request{UserID: "u1"}); err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	resp, err := h.orch.GetFeed(ctx, Request{UserID: "u1", ForceRefresh: true})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusFresh || h.provider.Calls() != 2 {
		t.Errorf("Expected forced recomputation, got %s after %d fetches", resp.Status, h.provider.Calls())
	}
}

func TestGetFeedRateLimitedBeforeStart(t *testing.T) {
	h := newHarness(t, 2)
	h.limiter.RecordAttempt()
	h.limiter.RecordAttempt()

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusRateLimited || resp.Message != MessageRateLimited {
		t.Errorf("Expected rate limited response, got %+v", resp)
	}
	if resp.Articles == nil || resp.Count() != 0 {
		t.Errorf("Expected empty article list, got %v", resp.Articles)
	}
	if h.provider.Calls() != 0 || h.prefs.reads != 0 {
		t.Error("Expected no work once the quota is spent")
	}
}

func TestGetFeedRateLimitTripsDuringEnrichment(t *testing.T) {
	h := newHarness(t, 1)

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusRateLimited {
		t.Fatalf("Expected rate limited response, got %s", resp.Status)
	}
	if h.ai.summarizeCalls.Load() != 1 || h.ai.scoreCalls.Load() != 0 {
		t.Errorf("Expected summarize only, got %d/%d", h.ai.summarizeCalls.Load(), h.ai.scoreCalls.Load())
	}
	if _, err := h.store.FeedCache().Get(context.Background(), "u1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected no cache write, got %v", err)
	}
}

func TestGetFeedFiltersBeforeEnrichment(t *testing.T) {
	h := newHarness(t, 100)
	h.provider.SetArticles([]core.Article{
		{Title: "Keep 1", URL: "https://a.example/1"},
		{Title: "[Removed]", URL: "https://a.example/removed"},
		{Title: "", URL: "https://a.example/untitled"},
		{Title: "No link"},
		{Title: "Keep 2", URL: "https://a.example/2"},
	})

	var seen []string
	h.ai.SummarizeFunc = func(ctx context.Context, articles []core.Article) ([]string, error) {
		seen = titles(articles)
		return make([]string, len(articles)), nil
	}

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if strings.Join(seen, ",") != "Keep 1,Keep 2" {
		t.Errorf("Expected only valid articles enriched, got %v", seen)
	}
	if resp.Count() != 2 {
		t.Errorf("Expected 2 articles, got %d", resp.Count())
	}
}

func TestGetFeedStableSort(t *testing.T) {
	h := newHarness(t, 100)
	h.provider.SetArticles(makeArticles(5))
	h.ai.ScoreFunc = func(ctx context.Context, articles []core.Article, pref string) ([]float64, error) {
		return []float64{5, 9, 5, 9, 1}, nil
	}

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	want := "Article 1,Article 3,Article 0,Article 2,Article 4"
	if got := strings.Join(titles(resp.Articles), ","); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestGetFeedNoPreferences(t *testing.T) {
	h := newHarness(t, 100)
	h.prefs.set(nil)

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusNoPreferences || resp.Message != MessageNoPreferences || resp.Articles == nil {
		t.Errorf("Unexpected response %+v", resp)
	}
	if h.provider.Calls() != 0 {
		t.Error("Expected no fetch without preferences")
	}
}

func TestGetFeedNoArticles(t *testing.T) {
	tests := []struct {
		name     string
		articles []core.Article
	}{
		{name: "provider returned nothing", articles: []core.Article{}},
		{name: "nothing valid", articles: []core.Article{{Title: "[Removed]", URL: "https://x.example"}, {Title: "t"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 100)
			h.provider.SetArticles(tt.articles)

			resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
			if err != nil {
				t.Fatalf("GetFeed failed: %v", err)
			}
			if resp.Status != StatusNoArticles || resp.Message != MessageNoArticles {
				t.Errorf("Unexpected response %+v", resp)
			}
			if h.ai.summarizeCalls.Load() != 0 {
				t.Error("Expected no enrichment without articles")
			}
		})
	}
}

func TestGetFeedProviderErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name: "provider",
			err:  &search.ProviderError{Provider: "NewsAPI", Status: 500, Code: "unexpectedError"},
			check: func(err error) bool {
				var pe *search.ProviderError
				return errors.As(err, &pe) && pe.Status == 500
			},
		},
		{
			name: "connectivity",
			err:  &search.ConnectivityError{Provider: "NewsAPI", Err: errors.New("dial tcp: refused")},
			check: func(err error) bool {
				var ce *search.ConnectivityError
				return errors.As(err, &ce)
			},
		},
		{
			name: "provider rate limit",
			err:  &search.RateLimitedError{Provider: "NewsAPI"},
			check: func(err error) bool {
				var re *search.RateLimitedError
				return errors.As(err, &re)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 100)
			h.provider.SetError(tt.err)

			_, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
			if err == nil || !tt.check(err) {
				t.Errorf("Expected classified error, got %v", err)
			}
			if !search.IsRetryable(err) {
				t.Errorf("Expected %v to be retryable", err)
			}
		})
	}
}

func TestGetFeedEnrichmentFailure(t *testing.T) {
	h := newHarness(t, 100)
	h.ai.ScoreFunc = func(ctx context.Context, articles []core.Article, pref string) ([]float64, error) {
		return nil, errors.New("model overloaded")
	}

	_, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	var stageErr *enrich.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != enrich.StageScore {
		t.Fatalf("Expected score stage error, got %v", err)
	}
	if _, err := h.store.FeedCache().Get(context.Background(), "u1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected no cache write, got %v", err)
	}
}

func TestGetFeedPreferenceVersionMismatch(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	if _, err := h.orch.GetFeed(ctx, Request{UserID: "u1"}); err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}

	updated := testRecord()
	updated.Topics = []string{"biotech"}
	updated.ParsedAt = testNow
	h.prefs.set(&updated)

	resp, err := h.orch.GetFeed(ctx, Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusFresh || h.provider.Calls() != 2 {
		t.Errorf("Expected recomputation for changed preferences, got %s", resp.Status)
	}
	if !strings.HasPrefix(h.provider.LastQuery().Text, "biotech") {
		t.Errorf("Expected query from updated record, got %q", h.provider.LastQuery().Text)
	}
}

func TestGetFeedConsistencyToken(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	written := testRecord()
	written.Topics = []string{"quantum"}
	raw, err := h.bridge.Encode(h.bridge.Issue("u1", written))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// the store has not caught up with the write yet
	h.prefs.set(nil)

	resp, err := h.orch.GetFeed(ctx, Request{UserID: "u1", Token: raw})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusFresh {
		t.Fatalf("Expected feed from token record, got %s", resp.Status)
	}
	if h.prefs.reads != 0 {
		t.Error("Expected a fresh token to skip the store read")
	}
	if !strings.HasPrefix(h.provider.LastQuery().Text, "quantum") {
		t.Errorf("Expected query from token record, got %q", h.provider.LastQuery().Text)
	}

	h.clock.advance(61 * time.Second)
	resp, err = h.orch.GetFeed(ctx, Request{UserID: "u1", Token: raw})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusNoPreferences || h.prefs.reads != 1 {
		t.Errorf("Expected expired token to fall back to the store, got %s after %d reads", resp.Status, h.prefs.reads)
	}
}

func TestGetFeedIgnoresForeignToken(t *testing.T) {
	h := newHarness(t, 100)

	raw, err := h.bridge.Encode(h.bridge.Issue("someone-else", testRecord()))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1", Token: raw})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusFresh || h.prefs.reads != 1 {
		t.Errorf("Expected store read for a token issued to another user, got %s", resp.Status)
	}
}

func TestGetFeedOverride(t *testing.T) {
	h := newHarness(t, 100)
	h.prefs.set(nil)

	override := testRecord()
	override.Topics = []string{"climate"}
	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1", Override: &override})
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if resp.Status != StatusFresh || h.prefs.reads != 0 {
		t.Errorf("Expected override to be used without a store read, got %s", resp.Status)
	}
}

func TestGetFeedPreferenceReadError(t *testing.T) {
	h := newHarness(t, 100)
	h.prefs.err = errors.New("connection reset")

	if _, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"}); err == nil {
		t.Error("Expected store failure to surface")
	}
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, userID, version string) (*core.FeedCacheEntry, bool, error) {
	return nil, false, errors.New("cache unavailable")
}

func (failingCache) Set(ctx context.Context, userID string, articles []core.Article, version string) (core.FeedCacheEntry, error) {
	return core.FeedCacheEntry{}, errors.New("cache unavailable")
}

func TestGetFeedCacheFailuresDoNotFailRequest(t *testing.T) {
	h := newHarness(t, 100)
	h.orch.cache = failingCache{}

	resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("Expected response despite cache failures, got %v", err)
	}
	if resp.Status != StatusFresh || resp.Count() != 3 {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestGetFeedRequestTimeout(t *testing.T) {
	h := newHarness(t, 100, WithRequestTimeout(50*time.Millisecond))
	h.ai.SummarizeFunc = func(ctx context.Context, articles []core.Article) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestGetFeedCoalescesConcurrentRefreshes(t *testing.T) {
	h := newHarness(t, 100)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.ai.SummarizeFunc = func(ctx context.Context, articles []core.Article) ([]string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return make([]string, len(articles)), nil
	}

	const callers = 3
	results := make(chan Response, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			resp, err := h.orch.GetFeed(context.Background(), Request{UserID: "u1", ForceRefresh: true})
			results <- resp
			errs <- err
		}()
	}

	<-started
	key := "u1|" + testRecord().Version()
	deadline := time.Now().Add(2 * time.Second)
	for h.orch.flights.waiters(key) < callers {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d waiters, got %d", callers, h.orch.flights.waiters(key))
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("GetFeed failed: %v", err)
		}
		if resp := <-results; resp.Status != StatusFresh || resp.Count() != 3 {
			t.Errorf("Unexpected shared response %+v", resp)
		}
	}
	if h.ai.summarizeCalls.Load() != 1 || h.provider.Calls() != 1 {
		t.Errorf("Expected one shared computation, got %d enrichments and %d fetches", h.ai.summarizeCalls.Load(), h.provider.Calls())
	}
}

type fetchOnly struct{ search.Provider }

func TestHeadlines(t *testing.T) {
	h := newHarness(t, 100)
	articles := makeArticles(3)
	articles[1].Title = "[Removed]"
	h.provider.SetArticles(articles)

	got, err := h.orch.Headlines(context.Background(), "science", "gb")
	if err != nil {
		t.Fatalf("Headlines failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 headlines, got %d", len(got))
	}

	h.orch.provider = fetchOnly{h.provider}
	if _, err := h.orch.Headlines(context.Background(), "", ""); !errors.Is(err, search.ErrHeadlinesUnsupported) {
		t.Errorf("Expected ErrHeadlinesUnsupported, got %v", err)
	}
}
