// Package feed computes a user's personalized feed: resolve preferences,
// serve from cache when possible, otherwise fetch, filter, enrich, rank and
// cache a fresh one.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"newsfeed/internal/core"
	"newsfeed/internal/enrich"
	"newsfeed/internal/logger"
	"newsfeed/internal/preferences"
	"newsfeed/internal/query"
	"newsfeed/internal/search"
	"newsfeed/internal/telemetry"
)

const (
	// DefaultRequestTimeout bounds one whole feed computation
	DefaultRequestTimeout = 90 * time.Second
	// DefaultPageSize is how many candidates are requested from the provider
	DefaultPageSize = 100

	MessageRateLimited   = "Daily AI summary limit reached. Please try again tomorrow."
	MessageNoPreferences = "no preferences set"
	MessageNoArticles    = "no articles found"

	tracerName = "newsfeed/internal/feed"
)

// Status is the outcome of a feed request
type Status string

const (
	StatusRateLimited   Status = "rate_limited"
	StatusNoPreferences Status = "no_preferences"
	StatusNoArticles    Status = "no_articles"
	StatusCached        Status = "cached"
	StatusFresh         Status = "fresh"
)

// Request asks for userID's feed. Override, when set, is used instead of any
// stored record; Token is an encoded consistency token from a recent write.
type Request struct {
	UserID       string
	ForceRefresh bool
	Token        string
	Override     *core.PreferenceRecord
}

// Response is a feed outcome. Articles is never nil.
type Response struct {
	Status     Status
	Articles   []core.Article
	Message    string
	ComputedAt time.Time
}

// Count returns the number of articles
func (r Response) Count() int {
	return len(r.Articles)
}

// PreferenceReader reads a user's stored record; nil means none
type PreferenceReader interface {
	Read(ctx context.Context, userID string) (*core.PreferenceRecord, error)
}

// TokenDecoder verifies an encoded consistency token
type TokenDecoder interface {
	Decode(raw, userID string) (core.ConsistencyToken, error)
}

// Cache is the per-user computed feed store
type Cache interface {
	Get(ctx context.Context, userID, preferenceVersion string) (*core.FeedCacheEntry, bool, error)
	Set(ctx context.Context, userID string, articles []core.Article, preferenceVersion string) (core.FeedCacheEntry, error)
}

// Enricher summarizes and scores a batch of articles
type Enricher interface {
	Enrich(ctx context.Context, articles []core.Article, preferenceText string) ([]enrich.Enrichment, error)
	MaxBatch() int
}

// QuotaChecker reports whether the AI quota is spent
type QuotaChecker interface {
	IsLimited() bool
}

// Deps are the orchestrator's collaborators. Tokens may be nil.
type Deps struct {
	Preferences PreferenceReader
	Tokens      TokenDecoder
	Cache       Cache
	Provider    search.Provider
	Enricher    Enricher
	Limiter     QuotaChecker
}

// Orchestrator runs the feed state machine
type Orchestrator struct {
	prefs          PreferenceReader
	tokens         TokenDecoder
	cache          Cache
	provider       search.Provider
	enricher       Enricher
	limiter        QuotaChecker
	pageSize       int
	language       string
	requestTimeout time.Duration
	now            func() time.Time
	flights        flightGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPageSize sets how many candidates are requested
func WithPageSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithLanguage sets the provider language filter
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) {
		o.language = lang
	}
}

// WithRequestTimeout sets the overall deadline of one request
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates a feed orchestrator
func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prefs:          deps.Preferences,
		tokens:         deps.Tokens,
		cache:          deps.Cache,
		provider:       deps.Provider,
		enricher:       deps.Enricher,
		limiter:        deps.Limiter,
		pageSize:       DefaultPageSize,
		language:       "en",
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.flights.timeout = o.requestTimeout
	return o
}

// GetFeed returns the user's feed. Provider failures come back as
// *search.ProviderError, *search.ConnectivityError or
// *search.RateLimitedError; quota exhaustion is a StatusRateLimited
// response, not an error.
func (o *Orchestrator) GetFeed(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "feed.GetFeed",
		attribute.String("user.id", req.UserID),
		attribute.Bool("feed.force_refresh", req.ForceRefresh),
	)
	defer func() {
		span.SetAttributes(attribute.String("feed.status", string(resp.Status)), attribute.Int("feed.count", resp.Count()))
		telemetry.EndSpan(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	if o.limiter.IsLimited() {
		logger.Warn("Feed request rejected, AI quota reached", "user_id", req.UserID)
		return rateLimited(), nil
	}

	pref, source, err := o.resolve(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if pref == nil || pref.IsZero() {
		return Response{Status: StatusNoPreferences, Articles: []core.Article{}, Message: MessageNoPreferences}, nil
	}
	version := pref.Version()

	if !req.ForceRefresh {
		entry, hit, err := o.cache.Get(ctx, req.UserID, version)
		if err != nil {
			logger.Warn("Feed cache read failed, recomputing", "user_id", req.UserID, "error", err)
		}
		if hit {
			logger.Debug("Serving cached feed", "user_id", req.UserID, "computed_at", entry.ComputedAt)
			return Response{Status: StatusCached, Articles: nonNil(entry.Articles), ComputedAt: entry.ComputedAt}, nil
		}
	}

	logger.Info("Computing feed", "user_id", req.UserID, "preferences_from", source, "force_refresh", req.ForceRefresh)
	resp, shared, err := o.flights.do(ctx, req.UserID+"|"+version, func(ctx context.Context) (Response, error) {
		return o.compute(ctx, req.UserID, *pref)
	})
	if shared {
		logger.Debug("Joined in-flight feed computation", "user_id", req.UserID)
	}
	return resp, err
}

// Headlines returns the provider's top headlines, filtered
func (o *Orchestrator) Headlines(ctx context.Context, category, country string) ([]core.Article, error) {
	hp, ok := o.provider.(search.HeadlineProvider)
	if !ok {
		return nil, search.ErrHeadlinesUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	articles, err := hp.Headlines(ctx, category, country)
	if err != nil {
		return nil, err
	}
	return nonNil(search.FilterValid(articles)), nil
}

// resolve picks the record for this request: the override, then a fresh
// consistency token, then the store.
func (o *Orchestrator) resolve(ctx context.Context, req Request) (*core.PreferenceRecord, string, error) {
	if req.Override != nil {
		return req.Override, "override", nil
	}

	if req.Token != "" && o.tokens != nil {
		token, err := o.tokens.Decode(req.Token, req.UserID)
		switch {
		case err == nil:
			record := token.Record
			return &record, "token", nil
		case errors.Is(err, preferences.ErrTokenExpired):
			logger.Debug("Consistency token expired, reading stored preferences", "user_id", req.UserID)
		default:
			logger.Warn("Ignoring unusable consistency token", "user_id", req.UserID, "error", err)
		}
	}

	record, err := o.prefs.Read(ctx, req.UserID)
	if err != nil {
		return nil, "", err
	}
	return record, "store", nil
}

// compute runs fetch, filter, enrich, rank and cache for one record
func (o *Orchestrator) compute(ctx context.Context, userID string, pref core.PreferenceRecord) (Response, error) {
	text, from := query.Build(pref, o.now())

	fetchCtx, span := telemetry.StartSpan(ctx, tracerName, "search.Fetch",
		attribute.String("search.provider", o.provider.GetName()),
		attribute.String("search.from", from.Format(query.DateLayout)),
	)
	raw, err := o.provider.Fetch(fetchCtx, search.Query{
		Text:     text,
		From:     from,
		PageSize: o.pageSize,
		Language: o.language,
		SortBy:   "relevancy",
	})
	span.SetAttributes(attribute.Int("search.results", len(raw)))
	telemetry.EndSpan(span, err)
	if err != nil {
		return Response{}, fmt.Errorf("failed to fetch articles: %w", err)
	}

	candidates := search.FilterValid(raw)
	if len(candidates) == 0 {
		logger.Info("No usable articles for preferences", "user_id", userID, "raw", len(raw))
		return Response{Status: StatusNoArticles, Articles: []core.Article{}, Message: MessageNoArticles}, nil
	}
	if limit := o.enricher.MaxBatch(); len(candidates) > limit {
		candidates = candidates[:limit]
	}

	enrichments, err := o.enricher.Enrich(ctx, candidates, pref.Text())
	if errors.Is(err, enrich.ErrRateLimited) {
		return rateLimited(), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("failed to enrich articles: %w", err)
	}

	articles := enrich.Apply(candidates, enrichments)
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Score() > articles[j].Score()
	})

	resp := Response{Status: StatusFresh, Articles: articles, ComputedAt: o.now().UTC()}
	entry, err := o.cache.Set(ctx, userID, articles, pref.Version())
	if err != nil {
		logger.Error("Failed to cache computed feed", err, "user_id", userID)
	} else {
		resp.ComputedAt = entry.ComputedAt
	}

	logger.Info("Feed computed", "user_id", userID, "count", len(articles))
	return resp, nil
}

func rateLimited() Response {
	return Response{Status: StatusRateLimited, Articles: []core.Article{}, Message: MessageRateLimited}
}

func nonNil(articles []core.Article) []core.Article {
	if articles == nil {
		return []core.Article{}
	}
	return articles
}
