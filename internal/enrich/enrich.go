// Package enrich adds AI summaries and relevance scores to a batch of
// articles in two all-or-nothing stages.
package enrich

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"newsfeed/internal/core"
	"newsfeed/internal/logger"
	"newsfeed/internal/telemetry"
)

const (
	// MaxArticles is the hard cap on articles per enrichment run
	MaxArticles = 20
	// DefaultStageTimeout bounds each AI call
	DefaultStageTimeout = 30 * time.Second

	MinScore = 0.0
	MaxScore = 10.0

	tracerName = "newsfeed/internal/enrich"
)

// AI is the batch summarization and scoring collaborator
type AI interface {
	Summarize(ctx context.Context, articles []core.Article) ([]string, error)
	Score(ctx context.Context, articles []core.Article, preferenceText string) ([]float64, error)
}

// Limiter is the quota the engine consults and charges
type Limiter interface {
	RecordAttempt()
	IsLimited() bool
}

// Enrichment is the AI output for one article
type Enrichment struct {
	Summary        string
	RelevanceScore float64
}

// Engine runs the summarize and score stages
type Engine struct {
	ai           AI
	limiter      Limiter
	maxArticles  int
	stageTimeout time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithMaxArticles caps the batch size; values outside 1..MaxArticles are ignored
func WithMaxArticles(n int) Option {
	return func(e *Engine) {
		if n > 0 && n <= MaxArticles {
			e.maxArticles = n
		}
	}
}

// WithStageTimeout sets the per-call timeout
func WithStageTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

// NewEngine creates an enrichment engine
func NewEngine(ai AI, limiter Limiter, opts ...Option) *Engine {
	e := &Engine{
		ai:           ai,
		limiter:      limiter,
		maxArticles:  MaxArticles,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxBatch returns the number of articles Enrich will consider
func (e *Engine) MaxBatch() int {
	return e.maxArticles
}

// Enrich summarizes then scores the first MaxBatch articles. The result has
// one entry per considered article, in input order. On any error no
// enrichment is returned.
func (e *Engine) Enrich(ctx context.Context, articles []core.Article, preferenceText string) ([]Enrichment, error) {
	if len(articles) > e.maxArticles {
		articles = articles[:e.maxArticles]
	}
	if len(articles) == 0 {
		return []Enrichment{}, nil
	}

	if e.limiter.IsLimited() {
		logger.Warn("Enrichment skipped, rate limit reached", "stage", StageSummarize)
		return nil, ErrRateLimited
	}

	summaries, err := e.summarize(ctx, articles)
	if err != nil {
		return nil, err
	}

	if e.limiter.IsLimited() {
		logger.Warn("Enrichment aborted after summaries, rate limit reached", "stage", StageScore)
		return nil, ErrRateLimited
	}

	scores, err := e.score(ctx, articles, preferenceText)
	if err != nil {
		return nil, err
	}

	out := make([]Enrichment, len(articles))
	for i := range articles {
		out[i] = Enrichment{
			Summary:        summaries[i],
			RelevanceScore: clampScore(scores[i]),
		}
	}
	return out, nil
}

func (e *Engine) summarize(ctx context.Context, articles []core.Article) (summaries []string, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "enrich.Summarize", attribute.Int("articles", len(articles)))
	defer func() { telemetry.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()

	e.limiter.RecordAttempt()
	summaries, err = e.ai.Summarize(ctx, articles)
	if err != nil {
		return nil, &StageError{Stage: StageSummarize, Err: err}
	}
	if len(summaries) != len(articles) {
		return nil, &MalformedResponseError{Stage: StageSummarize, Want: len(articles), Got: len(summaries)}
	}
	return summaries, nil
}

func (e *Engine) score(ctx context.Context, articles []core.Article, preferenceText string) (scores []float64, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "enrich.Score", attribute.Int("articles", len(articles)))
	defer func() { telemetry.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()

	e.limiter.RecordAttempt()
	scores, err = e.ai.Score(ctx, articles, preferenceText)
	if err != nil {
		return nil, &StageError{Stage: StageScore, Err: err}
	}
	if len(scores) != len(articles) {
		return nil, &MalformedResponseError{Stage: StageScore, Want: len(articles), Got: len(scores)}
	}
	return scores, nil
}

// Apply returns copies of the first len(enrichments) articles carrying their
// summary and score.
func Apply(articles []core.Article, enrichments []Enrichment) []core.Article {
	n := len(enrichments)
	if n > len(articles) {
		n = len(articles)
	}
	out := make([]core.Article, n)
	for i := 0; i < n; i++ {
		a := articles[i]
		a.Summary = enrichments[i].Summary
		score := enrichments[i].RelevanceScore
		a.RelevanceScore = &score
		out[i] = a
	}
	return out
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}
