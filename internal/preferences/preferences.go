// Package preferences owns the user's preference record: parsing on write,
// durable storage, and the consistency token handed back to the writer.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsfeed/internal/core"
	"newsfeed/internal/llm"
	"newsfeed/internal/logger"
	"newsfeed/internal/persistence"
)

// ErrEmptyPreferences is returned when the statement is blank
var ErrEmptyPreferences = errors.New("preferenceText is required")

// Parser turns a statement into structured preferences
type Parser interface {
	ParsePreferences(ctx context.Context, text string) (llm.ParsedPreferences, error)
}

// Invalidator drops a user's computed feed
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Service reads and writes preference records
type Service struct {
	repo   persistence.PreferenceRepository
	parser Parser
	cache  Invalidator
	bridge *Bridge
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a preference service. parser and cache may be nil.
func NewService(repo persistence.PreferenceRepository, parser Parser, cache Invalidator, bridge *Bridge, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		parser: parser,
		cache:  cache,
		bridge: bridge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bridge returns the token bridge used by the service
func (s *Service) Bridge() *Bridge {
	return s.bridge
}

// Write parses and stores a new record for userID, invalidates the user's
// cached feed, and returns the record with a token carrying it.
func (s *Service) Write(ctx context.Context, userID, rawText string) (core.PreferenceRecord, core.ConsistencyToken, error) {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return core.PreferenceRecord{}, core.ConsistencyToken{}, ErrEmptyPreferences
	}

	record := s.parse(ctx, userID, rawText)

	if err := s.repo.Upsert(ctx, userID, record); err != nil {
		return core.PreferenceRecord{}, core.ConsistencyToken{}, fmt.Errorf("failed to save preferences: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			logger.Warn("Failed to invalidate feed cache after preference write", "user_id", userID, "error", err)
		}
	}

	token := s.bridge.Issue(userID, record)
	logger.Info("Preferences saved", "user_id", userID, "topics", len(record.Topics), "categories", len(record.Categories), "timeframe", record.Timeframe)
	return record, token, nil
}

// parse builds the record, keeping only the raw statement when the parser
// is missing or fails.
func (s *Service) parse(ctx context.Context, userID, rawText string) core.PreferenceRecord {
	record := core.PreferenceRecord{
		RawInput:   rawText,
		Topics:     []string{},
		Categories: []string{},
		Timeframe:  core.DefaultTimeframe,
		ParsedAt:   s.now().UTC(),
	}
	if s.parser == nil {
		return record
	}

	parsed, err := s.parser.ParsePreferences(ctx, rawText)
	if err != nil {
		logger.Warn("Preference parsing failed, storing raw statement only", "user_id", userID, "error", err)
		return record
	}

	if parsed.Topics != nil {
		record.Topics = parsed.Topics
	}
	if parsed.Categories != nil {
		record.Categories = parsed.Categories
	}
	if tf := strings.TrimSpace(parsed.Timeframe); tf != "" {
		record.Timeframe = tf
	}
	return record
}

// Read returns the stored record, or nil when the user has none. A record
// written moments ago may not be visible yet.
func (s *Service) Read(ctx context.Context, userID string) (*core.PreferenceRecord, error) {
	record, err := s.repo.Get(ctx, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	return record, nil
}
