package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTimeframe is used when a preference statement names no lookback window.
const DefaultTimeframe = "7 days"

// PreferenceRecord is the structured result of parsing a user's free-text
// interest statement. Records are immutable: an update replaces the whole record.
type PreferenceRecord struct {
	RawInput   string    `json:"raw_input"`  // Text exactly as the user typed it
	Topics     []string  `json:"topics"`     // Specific subjects (e.g., "fusion energy")
	Categories []string  `json:"categories"` // Broad sections (e.g., "science")
	Timeframe  string    `json:"timeframe"`  // Lookback window such as "7 days" or "2 weeks"
	ParsedAt   time.Time `json:"parsed_at"`  // When the statement was parsed
}

// Version identifies the record's content. Two records with the same version
// produce the same feed, so it keys the feed cache.
func (p PreferenceRecord) Version() string {
	h := sha256.New()
	h.Write([]byte(p.RawInput))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(p.Topics, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(p.Categories, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(p.Timeframe))
	h.Write([]byte{0})
	h.Write([]byte(p.ParsedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// Text returns the statement used to judge article relevance.
func (p PreferenceRecord) Text() string {
	if strings.TrimSpace(p.RawInput) != "" {
		return p.RawInput
	}
	terms := append(append([]string{}, p.Topics...), p.Categories...)
	return strings.Join(terms, ", ")
}

// IsZero reports whether the record carries no preference at all.
func (p PreferenceRecord) IsZero() bool {
	return strings.TrimSpace(p.RawInput) == "" && len(p.Topics) == 0 && len(p.Categories) == 0
}

// Source names the publication an article came from.
type Source struct {
	Name string `json:"name"`
}

// Article is a candidate or enriched feed item. URL is its identity within a feed.
// The JSON form is the wire shape served to clients.
type Article struct {
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	ImageURL       string    `json:"urlToImage,omitempty"`
	Source         Source    `json:"source"`
	Description    string    `json:"description,omitempty"`
	Author         string    `json:"author,omitempty"`
	PublishedAt    time.Time `json:"publishedAt,omitzero"`
	Summary        string    `json:"summary,omitempty"`
	RelevanceScore *float64  `json:"relevanceScore,omitempty"`
}

// Enriched reports whether the article carries both a summary and a score.
func (a Article) Enriched() bool {
	return a.Summary != "" && a.RelevanceScore != nil
}

// Score returns the relevance score, or 0 when unscored.
func (a Article) Score() float64 {
	if a.RelevanceScore == nil {
		return 0
	}
	return *a.RelevanceScore
}

// FeedCacheEntry is the last fully enriched feed computed for a user.
type FeedCacheEntry struct {
	UserID            string    `json:"user_id"`
	Articles          []Article `json:"articles"`
	ComputedAt        time.Time `json:"computed_at"`
	PreferenceVersion string    `json:"preference_version"`
}

// Fresh reports whether the entry may be served at now without recomputation.
func (e FeedCacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.ComputedAt) < ttl
}

// ConsistencyAudience is the aud claim of an encoded ConsistencyToken. Bearer
// verifiers reject it so a consistency token never authenticates a request.
const ConsistencyAudience = "newsfeed-consistency"

// ConsistencyToken carries a just-written preference record to the next feed
// computation so it does not depend on a possibly lagging read.
type ConsistencyToken struct {
	ID       string           `json:"id"`
	UserID   string           `json:"user_id"`
	Record   PreferenceRecord `json:"preferences"`
	IssuedAt time.Time        `json:"issued_at"`
}

// Fresh reports whether the token is still inside its validity window at now.
func (t ConsistencyToken) Fresh(now time.Time, window time.Duration) bool {
	age := now.Sub(t.IssuedAt)
	return age >= 0 && age <= window
}
