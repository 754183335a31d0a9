// Package query turns a preference record into a provider search query and
// lookback date.
package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"newsfeed/internal/core"
)

const (
	// MaxQueryLength is the provider's limit on the q parameter.
	MaxQueryLength = 500
	// DefaultLookbackDays applies when the timeframe cannot be parsed.
	DefaultLookbackDays = 7
	// DateLayout is the wire form of the from date.
	DateLayout = "2006-01-02"
)

var timeframePattern = regexp.MustCompile(`(?i)(\d+)\s*(day|week|month)s?`)

// Build returns the search query and the first calendar day to search from.
// It never fails: unusable input falls back to the raw statement and a
// seven-day window.
func Build(pref core.PreferenceRecord, now time.Time) (string, time.Time) {
	return Query(pref), FromDate(pref.Timeframe, now)
}

// Query joins topics then categories with " OR ". With no terms it falls back
// to the raw statement, truncated to the provider limit.
func Query(pref core.PreferenceRecord) string {
	var parts []string
	for _, term := range pref.Topics {
		if t := strings.TrimSpace(term); t != "" {
			parts = append(parts, t)
		}
	}
	for _, term := range pref.Categories {
		if t := strings.TrimSpace(term); t != "" {
			parts = append(parts, t)
		}
	}

	if len(parts) == 0 {
		return truncate(pref.RawInput, MaxQueryLength)
	}
	return strings.Join(parts, " OR ")
}

// FromDate parses "<n> day(s)|week(s)|month(s)" and returns now minus that
// span as a UTC calendar date. Months are calendar months.
func FromDate(timeframe string, now time.Time) time.Time {
	now = now.UTC()
	from := now.AddDate(0, 0, -DefaultLookbackDays)

	if m := timeframePattern.FindStringSubmatch(timeframe); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			switch strings.ToLower(m[2]) {
			case "day":
				from = now.AddDate(0, 0, -n)
			case "week":
				from = now.AddDate(0, 0, -7*n)
			case "month":
				from = now.AddDate(0, -n, 0)
			}
		}
	}

	return time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
}

// truncate cuts s to at most max characters without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
