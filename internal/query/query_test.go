package query

import (
	"strings"
	"testing"
	"time"

	"newsfeed/internal/core"
)

func TestQuery(t *testing.T) {
	long := strings.Repeat("a", 620)

	tests := []struct {
		name string
		pref core.PreferenceRecord
		want string
	}{
		{
			name: "topics only",
			pref: core.PreferenceRecord{Topics: []string{"ai", "startups"}},
			want: "ai OR startups",
		},
		{
			name: "topics then categories",
			pref: core.PreferenceRecord{Topics: []string{"ai"}, Categories: []string{"business", "technology"}},
			want: "ai OR business OR technology",
		},
		{
			name: "raw input fallback",
			pref: core.PreferenceRecord{RawInput: "climate tech policy"},
			want: "climate tech policy",
		},
		{
			name: "blank terms ignored",
			pref: core.PreferenceRecord{Topics: []string{" ", ""}, RawInput: "space exploration"},
			want: "space exploration",
		},
		{
			name: "raw input truncated",
			pref: core.PreferenceRecord{RawInput: long},
			want: long[:MaxQueryLength],
		},
		{
			name: "nothing at all",
			pref: core.PreferenceRecord{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Query(tt.pref); got != tt.want {
				t.Errorf("Query() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryTruncatesOnRuneBoundary(t *testing.T) {
	raw := strings.Repeat("é", 600)
	got := Query(core.PreferenceRecord{RawInput: raw})

	if n := len([]rune(got)); n != MaxQueryLength {
		t.Errorf("Expected %d runes, got %d", MaxQueryLength, n)
	}
	if !strings.HasPrefix(raw, got) {
		t.Error("Expected truncated query to be a prefix of the input")
	}
}

func TestFromDate(t *testing.T) {
	now := time.Date(2025, 3, 31, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		timeframe string
		want      time.Time
	}{
		{"7 days", time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)},
		{"1 day", time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)},
		{"2 weeks", time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)},
		{"1 week", time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)},
		// Calendar arithmetic: Feb 31 normalizes to Mar 3.
		{"1 month", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"3 Months", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"last 10days please", time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)},
		{"garbage", time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)},
		{"", time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.timeframe, func(t *testing.T) {
			got := FromDate(tt.timeframe, now)
			if !got.Equal(tt.want) {
				t.Errorf("FromDate(%q) = %s, want %s", tt.timeframe, got.Format(DateLayout), tt.want.Format(DateLayout))
			}
		})
	}
}

func TestFromDateMonthFromMidMonth(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	got := FromDate("1 month", now)
	want := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected one calendar month prior %s, got %s", want, got)
	}
}

func TestFromDateHasNoTimeComponent(t *testing.T) {
	now := time.Date(2025, 3, 31, 23, 59, 59, 999, time.FixedZone("PST", -8*3600))
	got := FromDate("7 days", now)

	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 || got.Nanosecond() != 0 {
		t.Errorf("Expected midnight, got %s", got)
	}
	if got.Location() != time.UTC {
		t.Errorf("Expected UTC, got %s", got.Location())
	}
}

func TestBuild(t *testing.T) {
	now := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	q, from := Build(core.PreferenceRecord{
		RawInput:  "space exploration",
		Timeframe: "2 weeks",
	}, now)

	if q != "space exploration" {
		t.Errorf("Expected raw input query, got %q", q)
	}
	if from.Format(DateLayout) != "2025-03-17" {
		t.Errorf("Expected 2025-03-17, got %s", from.Format(DateLayout))
	}
}
