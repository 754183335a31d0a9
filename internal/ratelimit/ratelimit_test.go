package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiterTripsAtLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 31, 10, 0, 0, 0, time.UTC)}
	l := New(3, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		if l.IsLimited() {
			t.Fatalf("Expected not limited after %d attempts", i)
		}
		l.RecordAttempt()
	}

	if !l.IsLimited() {
		t.Error("Expected limited after reaching the limit")
	}

	snap := l.Snapshot()
	if snap.Count != 3 || snap.Remaining() != 0 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}

func TestLimiterResetsAtUTCMidnight(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)}
	l := New(1, WithClock(clock.Now))

	l.RecordAttempt()
	if !l.IsLimited() {
		t.Fatal("Expected limited")
	}

	clock.Advance(59*time.Minute + 59*time.Second)
	if !l.IsLimited() {
		t.Error("Expected still limited one second before midnight")
	}

	clock.Advance(time.Second)
	if l.IsLimited() {
		t.Error("Expected reset at midnight")
	}

	snap := l.Snapshot()
	if snap.Count != 0 {
		t.Errorf("Expected count reset, got %d", snap.Count)
	}
	wantStart := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if !snap.WindowStart.Equal(wantStart) {
		t.Errorf("Expected window start %s, got %s", wantStart, snap.WindowStart)
	}
	if !snap.ResetsAt.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Errorf("Unexpected ResetsAt %s", snap.ResetsAt)
	}
}

func TestLimiterSkipsMultipleDays(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)}
	l := New(2, WithClock(clock.Now))
	l.RecordAttempt()
	l.RecordAttempt()

	clock.Advance(72 * time.Hour)
	if l.IsLimited() {
		t.Error("Expected reset after several days")
	}
	if got := l.Snapshot().WindowStart; !got.Equal(time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected window start %s", got)
	}
}

func TestLimiterNonUTCClock(t *testing.T) {
	pst := time.FixedZone("PST", -8*3600)
	// 20:00 PST on Mar 31 is 04:00 UTC on Apr 1.
	clock := &fakeClock{now: time.Date(2025, 3, 31, 20, 0, 0, 0, pst)}
	l := New(5, WithClock(clock.Now))

	if got := l.Snapshot().WindowStart; !got.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected UTC window start, got %s", got)
	}
}

func TestLimiterDefaultLimit(t *testing.T) {
	l := New(0)
	if got := l.Snapshot().Limit; got != DefaultDailyLimit {
		t.Errorf("Expected default limit %d, got %d", DefaultDailyLimit, got)
	}
}

func TestLimiterConcurrentAttempts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)}
	l := New(1000, WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.RecordAttempt()
				_ = l.IsLimited()
			}
		}()
	}
	wg.Wait()

	if got := l.Snapshot().Count; got != 500 {
		t.Errorf("Expected 500 attempts, got %d", got)
	}
}
