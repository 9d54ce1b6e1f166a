package mcp

import (
	"context"
	"testing"
	"time"
)

// TestUserIDFromContextDefault verifies the default user ID (1) when no value
// is set in the context.
func TestUserIDFromContextDefault(t *testing.T) {
	ctx := context.Background()
	if id := UserIDFromContext(ctx); id != 1 {
		t.Errorf("UserIDFromContext(empty) = %d, want 1", id)
	}
}

// TestUserIDFromContextSet verifies the user ID is extracted from context
// after being set by WithUserID.
func TestUserIDFromContextSet(t *testing.T) {
	ctx := WithUserID(context.Background(), 42)
	if id := UserIDFromContext(ctx); id != 42 {
		t.Errorf("UserIDFromContext = %d, want 42", id)
	}
}

// TestDefaultTimeRange verifies time range defaults (last 30 days) and parsing.
func TestDefaultTimeRange(t *testing.T) {
	// Both empty → defaults to last 30 days
	start, end, err := defaultTimeRange("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	diff := end.Sub(start)
	if diff.Hours() < 719 || diff.Hours() > 721 { // ~720 hours = 30 days
		t.Errorf("default range = %.0f hours, want ~720", diff.Hours())
	}

	// Explicit dates
	start, end, err = defaultTimeRange("2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Year() != 2026 || start.Month() != 1 || start.Day() != 1 {
		t.Errorf("start = %v, want 2026-01-01", start)
	}
	if end.Year() != 2026 || end.Month() != 1 || end.Day() != 31 {
		t.Errorf("end = %v, want 2026-01-31", end)
	}

	// RFC3339
	start, _, err = defaultTimeRange("2026-06-15T10:30:00Z", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Hour() != 10 || start.Minute() != 30 {
		t.Errorf("start = %v, want 10:30", start)
	}

	// Invalid
	_, _, err = defaultTimeRange("not-a-date", "")
	if err == nil {
		t.Error("expected error for invalid date")
	}
}

// TestParseWeekday verifies weekday names round-trip and junk is rejected.
func TestParseWeekday(t *testing.T) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		got, ok := parseWeekday(d.String())
		if !ok || got != d {
			t.Errorf("parseWeekday(%q) = %v, %v", d.String(), got, ok)
		}
	}
	if _, ok := parseWeekday("Funday"); ok {
		t.Error("parseWeekday accepted junk")
	}
}
