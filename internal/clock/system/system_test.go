// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

// TestClockOffset checks the configured zone offset is applied.
func TestClockOffset(t *testing.T) {
	t.Parallel()

	clk := NewWithOffset(-3 * time.Hour)
	_, offset := clk.Now().Zone()
	if offset != -3*60*60 {
		t.Fatalf("expected offset -10800s, got %d", offset)
	}
	if clk.Location() == time.UTC {
		t.Fatal("expected a non-UTC location")
	}
	if NewWithOffset(0).Location() != time.UTC {
		t.Fatal("expected zero offset to report UTC")
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}
