package breaks

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func testShiftClock(t *testing.T) (*ShiftClock, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	sc, err := NewShiftClock(mock, 7, "07:00", "19:00")
	if err != nil {
		t.Fatalf("NewShiftClock failed: %v", err)
	}
	return sc, mock
}

func TestShiftLabel(t *testing.T) {
	sc, _ := testShiftClock(t)

	tests := []struct {
		name string
		utc  time.Time
		want string
	}{
		{"mid day shift", time.Date(2026, 1, 5, 5, 0, 0, 0, time.UTC), ShiftDay},       // 12:00 local
		{"day start inclusive", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), ShiftDay}, // 07:00 local
		{"night start exclusive", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), ShiftNight}, // 19:00 local
		{"late night", time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC), ShiftNight}, // 03:00 local next day
		{"just before day start", time.Date(2026, 1, 4, 23, 59, 0, 0, time.UTC), ShiftNight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sc.ShiftLabel(tt.utc); got != tt.want {
				t.Errorf("ShiftLabel(%v) = %s, want %s", tt.utc, got, tt.want)
			}
		})
	}
}

func TestNextBoundary(t *testing.T) {
	sc, _ := testShiftClock(t)

	tests := []struct {
		name      string
		utc       time.Time
		wantLocal string
	}{
		{"during day shift", time.Date(2026, 1, 5, 5, 0, 0, 0, time.UTC), "2026-01-05 19:00"},
		{"during night before midnight", time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC), "2026-01-06 07:00"},
		{"during night after midnight", time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC), "2026-01-06 07:00"},
		{"exactly at boundary", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), "2026-01-05 19:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := sc.NextBoundary(tt.utc)
			if !next.After(tt.utc) {
				t.Fatalf("NextBoundary(%v) = %v, not strictly after", tt.utc, next)
			}
			if got := sc.Local(next).Format("2006-01-02 15:04"); got != tt.wantLocal {
				t.Errorf("NextBoundary(%v) = %s local, want %s", tt.utc, got, tt.wantLocal)
			}
		})
	}
}

func TestNewShiftClock_InvalidBoundaries(t *testing.T) {
	mock := clock.NewMock()

	if _, err := NewShiftClock(mock, 7, "19:00", "07:00"); err == nil {
		t.Error("Expected error for inverted boundaries")
	}
	if _, err := NewShiftClock(mock, 7, "7am", "19:00"); err == nil {
		t.Error("Expected error for malformed boundary")
	}
}

func TestLocalUsesFixedOffset(t *testing.T) {
	sc, _ := testShiftClock(t)

	utc := time.Date(2026, 1, 5, 0, 30, 0, 0, time.UTC)
	local := sc.Local(utc)
	if local.Hour() != 7 || local.Minute() != 30 {
		t.Errorf("Expected 07:30 local, got %02d:%02d", local.Hour(), local.Minute())
	}
}
