package breaks

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// Shift labels derived from the configured day/night boundaries.
const (
	ShiftDay   = "day"
	ShiftNight = "night"
)

// ShiftClock supplies current time and derives the current shift from the
// configured local-time boundaries. The timezone offset is explicit so the
// result never depends on the host timezone.
type ShiftClock struct {
	clk        clock.Clock
	loc        *time.Location
	dayStart   int // minutes since local midnight
	nightStart int
}

// NewShiftClock builds a shift clock for a fixed UTC offset and two
// HH:MM boundaries. The day shift is [dayStart, nightStart) local time.
func NewShiftClock(clk clock.Clock, offsetHours int, dayStart, nightStart string) (*ShiftClock, error) {
	day, err := parseBoundary(dayStart)
	if err != nil {
		return nil, fmt.Errorf("invalid day_start: %w", err)
	}
	night, err := parseBoundary(nightStart)
	if err != nil {
		return nil, fmt.Errorf("invalid night_start: %w", err)
	}
	if day >= night {
		return nil, fmt.Errorf("day_start %s must be before night_start %s", dayStart, nightStart)
	}
	name := fmt.Sprintf("UTC%+d", offsetHours)
	return &ShiftClock{
		clk:        clk,
		loc:        time.FixedZone(name, offsetHours*3600),
		dayStart:   day,
		nightStart: night,
	}, nil
}

func parseBoundary(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Now returns the current time.
func (c *ShiftClock) Now() time.Time {
	return c.clk.Now()
}

// Local converts a timestamp to the configured local zone.
func (c *ShiftClock) Local(t time.Time) time.Time {
	return t.In(c.loc)
}

// ShiftLabel returns the shift the given instant falls in.
func (c *ShiftClock) ShiftLabel(t time.Time) string {
	local := t.In(c.loc)
	minutes := local.Hour()*60 + local.Minute()
	if minutes >= c.dayStart && minutes < c.nightStart {
		return ShiftDay
	}
	return ShiftNight
}

// NextBoundary returns the earliest shift boundary strictly after t.
func (c *ShiftClock) NextBoundary(t time.Time) time.Time {
	local := t.In(c.loc)
	year, month, day := local.Date()

	candidates := make([]time.Time, 0, 4)
	for _, minutes := range []int{c.dayStart, c.nightStart} {
		at := time.Date(year, month, day, minutes/60, minutes%60, 0, 0, c.loc)
		candidates = append(candidates, at, at.AddDate(0, 0, 1))
	}

	var next time.Time
	for _, cand := range candidates {
		if !cand.After(local) {
			continue
		}
		if next.IsZero() || cand.Before(next) {
			next = cand
		}
	}
	return next
}
