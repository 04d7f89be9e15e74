// Package budget keeps each budget's spent figure in line with the
// transactions of its category.
//
// Period windows follow the Strategy pattern: each period type has a
// WindowStrategy that returns the half-open interval [start, end) containing
// a given instant.
package budget

import (
	"fmt"
	"time"

	"pocketledger/internal/core"
)

// WindowStrategy computes the period window containing now.
type WindowStrategy interface {
	Window(now time.Time, loc *time.Location) (start, end time.Time)
}

// WeeklyWindow is the ISO week: Monday 00:00 inclusive to the next Monday.
type WeeklyWindow struct{}

func (WeeklyWindow) Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	// time.Sunday is 0; shift so Monday is day 0 of the week.
	offset := (int(local.Weekday()) + 6) % 7
	start := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 7)
}

// MonthlyWindow is the calendar month.
type MonthlyWindow struct{}

func (MonthlyWindow) Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

var windowStrategies = map[core.Period]WindowStrategy{
	core.Weekly:  WeeklyWindow{},
	core.Monthly: MonthlyWindow{},
}

// GetWindowStrategy returns the strategy for period.
func GetWindowStrategy(period core.Period) (WindowStrategy, error) {
	s, ok := windowStrategies[period]
	if !ok {
		return nil, fmt.Errorf("unsupported period: %s", period)
	}
	return s, nil
}

// WindowFor returns the window of period containing now in loc.
func WindowFor(period core.Period, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	s, err := GetWindowStrategy(period)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	start, end := s.Window(now, loc)
	return start, end, nil
}
