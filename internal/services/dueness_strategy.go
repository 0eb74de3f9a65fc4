package services

// This file implements the Strategy Pattern for recurring template dueness.
// Each frequency has a checker that enumerates the occurrence dates of a
// template inside a window.

import (
	"fmt"
	"time"

	"sheetsync/internal/core"
)

// DuenessChecker is the strategy interface for recurring templates.
type DuenessChecker interface {
	// Occurrence returns the k-th occurrence (k >= 0) counted from the month
	// of start, on the given anchor day clamped to the month length.
	Occurrence(start time.Time, anchorDay, k int) time.Time
}

// IntervalChecker schedules one occurrence every Months calendar months.
type IntervalChecker struct {
	Months int
}

func (c IntervalChecker) Occurrence(start time.Time, anchorDay, k int) time.Time {
	first := time.Date(start.Year(), start.Month()+time.Month(k*c.Months), 1, 0, 0, 0, 0, time.UTC)
	day := anchorDay
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(month time.Time) int {
	return time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// duenessStrategies maps frequencies to their checkers.
var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Monthly:      IntervalChecker{Months: 1},
	core.Bimonthly:    IntervalChecker{Months: 2},
	core.Quarterly:    IntervalChecker{Months: 3},
	core.Semiannually: IntervalChecker{Months: 6},
	core.Yearly:       IntervalChecker{Months: 12},
}

// GetDuenessChecker returns the checker of a frequency.
func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownFrequency, frequency)
	}
	return checker, nil
}
