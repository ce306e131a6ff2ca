package cron

import (
	"time"
)

// Schedule represents a parsed 5-field cron expression
type Schedule struct {
	// Each field stores all valid values for that field
	minutes     []int // 0-59
	hours       []int // 0-23
	daysOfMonth []int // 1-31
	months      []int // 1-12
	daysOfWeek  []int // 0-6 (0=Sunday)

	// Store original expression for debugging
	original string
}

// Parse parses a cron expression and validates all constraints
// Returns error if:
// - Format is invalid (not 5 fields)
// - Any field contains invalid syntax
// - Impossible dates are specified (e.g., Feb 31st)
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// String returns the original expression
func (s *Schedule) String() string {
	return s.original
}

// Minutes returns all valid minute values
func (s *Schedule) Minutes() []int {
	return s.minutes
}

// Hours returns all valid hour values
func (s *Schedule) Hours() []int {
	return s.hours
}

// DaysOfWeek returns all valid day-of-week values (0=Sunday)
func (s *Schedule) DaysOfWeek() []int {
	return s.daysOfWeek
}

// Next calculates the next occurrence of this schedule strictly after the
// given time, evaluated in that time's location
// Returns the zero time if no occurrence exists within the scan window
// (cannot happen for a schedule that passed Parse validation)
func (s *Schedule) Next(after time.Time) time.Time {
	// Start checking from the next minute boundary
	current := after.Truncate(time.Minute).Add(time.Minute)

	// A valid 5-field schedule always fires within one leap cycle
	limit := after.AddDate(4, 0, 1)
	for current.Before(limit) {
		if s.matches(current) {
			return current
		}
		current = current.Add(time.Minute)
	}

	return time.Time{}
}

// matches checks if a time matches the schedule
func (s *Schedule) matches(t time.Time) bool {
	return contains(s.minutes, t.Minute()) &&
		contains(s.hours, t.Hour()) &&
		s.matchesDayConstraints(t) &&
		contains(s.months, int(t.Month()))
}

// matchesDayConstraints handles the special day-of-month vs day-of-week logic
//
// Cron standard behavior:
// - If both day-of-month and day-of-week are restricted (not *): match if EITHER matches (OR logic)
// - If only one is restricted: match on that field only
// - If both are *: match any day
func (s *Schedule) matchesDayConstraints(t time.Time) bool {
	domRestricted := len(s.daysOfMonth) < 31
	dowRestricted := len(s.daysOfWeek) < 7

	if domRestricted && dowRestricted {
		// OR logic: either day-of-month OR day-of-week must match
		domMatch := contains(s.daysOfMonth, t.Day())
		dowMatch := contains(s.daysOfWeek, int(t.Weekday()))

		if domMatch && !isValidDate(t.Year(), int(t.Month()), t.Day()) {
			domMatch = false
		}

		return domMatch || dowMatch
	} else if domRestricted {
		if !contains(s.daysOfMonth, t.Day()) {
			return false
		}
		return isValidDate(t.Year(), int(t.Month()), t.Day())
	} else if dowRestricted {
		return contains(s.daysOfWeek, int(t.Weekday()))
	}

	// Both unrestricted, match any day that actually exists
	return isValidDate(t.Year(), int(t.Month()), t.Day())
}

// contains checks if a slice contains a value
func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
