package cron

import (
	"testing"
	"time"
)

// Test helpers

func mustParse(t *testing.T, expr string) *Schedule {
	t.Helper()
	s, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) unexpected error: %v", expr, err)
	}
	return s
}

func makeTime(year, month, day, hour, minute int) time.Time {
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		expr string
		desc string
	}{
		{"* * * * *", "every minute"},
		{"0 * * * *", "every hour"},
		{"0 0 * * *", "every day"},
		{"0 0 * * 0", "every Sunday"},
		{"0 9 * * 1-5", "weekday mornings"},
		{"*/15 * * * *", "every 15 minutes"},
		{"0 9,17 * * 1,3,5", "twice on Mon/Wed/Fri"},
		{"30 14 * * *", "2:30 PM daily"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if err != nil {
				t.Errorf("Parse(%q) unexpected error: %v", tt.expr, err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		expr string
		desc string
	}{
		{"", "empty"},
		{"* * * *", "four fields"},
		{"* * * * * *", "six fields"},
		{"60 * * * *", "minute out of range"},
		{"* 24 * * *", "hour out of range"},
		{"* * 0 * *", "day-of-month zero"},
		{"* * * 13 *", "month out of range"},
		{"* * * * 7", "day-of-week out of range"},
		{"a * * * *", "non-numeric"},
		{"0 0 31 2 *", "impossible date"},
		{"5-1 * * * *", "reversed range"},
		{"*/0 * * * *", "zero step"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := Parse(tt.expr); err == nil {
				t.Errorf("Parse(%q) expected error, got none", tt.expr)
			}
		})
	}
}

func TestSchedule_Accessors(t *testing.T) {
	s := mustParse(t, "0 9,17 * * 1,3,5")

	if !equalInts(s.Minutes(), []int{0}) {
		t.Errorf("Minutes() = %v, expected [0]", s.Minutes())
	}
	if !equalInts(s.Hours(), []int{9, 17}) {
		t.Errorf("Hours() = %v, expected [9 17]", s.Hours())
	}
	if !equalInts(s.DaysOfWeek(), []int{1, 3, 5}) {
		t.Errorf("DaysOfWeek() = %v, expected [1 3 5]", s.DaysOfWeek())
	}
}

func TestSchedule_WildcardDayOfWeekExpandsToAll(t *testing.T) {
	s := mustParse(t, "30 14 * * *")

	if len(s.DaysOfWeek()) != 7 {
		t.Errorf("DaysOfWeek() has %d entries, expected 7", len(s.DaysOfWeek()))
	}
}

func TestNext_SimpleDaily(t *testing.T) {
	s := mustParse(t, "0 9 * * *")

	// 08:00 on a Wednesday: fires at 09:00 the same day
	next := s.Next(makeTime(2026, 1, 7, 8, 0))
	expected := makeTime(2026, 1, 7, 9, 0)
	if !next.Equal(expected) {
		t.Errorf("Next() = %v, expected %v", next, expected)
	}

	// 09:00 exactly: strictly after, so the next day
	next = s.Next(makeTime(2026, 1, 7, 9, 0))
	expected = makeTime(2026, 1, 8, 9, 0)
	if !next.Equal(expected) {
		t.Errorf("Next() = %v, expected %v", next, expected)
	}
}

func TestNext_WeekdaysOnly(t *testing.T) {
	s := mustParse(t, "0 9 * * 1-5")

	// Friday evening rolls over to Monday morning
	next := s.Next(makeTime(2026, 1, 9, 18, 0)) // Friday
	expected := makeTime(2026, 1, 12, 9, 0)     // Monday
	if !next.Equal(expected) {
		t.Errorf("Next() = %v, expected %v", next, expected)
	}
}

func TestNext_DayOfMonthAndDayOfWeek_ORLogic(t *testing.T) {
	// Fires on the 15th OR on Mondays
	s := mustParse(t, "0 12 15 * 1")

	// Jan 13 2026 is a Tuesday; the 15th matches via day-of-month
	next := s.Next(makeTime(2026, 1, 13, 13, 0))
	expected := makeTime(2026, 1, 15, 12, 0)
	if !next.Equal(expected) {
		t.Errorf("Next() = %v, expected %v", next, expected)
	}

	// After the 15th, the next Monday (Jan 19) matches via day-of-week
	next = s.Next(makeTime(2026, 1, 15, 13, 0))
	expected = makeTime(2026, 1, 19, 12, 0)
	if !next.Equal(expected) {
		t.Errorf("Next() = %v, expected %v", next, expected)
	}
}

func TestNext_RespectsLocation(t *testing.T) {
	s := mustParse(t, "0 9 * * *")

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	after := time.Date(2026, 1, 7, 8, 0, 0, 0, loc)
	next := s.Next(after)
	if next.Location() != loc {
		t.Errorf("Next() location = %v, expected %v", next.Location(), loc)
	}
	if next.Hour() != 9 {
		t.Errorf("Next() hour = %d in %v, expected 9", next.Hour(), loc)
	}
}

func TestString_ReturnsOriginal(t *testing.T) {
	expr := "0 9 * * 1-5"
	s := mustParse(t, expr)
	if s.String() != expr {
		t.Errorf("String() = %q, expected %q", s.String(), expr)
	}
}
