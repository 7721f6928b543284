package schedule

import (
	"testing"
	"time"

	"github.com/turfbook/turfbook/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeeklyOccurrenceDensity(t *testing.T) {
	// A weekly rule anchored on a weekday matches exactly one date in
	// seven over any long stretch.
	r := Rule{Interval: model.IntervalWeekly, Weekday: time.Monday}
	matches := 0
	start := date(2025, time.January, 1)
	const days = 7 * 52
	for i := 0; i < days; i++ {
		if r.IsOccurrence(start.AddDate(0, 0, i)) {
			matches++
		}
	}
	if matches != days/7 {
		t.Errorf("weekly rule matched %d of %d days, want %d", matches, days, days/7)
	}
}

func TestEverydayRule(t *testing.T) {
	r := Rule{Interval: model.IntervalEveryday}
	if !r.IsOccurrence(date(2025, time.March, 14)) {
		t.Error("everyday rule must match any date")
	}
	next := r.Next(date(2025, time.March, 14))
	if !next.Equal(date(2025, time.March, 15)) {
		t.Errorf("next = %v", next)
	}
}

func TestWeeklyNext(t *testing.T) {
	r := Rule{Interval: model.IntervalWeekly, Weekday: time.Monday}
	// 2025-06-02 is a Monday; the next occurrence after it is a full
	// week later, never the same day.
	next := r.Next(date(2025, time.June, 2))
	if !next.Equal(date(2025, time.June, 9)) {
		t.Errorf("next from Monday = %v, want 2025-06-09", next)
	}
	// From a Wednesday the next Monday is five days out.
	next = r.Next(date(2025, time.June, 4))
	if !next.Equal(date(2025, time.June, 9)) {
		t.Errorf("next from Wednesday = %v, want 2025-06-09", next)
	}
}

func TestMonthlyShortMonthSkipped(t *testing.T) {
	// Anchor day 31: detection never matches a 30-day month, and Next
	// skips those months entirely rather than clamping.
	r := Rule{Interval: model.IntervalMonthly, Day: 31}
	if r.IsOccurrence(date(2025, time.April, 30)) {
		t.Error("day-31 rule must not match April 30")
	}
	if !r.IsOccurrence(date(2025, time.March, 31)) {
		t.Error("day-31 rule must match March 31")
	}
	next := r.Next(date(2025, time.March, 31))
	// April (30 days) is skipped; next occurrence is May 31.
	if !next.Equal(date(2025, time.May, 31)) {
		t.Errorf("next after 2025-03-31 = %v, want 2025-05-31", next)
	}
}

func TestMonthlyFebruarySkip(t *testing.T) {
	r := Rule{Interval: model.IntervalMonthly, Day: 30}
	next := r.Next(date(2025, time.January, 30))
	if !next.Equal(date(2025, time.March, 30)) {
		t.Errorf("next after 2025-01-30 = %v, want 2025-03-30 (February skipped)", next)
	}
}

func TestMonthlyNextWithinSameMonth(t *testing.T) {
	r := Rule{Interval: model.IntervalMonthly, Day: 15}
	next := r.Next(date(2025, time.June, 2))
	if !next.Equal(date(2025, time.June, 15)) {
		t.Errorf("next = %v, want 2025-06-15", next)
	}
	next = r.Next(date(2025, time.June, 15))
	if !next.Equal(date(2025, time.July, 15)) {
		t.Errorf("next = %v, want 2025-07-15", next)
	}
}

func TestOccurrencesStrictlyIncrease(t *testing.T) {
	r := Rule{Interval: model.IntervalMonthly, Day: 31}
	occ := r.Occurrences(date(2025, time.January, 1), date(2026, time.January, 1))
	if len(occ) == 0 {
		t.Fatal("expected occurrences in 2025")
	}
	for i := 1; i < len(occ); i++ {
		if !occ[i].After(occ[i-1]) {
			t.Fatalf("occurrence dates must strictly increase: %v then %v", occ[i-1], occ[i])
		}
	}
	// 2025: months with a 31st are Jan, Mar, May, Jul, Aug, Oct, Dec.
	if len(occ) != 7 {
		t.Errorf("expected 7 day-31 occurrences in 2025, got %d", len(occ))
	}
}

func TestOccurrencesWeeklyHorizon(t *testing.T) {
	r := Rule{Interval: model.IntervalWeekly, Weekday: time.Saturday}
	occ := r.Occurrences(date(2025, time.June, 1), date(2025, time.June, 29))
	if len(occ) != 4 {
		t.Fatalf("expected 4 Saturdays, got %d", len(occ))
	}
	for _, d := range occ {
		if d.Weekday() != time.Saturday {
			t.Errorf("occurrence %v is not a Saturday", d)
		}
	}
}

func TestRuleFor(t *testing.T) {
	anchor := date(2025, time.June, 2) // a Monday
	r := RuleFor(model.IntervalWeekly, anchor)
	if r.Weekday != time.Monday {
		t.Errorf("weekday anchor = %v, want Monday", r.Weekday)
	}
	r = RuleFor(model.IntervalMonthly, anchor)
	if r.Day != 2 {
		t.Errorf("day anchor = %d, want 2", r.Day)
	}
}
