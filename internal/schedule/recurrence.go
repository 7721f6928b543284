package schedule

import (
	"time"

	"github.com/turfbook/turfbook/internal/model"
)

// Rule describes a recurring booking pattern: the repetition interval
// plus the anchor that pins it to the calendar.  Weekly rules anchor on
// a weekday, monthly rules on a day of month.
//
// Monthly rules use a uniform skip policy for short months: a rule
// anchored on day 31 has no occurrence in a 30-day month, and Next
// skips straight over such months.  Detection and projection therefore
// always agree on which dates are occurrences.
type Rule struct {
	Interval model.Interval
	Weekday  time.Weekday // weekly rules
	Day      int          // monthly rules, 1..31
}

// RuleFor builds the rule for a subscription anchored on the given
// first occurrence date.
func RuleFor(interval model.Interval, anchor time.Time) Rule {
	return Rule{Interval: interval, Weekday: anchor.Weekday(), Day: anchor.Day()}
}

// IsOccurrence reports whether the given date is an occurrence of the
// rule.  Only the calendar date matters; the time of day is ignored.
func (r Rule) IsOccurrence(date time.Time) bool {
	switch r.Interval {
	case model.IntervalEveryday:
		return true
	case model.IntervalWeekly:
		return date.Weekday() == r.Weekday
	case model.IntervalMonthly:
		return date.Day() == r.Day
	default:
		return false
	}
}

// Next returns the first occurrence strictly after the given date.
func (r Rule) Next(after time.Time) time.Time {
	d := dateOnly(after)
	switch r.Interval {
	case model.IntervalEveryday:
		return d.AddDate(0, 0, 1)
	case model.IntervalWeekly:
		step := (int(r.Weekday) - int(d.Weekday()) + 7) % 7
		if step == 0 {
			step = 7
		}
		return d.AddDate(0, 0, step)
	case model.IntervalMonthly:
		y, m, _ := d.Date()
		if d.Day() < r.Day && monthHasDay(y, m, r.Day) {
			return time.Date(y, m, r.Day, 0, 0, 0, 0, time.UTC)
		}
		// Scan forward month by month, skipping months too short to
		// contain the anchor day.  Bounded: every day 1..31 exists in
		// at least one of any 12 consecutive months.
		for i := 1; i <= 12; i++ {
			cand := time.Date(y, m+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
			if monthHasDay(cand.Year(), cand.Month(), r.Day) {
				return time.Date(cand.Year(), cand.Month(), r.Day, 0, 0, 0, 0, time.UTC)
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

// Occurrences projects every occurrence in the half-open date range
// [from, until).  Used by the conflict scan to warn about collisions
// over a bounded horizon.
func (r Rule) Occurrences(from, until time.Time) []time.Time {
	from, until = dateOnly(from), dateOnly(until)
	var out []time.Time
	d := from
	if !r.IsOccurrence(d) {
		d = r.Next(d)
	}
	for !d.IsZero() && d.Before(until) {
		out = append(out, d)
		d = r.Next(d)
	}
	return out
}

func monthHasDay(year int, month time.Month, day int) bool {
	if day < 1 || day > 31 {
		return false
	}
	// Normalisation rolls invalid days into the next month.
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return t.Month() == month
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
