// Package schedule provides the pure calendar and clock arithmetic the
// booking engine is built on: label parsing, slot geometry and
// recurring-occurrence projection.  Nothing in this package touches
// storage or the network.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

const minutesPerDay = 24 * 60

// ParseClock converts a time label to minutes since midnight.  Both
// 24-hour labels ("14:30", "9:00") and 12-hour labels ("2:30PM",
// "9:00 am", "12AM") are accepted; case and surrounding whitespace do
// not matter, and the minutes part may be omitted ("9PM").  Malformed
// labels yield 0 rather than an error: legacy field data contains
// labels we can no longer reject, and a zero offset degrades to
// "midnight" instead of failing the whole request.
func ParseClock(label string) int {
	s := strings.ToUpper(strings.TrimSpace(label))
	if s == "" {
		return 0
	}
	meridiem := ""
	if strings.HasSuffix(s, "AM") || strings.HasSuffix(s, "PM") {
		meridiem = s[len(s)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}
	hourPart, minPart := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hourPart, minPart = s[:i], s[i+1:]
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil {
		return 0
	}
	min, err := strconv.Atoi(minPart)
	if err != nil || min < 0 || min > 59 {
		return 0
	}
	switch meridiem {
	case "AM":
		if hour < 1 || hour > 12 {
			return 0
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return 0
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour < 0 || hour > 23 {
			return 0
		}
	}
	return hour*60 + min
}

// FormatClock renders minutes since midnight as a 24-hour "HH:MM"
// label.  Values past midnight (overnight slots) wrap around the day.
func FormatClock(min int) string {
	min = ((min % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// Format12h renders minutes since midnight as a 12-hour label such as
// "2:30PM".  Like FormatClock it wraps values past midnight.
func Format12h(min int) string {
	min = ((min % minutesPerDay) + minutesPerDay) % minutesPerDay
	hour := min / 60
	meridiem := "AM"
	if hour >= 12 {
		meridiem = "PM"
	}
	h12 := hour % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d%s", h12, min%60, meridiem)
}

// RangeLabel renders a start/end pair as the label stored on bookings,
// e.g. "10:00 - 11:00".
func RangeLabel(startMin, endMin int) string {
	return FormatClock(startMin) + " - " + FormatClock(endMin)
}
