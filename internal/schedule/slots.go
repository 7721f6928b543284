package schedule

// Slot is one reservable increment of a field's operating day.  The
// booked range is [StartMin, EndMin); DisplayEndMin may fall earlier
// when the field shows a shorter duration to leave a changeover buffer,
// but availability and overlap checks always use the full increment.
type Slot struct {
	StartMin      int
	EndMin        int
	DisplayEndMin int
	Label         string // full-range label, e.g. "10:00 - 11:00"
	DisplayLabel  string // shown label, e.g. "10:00 - 10:50"
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// Walk generates the bookable slots between opening and closing in
// fixed stepMin increments.  A closing time numerically below the
// opening time means the field stays open past midnight; the walk then
// continues into the next day and EndMin values exceed 1440.
// displayMin controls the advertised duration of each slot and is
// clamped to stepMin when zero or larger than the step.
func Walk(openingMin, closingMin, stepMin, displayMin int) []Slot {
	if stepMin <= 0 {
		return nil
	}
	if closingMin <= openingMin {
		closingMin += minutesPerDay
	}
	if displayMin <= 0 || displayMin > stepMin {
		displayMin = stepMin
	}
	var slots []Slot
	for start := openingMin; start+stepMin <= closingMin; start += stepMin {
		end := start + stepMin
		slots = append(slots, Slot{
			StartMin:      start,
			EndMin:        end,
			DisplayEndMin: start + displayMin,
			Label:         RangeLabel(start, end),
			DisplayLabel:  RangeLabel(start, start+displayMin),
		})
	}
	return slots
}

// SlotAt returns the slot starting at startMin from the walk of the
// given hours, or false when no slot starts there.  Handlers use this
// to turn a requested start label into the full booked range.
func SlotAt(openingMin, closingMin, stepMin, displayMin, startMin int) (Slot, bool) {
	for _, s := range Walk(openingMin, closingMin, stepMin, displayMin) {
		if s.StartMin == startMin || s.StartMin == startMin+minutesPerDay {
			return s, true
		}
	}
	return Slot{}, false
}
