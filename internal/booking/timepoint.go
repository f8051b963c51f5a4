// Package booking holds the facility calendar: weekly time points,
// exclusive intervals, and the engine that validates and applies
// booking mutations.
package booking

import (
	"fmt"
	"strings"
)

// Day of the recurring week, Monday-based to match the wire encoding.
type Day uint8

const (
	Monday Day = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

const (
	minutesPerDay = 24 * 60
	// WeekMinutes is the length of the representable week. All intervals
	// live on the flat line [0, WeekMinutes); no wraparound.
	WeekMinutes = 7 * minutesPerDay
)

var dayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func (d Day) Valid() bool { return d <= Sunday }

func (d Day) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Day(%d)", uint8(d))
	}
	return dayNames[d]
}

// ParseDay accepts short ("Mon") or full ("Monday") day names,
// case-insensitively.
func ParseDay(s string) (Day, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, short := range dayNames {
		full := [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}[i]
		if name == strings.ToLower(short) || name == full {
			return Day(i), nil
		}
	}
	return 0, fmt.Errorf("unknown day %q", s)
}

// TimePoint is a single point within one recurring week. There is no
// year or date; Mon 09:00 means every Monday at nine.
type TimePoint struct {
	Day    Day
	Hour   uint8
	Minute uint8
}

func (t TimePoint) Valid() bool {
	return t.Day.Valid() && t.Hour < 24 && t.Minute < 60
}

// Minutes returns the offset of the point from Monday 00:00.
func (t TimePoint) Minutes() int {
	return int(t.Day)*minutesPerDay + int(t.Hour)*60 + int(t.Minute)
}

// TimePointAt converts a minute offset from Monday 00:00 back into a
// TimePoint. The offset must be within [0, WeekMinutes).
func TimePointAt(minutes int) TimePoint {
	return TimePoint{
		Day:    Day(minutes / minutesPerDay),
		Hour:   uint8(minutes % minutesPerDay / 60),
		Minute: uint8(minutes % 60),
	}
}

func (t TimePoint) String() string {
	return fmt.Sprintf("%s %02d:%02d", t.Day, t.Hour, t.Minute)
}

// Interval is a half-open booking window [Start, End) on the weekly
// line. Start must be strictly before End; intervals may span days but
// never wrap past Sunday 23:59.
type Interval struct {
	Start TimePoint
	End   TimePoint
}

func (iv Interval) Valid() bool {
	return iv.Start.Valid() && iv.End.Valid() && iv.Start.Minutes() < iv.End.Minutes()
}

// Overlaps reports whether two half-open intervals intersect:
// s1 < e2 && s2 < e1.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Minutes() < other.End.Minutes() && other.Start.Minutes() < iv.End.Minutes()
}

// Offset returns the interval moved by the given number of minutes.
// ok is false when the moved interval falls outside the week. The end
// must stay strictly below WeekMinutes: Sunday 24:00 has no TimePoint
// representation.
func (iv Interval) Offset(minutes int) (Interval, bool) {
	start := iv.Start.Minutes() + minutes
	end := iv.End.Minutes() + minutes
	if start < 0 || end >= WeekMinutes {
		return Interval{}, false
	}
	return Interval{Start: TimePointAt(start), End: TimePointAt(end)}, true
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s - %s", iv.Start, iv.End)
}
