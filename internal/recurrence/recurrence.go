// Package recurrence resolves a schedule's local wall-clock time, IANA timezone and
// weekday pattern into absolute UTC execution instants.
//
// Every local date that matches the pattern has exactly one occurrence:
//   - when the wall time is repeated (fall-back overlap) the earlier instant is used
//     and the repeat never fires;
//   - when the wall time is skipped (spring-forward gap) the time is shifted forward by
//     the length of the gap, e.g. 02:30 in a 02:00->03:00 gap resolves to 03:30.
package recurrence

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // zone rules are embedded so results do not depend on the host
)

// Pattern is the weekday recurrence of a schedule.
type Pattern string

const (
	Daily    Pattern = "daily"
	Weekdays Pattern = "weekdays"
	Weekends Pattern = "weekends"
)

// Patterns lists every supported pattern.
var Patterns = []Pattern{Daily, Weekdays, Weekends}

// Valid reports whether p is a supported pattern.
func (p Pattern) Valid() bool {
	switch p {
	case Daily, Weekdays, Weekends:
		return true
	}
	return false
}

// Matches reports whether day is part of the pattern.
func (p Pattern) Matches(day time.Weekday) bool {
	switch p {
	case Daily:
		return true
	case Weekdays:
		return day >= time.Monday && day <= time.Friday
	case Weekends:
		return day == time.Saturday || day == time.Sunday
	}
	return false
}

var (
	// ErrInvalidTimezone is returned for names that are not IANA zone identifiers.
	ErrInvalidTimezone = errors.New("recurrence: invalid timezone")
	// ErrInvalidTime is returned when the local time is not HH:MM.
	ErrInvalidTime = errors.New("recurrence: invalid time, expected HH:MM")
	// ErrInvalidScheduleType is returned for unknown patterns.
	ErrInvalidScheduleType = errors.New("recurrence: invalid schedule type")
)

// ValidationError ties a recurrence error to the request field that caused it.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Rule is a parsed recurrence bound to a loaded location.
type Rule struct {
	Pattern  Pattern
	Hour     int
	Minute   int
	Location *time.Location
}

// Parse validates the three recurrence fields and loads the timezone.
func Parse(pattern Pattern, localTime, timezone string) (Rule, error) {
	if !pattern.Valid() {
		return Rule{}, &ValidationError{Field: "schedule_type", Err: ErrInvalidScheduleType}
	}
	hour, minute, err := ParseLocalTime(localTime)
	if err != nil {
		return Rule{}, &ValidationError{Field: "schedule_time", Err: err}
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return Rule{}, &ValidationError{Field: "timezone", Err: err}
	}
	return Rule{Pattern: pattern, Hour: hour, Minute: minute, Location: loc}, nil
}

// ParseLocalTime parses a strict HH:MM wall-clock time.
func ParseLocalTime(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, ErrInvalidTime
	}
	hour, ok1 := twoDigits(s[0], s[1])
	minute, ok2 := twoDigits(s[3], s[4])
	if !ok1 || !ok2 || hour > 23 || minute > 59 {
		return 0, 0, ErrInvalidTime
	}
	return hour, minute, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

// LoadLocation loads an IANA zone. The empty name and "Local" are rejected because
// they resolve to process-dependent zones rather than a stored identifier.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, ErrInvalidTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// NextOccurrence returns the first occurrence strictly after `after`, in UTC.
func NextOccurrence(pattern Pattern, localTime, timezone string, after time.Time) (time.Time, error) {
	rule, err := Parse(pattern, localTime, timezone)
	if err != nil {
		return time.Time{}, err
	}
	return rule.Next(after), nil
}

// Next returns the first occurrence of r strictly after `after`, in UTC.
func (r Rule) Next(after time.Time) time.Time {
	local := after.In(r.Location)
	y, m, d := local.Date()
	// A matching weekday is always found within a week. The extra days cover an
	// occurrence that has already passed today and a local date the zone skipped.
	for i := 0; i <= 8; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, time.UTC)
		if !r.Pattern.Matches(day.Weekday()) {
			continue
		}
		dy, dm, dd := day.Date()
		at := resolve(dy, dm, dd, r.Hour, r.Minute, r.Location)
		// A skipped date resolves onto the following day, which must match as well.
		if !r.Pattern.Matches(at.Weekday()) {
			continue
		}
		if at.After(after) {
			return at.UTC()
		}
	}
	// Unreachable for valid patterns.
	return time.Time{}
}

// Upcoming returns the next n occurrences of r after `after`.
func (r Rule) Upcoming(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for len(out) < n {
		next := r.Next(after)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		after = next
	}
	return out
}

// resolve maps a local wall-clock minute on a date to a single instant in loc.
func resolve(y int, m time.Month, d, hour, minute int, loc *time.Location) time.Time {
	// Wall clock read as if it were UTC. The real instant lies within 14h of it, so
	// offsets sampled 26h either side bracket any transition on that day.
	naive := time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
	_, early := naive.Add(-26 * time.Hour).In(loc).Zone()
	_, late := naive.Add(26 * time.Hour).In(loc).Zone()

	var best time.Time
	for _, off := range []int{early, late} {
		c := naive.Add(-time.Duration(off) * time.Second)
		if !sameWallClock(c.In(loc), y, m, d, hour, minute) {
			continue
		}
		if best.IsZero() || c.Before(best) {
			best = c
		}
	}
	if !best.IsZero() {
		return best.In(loc)
	}
	// Gap: apply the pre-transition offset, which lands after the jump.
	return naive.Add(-time.Duration(early) * time.Second).In(loc)
}

func sameWallClock(t time.Time, y int, m time.Month, d, hour, minute int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d && t.Hour() == hour && t.Minute() == minute
}
