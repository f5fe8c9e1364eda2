package timeutil

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidDate   = errors.New("invalid date")
)

// DateLayout is the calendar-day format accepted for custom ranges.
const DateLayout = "2006-01-02"

// Range is an inclusive [Start, End] interval anchored to a location.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// TruncateToHour normalizes the timestamp to the top of its hour in the provided zone.
func TruncateToHour(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59.999 on the timestamp's calendar day.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return TruncateToDay(t, loc).AddDate(0, 0, 1).Add(-time.Millisecond)
}

// DayRange spans from the first millisecond of startDay to the last of endDay.
// Inverted days are swapped.
func DayRange(startDay, endDay time.Time, loc *time.Location) Range {
	loc = EnsureLocation(loc)
	startDay = TruncateToDay(startDay, loc)
	endDay = TruncateToDay(endDay, loc)
	if endDay.Before(startDay) {
		startDay, endDay = endDay, startDay
	}
	return Range{Start: startDay, End: EndOfDay(endDay, loc)}
}

// LastDays covers today and the n preceding calendar days.
func LastDays(n int, now time.Time, loc *time.Location) (Range, error) {
	if n <= 0 {
		return Range{}, ErrInvalidPeriod
	}
	today := TruncateToDay(now, loc)
	return DayRange(today.AddDate(0, 0, -n), today, loc), nil
}

// ParseDate parses a YYYY-MM-DD calendar day in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidDate
	}
	t, err := time.ParseInLocation(DateLayout, value, EnsureLocation(loc))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// Contains reports whether ts falls within [Start, End].
func (r Range) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && !ts.After(r.End)
}

// Duration returns the range length.
func (r Range) Duration() time.Duration { return r.End.Sub(r.Start) }
