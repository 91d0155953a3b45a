package interval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	DateLayout    = "2006-01-02"
)

// TimeOfDay is a wall clock time expressed in minutes past midnight.
// 24:00 is accepted as the end of the day.
type TimeOfDay int

func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (seconds must be zero).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidRange, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidRange, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidRange, s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, fmt.Errorf("%w: seconds are not supported in %q", ErrInvalidRange, s)
	}
	t := Clock(h, m)
	if h < 0 || t > MinutesPerDay {
		return 0, fmt.Errorf("%w: %q is outside the day", ErrInvalidRange, s)
	}
	return t, nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Add(minutes int) TimeOfDay { return t + TimeOfDay(minutes) }

func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) * time.Minute }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places t on the calendar date of date in loc. DST gaps are resolved by time.Date.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OnDate builds the range [start, end) on the given calendar date.
func OnDate(date time.Time, start, end TimeOfDay, loc *time.Location) (TimeRange, error) {
	return New(start.On(date, loc), end.On(date, loc))
}

// ParseDate parses YYYY-MM-DD into a UTC midnight value.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidRange, s)
	}
	return d, nil
}

// DateOf truncates t to its calendar date, as seen in t's own location, and
// returns it as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// Days returns every calendar date from 'from' to 'to', both inclusive.
func Days(from, to time.Time) []time.Time {
	from, to = DateOf(from), DateOf(to)
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
