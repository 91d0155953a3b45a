package interval

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRange = errors.New("invalid time range")

// TimeRange is a half-open [start, end) span. The zero value is not a valid range;
// build one with New.
type TimeRange struct {
	start time.Time
	end   time.Time
}

func New(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeRange{start: start, end: end}, nil
}

// MustNew panics on an invalid range. Intended for literals in tests and fixtures.
func MustNew(start, end time.Time) TimeRange {
	r, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

func (r TimeRange) Start() time.Time        { return r.start }
func (r TimeRange) End() time.Time          { return r.end }
func (r TimeRange) Duration() time.Duration { return r.end.Sub(r.start) }
func (r TimeRange) IsZero() bool            { return r.start.IsZero() && r.end.IsZero() }

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.start.Format(time.RFC3339), r.end.Format(time.RFC3339))
}

// Overlaps reports whether a and b share any instant. Ranges that only touch
// (a.End == b.Start) do not overlap, so back-to-back bookings are allowed.
func Overlaps(a, b TimeRange) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

// Contains reports whether inner lies entirely within outer.
func Contains(outer, inner TimeRange) bool {
	return !inner.start.Before(outer.start) && !outer.end.Before(inner.end)
}
