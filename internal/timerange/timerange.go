// Package timerange decides whether an event overlaps a UTC date range,
// honoring the event's own timezone.
package timerange

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
)

// ErrEmptyTime is returned when a time string is blank.
var ErrEmptyTime = errors.New("timerange: empty time")

// naiveLayouts are accepted for strings without a UTC offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var zones sync.Map // name -> *time.Location, or nil for invalid names

// Zone returns the location for an event tz. Empty, UNKNOWN, LOCAL and
// unrecognized names all map to UTC; ok is false only for unrecognized names.
func Zone(tz string) (loc *time.Location, ok bool) {
	switch tz {
	case "", model.TZUnknown, model.TZLocal:
		return time.UTC, true
	}
	if v, found := zones.Load(tz); found {
		if v == nil {
			return time.UTC, false
		}
		return v.(*time.Location), true
	}
	l, err := time.LoadLocation(tz)
	if err != nil {
		zones.Store(tz, nil)
		appLog.Warn("unknown event timezone, comparing as UTC", "tz", tz, "err", err)
		return time.UTC, false
	}
	zones.Store(tz, l)
	return l, true
}

// ParseInstant parses an ISO-8601 string. Strings with an explicit offset
// or Z are absolute; naive strings are wall clock in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyTime
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timerange: unsupported time %q", s)
}

// EventInterval returns the event's start and end as UTC instants. A
// missing end collapses to the start.
func EventInterval(e model.Event) (start, end time.Time, err error) {
	loc, _ := Zone(e.TZ)
	start, err = ParseInstant(e.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s start: %w", e.ID, err)
	}
	if strings.TrimSpace(e.End) == "" {
		return start, start, nil
	}
	end, err = ParseInstant(e.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s end: %w", e.ID, err)
	}
	return start, end, nil
}

// Matcher tests events against one pre-parsed range.
type Matcher struct {
	start time.Time
	end   time.Time
}

// NewMatcher parses r. Both bounds are required and start must not be after end.
func NewMatcher(r model.DateRange) (*Matcher, error) {
	start, err := ParseInstant(r.StartISO, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("range start: %w", err)
	}
	end, err := ParseInstant(r.EndISO, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("range end: %w", err)
	}
	if start.After(end) {
		return nil, fmt.Errorf("timerange: start %s is after end %s", r.StartISO, r.EndISO)
	}
	return &Matcher{start: start, end: end}, nil
}

// Bounds returns the parsed range.
func (m *Matcher) Bounds() (start, end time.Time) {
	return m.start, m.end
}

// Contains reports whether e overlaps the range, both ends inclusive.
// Events whose times cannot be parsed never match.
func (m *Matcher) Contains(e model.Event) bool {
	start, end, err := EventInterval(e)
	if err != nil {
		appLog.Debug("event time unparseable", "id", e.ID, "err", err)
		return false
	}
	return Overlaps(start, end, m.start, m.end)
}

// InRange is the one-shot form of NewMatcher(r).Contains(e). An invalid
// range matches nothing.
func InRange(e model.Event, r model.DateRange) bool {
	m, err := NewMatcher(r)
	if err != nil {
		appLog.Warn("invalid date range", "start", r.StartISO, "end", r.EndISO, "err", err)
		return false
	}
	return m.Contains(e)
}

// Overlaps reports whether [aStart, aEnd] and [bStart, bEnd] intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
