package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/timerange"
)

// vevent is one parsed VEVENT before recurrence expansion.
type vevent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool
	// Zone is the TZID of DTSTART when it names a loadable IANA zone.
	Zone string

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// stamp is a parsed DATE or DATE-TIME value.
type stamp struct {
	t      time.Time
	allDay bool
	zone   string
}

// parseCalendar parses an ICS payload. VEVENTs that cannot be parsed are
// logged and skipped.
func parseCalendar(id string, body []byte) ([]vevent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", id, err)
	}

	out := make([]vevent, 0)
	for _, comp := range cal.Events() {
		ev, err := parseVEvent(comp)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", id, "err", err)
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics parse completed", "id", id, "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var out vevent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	start, err := parseStamp(dtStart)
	if err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}
	out.Start, out.AllDay, out.Zone = start.t, start.allDay, start.zone

	switch dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtEnd != nil:
		end, err := parseStamp(dtEnd)
		if err != nil {
			return out, fmt.Errorf("%s: DTEND: %w", out.UID, err)
		}
		out.End = end.t
	case out.AllDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := param(p.ICalParameters, "TZID")
		for _, part := range strings.Split(p.Value, ",") {
			if s, err := parseValue(part, tzid); err == nil {
				out.ExDates = append(out.ExDates, s.t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if s, err := parseStamp(p); err == nil {
			out.RecurrenceID = &s.t
		}
	}
	return out, nil
}

func parseStamp(p *ical.IANAProperty) (stamp, error) {
	s, err := parseValue(p.Value, param(p.ICalParameters, "TZID"))
	if err != nil {
		return s, err
	}
	if strings.EqualFold(param(p.ICalParameters, "VALUE"), "DATE") {
		s.allDay = true
	}
	return s, nil
}

func param(params map[string][]string, name string) string {
	if vs, ok := params[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseValue parses DATE (20250101), UTC DATE-TIME (20250101T090000Z) and
// local DATE-TIME with an optional TZID. Local times whose TZID cannot be
// loaded, and floating times, are read as UTC.
func parseValue(v, tzid string) (stamp, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return stamp{}, errors.New("empty time value")
	case !strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102", v, time.UTC)
		return stamp{t: t, allDay: true}, err
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return stamp{t: t}, err
	}

	loc := time.UTC
	zone := ""
	if tzid != "" {
		if l, ok := timerange.Zone(tzid); ok {
			loc, zone = l, tzid
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return stamp{t: t, zone: zone}, err
}
