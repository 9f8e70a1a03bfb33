package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
	"github.com/chadn/cmf-sub002/internal/timerange"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	naiveLayout = "2006-01-02T15:04:05"
	dateLayout  = "2006-01-02"
	instanceKey = "20060102T150405Z"
)

// expandConfig bounds recurrence expansion.
type expandConfig struct {
	RangeStart time.Time
	RangeEnd   time.Time
	// MaxOccurrencesPerEvent caps one RRULE's expansion; zero means default.
	MaxOccurrencesPerEvent int
}

// expand turns parsed VEVENTs into flat events overlapping the range.
// Recurring instances get the id UID@<UTC start>; overrides carrying a
// RECURRENCE-ID replace the matching instance. When a UID appears more than
// once as a base event, the highest SEQUENCE wins.
func expand(events []vevent, cfg expandConfig) ([]model.Event, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("ics: range end is before range start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	base := make(map[string]vevent)
	overrides := make(map[string][]vevent)
	order := make([]string, 0)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		prev, seen := base[ev.UID]
		if !seen {
			order = append(order, ev.UID)
		}
		if !seen || ev.Seq >= prev.Seq {
			base[ev.UID] = ev
		}
	}

	insts := make([]instance, 0)
	for _, uid := range order {
		ev := base[uid]
		if ev.RRule == "" {
			if timerange.Overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
				insts = append(insts, instance{ev: ev, id: ev.UID})
			}
			continue
		}
		occ, truncated := expandRecurring(ev, overrides[uid], cfg)
		if truncated {
			appLog.Warn("ics recurrence truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
		insts = append(insts, occ...)
	}

	sort.SliceStable(insts, func(i, j int) bool { return insts[i].ev.Start.Before(insts[j].ev.Start) })
	out := make([]model.Event, len(insts))
	for i, in := range insts {
		out[i] = toEvent(in.ev, in.id)
	}
	return out, nil
}

type instance struct {
	ev vevent
	id string
}

func expandRecurring(ev vevent, overrides []vevent, cfg expandConfig) ([]instance, bool) {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("ics RRULE unparseable", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by one duration so instances that started
	// before the range but are still running are kept.
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	truncated := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		truncated = true
	}

	out := make([]instance, 0, len(starts))
	for _, s := range starts {
		inst := ev
		inst.Start = s
		inst.End = s.Add(dur)
		if o, ok := findOverride(overrides, s); ok {
			inst = o
		}
		if !timerange.Overlaps(inst.Start, inst.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, instance{ev: inst, id: ev.UID + "@" + s.UTC().Format(instanceKey)})
	}
	return out, truncated
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, o := range overrides {
		if o.RecurrenceID != nil && o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return vevent{}, false
}

// toEvent formats ev. Zoned times are written as wall clock with the zone
// name in TZ, all-day events as dates with TZ LOCAL, everything else as
// UTC instants with TZ UNKNOWN.
func toEvent(ev vevent, id string) model.Event {
	e := model.Event{
		ID:          id,
		Name:        ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
	}
	switch {
	case ev.AllDay:
		e.Start = ev.Start.Format(dateLayout)
		// DTEND of an all-day event is exclusive
		end := ev.End.Add(-time.Second)
		if end.Before(ev.Start) {
			end = ev.Start
		}
		e.End = end.Format(naiveLayout)
		e.TZ = model.TZLocal
	case ev.Zone != "":
		loc := ev.Start.Location()
		e.Start = ev.Start.In(loc).Format(naiveLayout)
		e.End = ev.End.In(loc).Format(naiveLayout)
		e.TZ = ev.Zone
	default:
		e.Start = ev.Start.UTC().Format(time.RFC3339)
		e.End = ev.End.UTC().Format(time.RFC3339)
		e.TZ = model.TZUnknown
	}
	return e
}
