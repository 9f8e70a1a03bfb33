// Package filter computes the visible event set for a map+list view and,
// per filter, how many events that filter alone hides.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/chadn/cmf-sub002/internal/model"
	"github.com/chadn/cmf-sub002/internal/timerange"
)

var (
	ErrInvalidDateRange = errors.New("filter: invalid date range")
	ErrInvalidBounds    = errors.New("filter: invalid map bounds")
)

// State is an immutable filter selection. Zero value constrains nothing.
type State struct {
	DateRange            *model.DateRange `json:"date_range,omitempty"`
	SearchQuery          string           `json:"search_query,omitempty"`
	MapBounds            *model.MapBounds `json:"map_bounds,omitempty"`
	UnknownLocationsOnly bool             `json:"unknown_locations_only"`
}

// WithDateRange returns a copy with r applied; nil clears the filter.
// An unparseable range or start after end is rejected and s is returned unchanged.
func (s State) WithDateRange(r *model.DateRange) (State, error) {
	if r == nil {
		s.DateRange = nil
		return s, nil
	}
	if _, err := timerange.NewMatcher(*r); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidDateRange, err)
	}
	cp := *r
	s.DateRange = &cp
	return s, nil
}

// WithSearchQuery returns a copy with q applied; blank clears the filter.
func (s State) WithSearchQuery(q string) State {
	s.SearchQuery = strings.TrimSpace(q)
	return s
}

// WithMapBounds returns a copy with b applied; nil clears the filter.
// South above North, or any value out of range, is rejected.
func (s State) WithMapBounds(b *model.MapBounds) (State, error) {
	if b == nil {
		s.MapBounds = nil
		return s, nil
	}
	if err := validateBounds(*b); err != nil {
		return s, err
	}
	cp := *b
	s.MapBounds = &cp
	return s, nil
}

// WithUnknownLocationsOnly returns a copy with the toggle set.
func (s State) WithUnknownLocationsOnly(on bool) State {
	s.UnknownLocationsOnly = on
	return s
}

func validateBounds(b model.MapBounds) error {
	switch {
	case b.South > b.North:
		return fmt.Errorf("%w: south %v above north %v", ErrInvalidBounds, b.South, b.North)
	case b.South < -90 || b.North > 90:
		return fmt.Errorf("%w: latitude out of range", ErrInvalidBounds)
	case b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180:
		return fmt.Errorf("%w: longitude out of range", ErrInvalidBounds)
	}
	return nil
}

// HiddenCounts holds, per filter, the number of events that pass every
// other active filter but fail this one.
type HiddenCounts struct {
	ByMap            int `json:"by_map"`
	BySearch         int `json:"by_search"`
	ByDate           int `json:"by_date"`
	ByLocationFilter int `json:"by_location_filter"`
}

// View is the result of applying a State to an event set. Slices may be
// shared with the holder and must not be modified.
type View struct {
	VisibleEvents []model.Event `json:"visible_events"`
	AllEvents     []model.Event `json:"all_events"`
	HiddenCounts  HiddenCounts  `json:"hidden_counts"`
}

// predicates evaluates the four filters for one State.
type predicates struct {
	matcher *timerange.Matcher
	query   string
	bounds  *model.MapBounds
	unknown bool
	fold    cases.Caser
}

func newPredicates(s State) predicates {
	p := predicates{bounds: s.MapBounds, unknown: s.UnknownLocationsOnly, fold: cases.Fold()}
	if s.DateRange != nil {
		// State setters reject bad ranges; a hand-built bad State filters nothing.
		if m, err := timerange.NewMatcher(*s.DateRange); err == nil {
			p.matcher = m
		}
	}
	if s.SearchQuery != "" {
		p.query = p.fold.String(s.SearchQuery)
	}
	return p
}

// passesMap: without bounds everything passes. Events with no coordinates
// cannot be placed on the map, so the map never hides them: they pass here,
// are never counted in ByMap, and are left to the unknown-locations filter.
func (p *predicates) passesMap(e *model.Event) bool {
	if p.bounds == nil {
		return true
	}
	rl := e.ResolvedLocation
	if !rl.IsResolved() {
		return true
	}
	return p.bounds.Contains(*rl.Lat, *rl.Lng)
}

func (p *predicates) passesDate(e *model.Event) bool {
	if p.matcher == nil {
		return true
	}
	return p.matcher.Contains(*e)
}

// passesSearch is a case-insensitive substring match over name,
// description and location.
func (p *predicates) passesSearch(e *model.Event) bool {
	if p.query == "" {
		return true
	}
	for _, field := range []string{e.Name, e.Description, e.Location} {
		if field != "" && strings.Contains(p.fold.String(field), p.query) {
			return true
		}
	}
	return false
}

// passesLocationFilter keeps only events without coordinates when the
// unknown-locations toggle is on.
func (p *predicates) passesLocationFilter(e *model.Event) bool {
	if !p.unknown {
		return true
	}
	return !e.ResolvedLocation.IsResolved()
}

// ComputeView applies s to events. It does not modify events.
func ComputeView(events []model.Event, s State) View {
	p := newPredicates(s)
	v := View{
		VisibleEvents: make([]model.Event, 0, len(events)),
		AllEvents:     events,
	}
	if v.AllEvents == nil {
		v.AllEvents = []model.Event{}
	}

	for i := range events {
		e := &events[i]
		m := p.passesMap(e)
		d := p.passesDate(e)
		q := p.passesSearch(e)
		l := p.passesLocationFilter(e)

		switch {
		case m && d && q && l:
			v.VisibleEvents = append(v.VisibleEvents, *e)
		case !m && d && q && l:
			v.HiddenCounts.ByMap++
		case m && !d && q && l:
			v.HiddenCounts.ByDate++
		case m && d && !q && l:
			v.HiddenCounts.BySearch++
		case m && d && q && !l:
			v.HiddenCounts.ByLocationFilter++
		}
	}
	return v
}
