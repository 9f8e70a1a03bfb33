// Package ics serves "ics:<id>" sources from configured ICS subscriptions.
package ics

import (
	"context"
	"fmt"
	"time"

	"github.com/chadn/cmf-sub002/internal/config"
	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
	"github.com/chadn/cmf-sub002/internal/source"
	"github.com/chadn/cmf-sub002/internal/timerange"
)

// Prefix is the source id prefix handled by Adapter.
const Prefix = "ics:"

// Adapter implements source.Adapter over a fixed set of feeds.
type Adapter struct {
	fetcher *Fetcher
	feeds   map[string]config.SourceConfig
	// MaxOccurrencesPerEvent caps RRULE expansion; zero means default.
	MaxOccurrencesPerEvent int
}

// NewAdapter indexes feeds by id. Duplicate ids keep the first entry.
func NewAdapter(fetcher *Fetcher, feeds []config.SourceConfig) *Adapter {
	a := &Adapter{fetcher: fetcher, feeds: make(map[string]config.SourceConfig, len(feeds))}
	for _, f := range feeds {
		if _, dup := a.feeds[f.ID]; dup {
			appLog.Warn("duplicate ics feed id ignored", "id", f.ID)
			continue
		}
		a.feeds[f.ID] = f
	}
	return a
}

// Fetch downloads, parses and expands the feed named by sourceID, keeping
// only events overlapping w.
func (a *Adapter) Fetch(ctx context.Context, sourceID string, w source.Window) (model.SourceResponse, error) {
	_, id, ok := source.SplitID(sourceID)
	feed, found := a.feeds[id]
	if !ok || !found {
		return model.SourceResponse{}, fmt.Errorf("%w: %s", source.ErrUnknownSource, sourceID)
	}

	matcher, err := timerange.NewMatcher(model.DateRange{
		StartISO: w.TimeMin.UTC().Format(time.RFC3339),
		EndISO:   w.TimeMax.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return model.SourceResponse{}, fmt.Errorf("ics: %w", err)
	}
	rangeStart, rangeEnd := matcher.Bounds()

	body, fromCache, err := a.fetcher.Fetch(ctx, id, feed.URL)
	if err != nil {
		return model.SourceResponse{}, err
	}
	parsed, err := parseCalendar(id, body)
	if err != nil {
		return model.SourceResponse{}, err
	}
	expanded, err := expand(parsed, expandConfig{
		RangeStart:             rangeStart,
		RangeEnd:               rangeEnd,
		MaxOccurrencesPerEvent: a.MaxOccurrencesPerEvent,
	})
	if err != nil {
		return model.SourceResponse{}, err
	}

	events := make([]model.Event, 0, len(expanded))
	for _, e := range expanded {
		if matcher.Contains(e) {
			events = append(events, e)
		}
	}

	name := feed.Name
	if name == "" {
		name = id
	}
	appLog.Info("ics source loaded", "source", sourceID, "events", len(events), "from_cache", fromCache)
	return model.SourceResponse{
		Events: events,
		Source: model.SourceInfo{
			ID:         sourceID,
			Name:       name,
			TotalCount: len(events),
			URL:        redactURL(feed.URL),
		},
	}, nil
}
