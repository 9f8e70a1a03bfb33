package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/metrics"
	"github.com/chadn/cmf-sub002/internal/model"
)

// EventsCache is the persistent response cache consulted before adapters.
type EventsCache interface {
	Get(ctx context.Context, sourceID string, ttl time.Duration, timeMin, timeMax time.Time) (*model.CachedResponse, error)
	Set(ctx context.Context, resp model.SourceResponse, sourceID string, ttl time.Duration, timeMin, timeMax time.Time) error
}

// LocationBatcher resolves many location strings at once.
type LocationBatcher interface {
	ResolveMap(ctx context.Context, locations []string) map[string]model.ResolvedLocation
}

// Service fetches, merges and geocodes events from registered sources.
type Service struct {
	registry  *Registry
	cache     EventsCache
	cacheTTL  time.Duration
	locations LocationBatcher
}

// NewService builds a Service. cache and locations may be nil.
func NewService(registry *Registry, cache EventsCache, cacheTTL time.Duration, locations LocationBatcher) *Service {
	return &Service{
		registry:  registry,
		cache:     cache,
		cacheTTL:  cacheTTL,
		locations: locations,
	}
}

// Fetch runs every source fetch in parallel and returns responses in the
// order of ids. A repeated id is fetched once, at its first position. Any
// single failure fails the whole call.
func (s *Service) Fetch(ctx context.Context, ids []string, w Window) ([]model.SourceResponse, error) {
	if len(ids) == 0 {
		return nil, &FetchError{StatusCode: http.StatusBadRequest, Err: errors.New("no source ids")}
	}
	ids = uniqueIDs(ids)
	out := make([]model.SourceResponse, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			resp, err := s.fetchOne(gctx, id, w)
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchOne serves id from the events cache when it can. After a failed cache
// read the fresh response is not written back, so a warmed entry that could
// not be read is never replaced by a short-lived one.
func (s *Service) fetchOne(ctx context.Context, id string, w Window) (model.SourceResponse, error) {
	writeBack := s.cache != nil
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id, s.cacheTTL, w.TimeMin, w.TimeMax)
		switch {
		case err != nil:
			appLog.Warn("events cache read failed", "source", id, "err", err)
			writeBack = false
		case cached != nil:
			metrics.EventsCacheLookups.WithLabelValues("hit").Inc()
			return cached.Response, nil
		default:
			metrics.EventsCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	resp, err := s.fetchAdapter(ctx, id, w)
	if err != nil {
		return model.SourceResponse{}, err
	}
	if writeBack {
		if err := s.cache.Set(ctx, resp, id, s.cacheTTL, w.TimeMin, w.TimeMax); err != nil {
			appLog.Warn("events cache write failed", "source", id, "err", err)
		}
	}
	return resp, nil
}

func (s *Service) fetchAdapter(ctx context.Context, id string, w Window) (model.SourceResponse, error) {
	adapter, prefix, err := s.registry.Lookup(id)
	if err != nil {
		return model.SourceResponse{}, newFetchError(id, err)
	}

	start := time.Now()
	resp, err := adapter.Fetch(ctx, id, w)
	metrics.SourceFetchDuration.WithLabelValues(prefix).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceFetchErrors.WithLabelValues(prefix).Inc()
		appLog.Error("source fetch failed", err, "source", id)
		return model.SourceResponse{}, newFetchError(id, err)
	}
	if resp.Source.ID == "" {
		resp.Source.ID = id
	}
	resp.Source.TotalCount = len(resp.Events)
	return resp, nil
}

// Warm fetches id straight from its adapter and stores the result with ttl,
// bypassing cached reads.
func (s *Service) Warm(ctx context.Context, id string, w Window, ttl time.Duration) (int, error) {
	if s.cache == nil {
		return 0, errors.New("source: no events cache configured")
	}
	resp, err := s.fetchAdapter(ctx, id, w)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Set(ctx, resp, id, ttl, w.TimeMin, w.TimeMax); err != nil {
		return 0, fmt.Errorf("source: warm %s: %w", id, err)
	}
	return len(resp.Events), nil
}

// Load fetches ids, merges them and attaches a ResolvedLocation to every
// event. Each source's UnknownLocationsCount is recomputed from the result.
func (s *Service) Load(ctx context.Context, ids []string, w Window) (Aggregated, error) {
	responses, err := s.Fetch(ctx, ids, w)
	if err != nil {
		return Aggregated{}, err
	}
	agg := Aggregate(responses)
	if len(agg.Duplicates) > 0 {
		appLog.Info("dropped duplicate events", "count", len(agg.Duplicates), "ids", agg.Duplicates)
	}
	if s.locations == nil {
		return agg, nil
	}

	locs := make([]string, 0, len(agg.Events))
	for _, e := range agg.Events {
		locs = append(locs, e.Location)
	}
	resolved := s.locations.ResolveMap(ctx, locs)

	unknown := make([]int, len(agg.Sources))
	for i := range agg.Events {
		e := &agg.Events[i]
		rl, ok := resolved[e.Location]
		if !ok {
			rl = model.Unresolved(e.Location)
		}
		e.ResolvedLocation = &rl
		if !rl.IsResolved() {
			if pos := sourcePos(agg, e); pos >= 0 {
				unknown[pos]++
			}
		}
	}
	for i := range agg.Sources {
		agg.Sources[i].UnknownLocationsCount = unknown[i]
	}
	return agg, nil
}

// sourcePos returns the position in agg.Sources of the source e came from,
// or -1.
func sourcePos(agg Aggregated, e *model.Event) int {
	if e.SourceIndex > 0 && e.SourceIndex <= len(agg.Sources) {
		return e.SourceIndex - 1
	}
	if len(agg.Sources) == 1 {
		return 0
	}
	return -1
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
