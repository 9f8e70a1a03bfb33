package geocode

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/singleflight"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/metrics"
	"github.com/chadn/cmf-sub002/internal/model"
)

// ResolverConfig controls caching policy.
type ResolverConfig struct {
	// CacheUnresolved writes definitive "unresolved" outcomes (the service
	// found nothing) through to the cache. Outages, cancellations and a
	// missing credential are never cached.
	CacheUnresolved bool
}

// Resolver turns one location string into a ResolvedLocation, trying the
// custom parsers before the geocoder and consulting the cache first.
// It never returns an error: every failure degrades to "unresolved".
type Resolver struct {
	cache    Cache
	geocoder Geocoder
	parsers  []Parser
	cfg      ResolverConfig
	group    singleflight.Group
}

// NewResolver wires a resolver. cache and geocoder may be nil; parsers nil
// means DefaultParsers.
func NewResolver(cache Cache, geocoder Geocoder, parsers []Parser, cfg ResolverConfig) *Resolver {
	if parsers == nil {
		parsers = DefaultParsers()
	}
	return &Resolver{
		cache:    cache,
		geocoder: geocoder,
		parsers:  parsers,
		cfg:      cfg,
	}
}

// Resolve resolves a single location string.
func (r *Resolver) Resolve(ctx context.Context, location string) model.ResolvedLocation {
	key := strings.TrimSpace(location)
	if key == "" {
		return model.Unresolved(location)
	}

	// Concurrent callers for the same key share one lookup. It runs detached
	// from this caller's cancellation so other waiters are not failed by it.
	ch := r.group.DoChan(key, func() (any, error) {
		return r.resolveKey(context.WithoutCancel(ctx), key), nil
	})
	select {
	case res := <-ch:
		return res.Val.(model.ResolvedLocation)
	case <-ctx.Done():
		return model.Unresolved(key)
	}
}

func (r *Resolver) resolveKey(ctx context.Context, key string) model.ResolvedLocation {
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key)
		if err != nil {
			appLog.Error("location cache get failed", err, "key", key)
		} else if cached != nil {
			metrics.GeocodeCacheLookups.WithLabelValues("hit").Inc()
			return *cached
		}
		metrics.GeocodeCacheLookups.WithLabelValues("miss").Inc()
	}

	res, method, definitive := r.lookup(ctx, key)
	metrics.GeocodeResolutions.WithLabelValues(method, string(res.Status)).Inc()

	if r.cache != nil && definitive && (res.Status == model.StatusResolved || r.cfg.CacheUnresolved) {
		if err := r.cache.Set(ctx, key, res); err != nil {
			appLog.Error("location cache set failed", err, "key", key)
		}
	}
	return res
}

// lookup runs parsers then the geocoder. It returns the result, the method
// that produced it (for metrics) and whether the outcome is definitive and
// may be cached. Only a resolved result or a "no results" answer is.
func (r *Resolver) lookup(ctx context.Context, key string) (model.ResolvedLocation, string, bool) {
	for _, p := range r.parsers {
		if res, ok := p.Parse(key); ok {
			appLog.Debug("location parsed locally", "key", key, "parser", p.Name)
			return res, p.Name, true
		}
	}

	if r.geocoder == nil {
		return model.Unresolved(key), "none", false
	}

	res, err := r.geocoder.Geocode(ctx, key)
	switch {
	case errors.Is(err, ErrNoResults):
		return model.Unresolved(key), "geocoder", true
	case err != nil:
		appLog.Warn("geocoding failed", "key", key, "err", err)
		return model.Unresolved(key), "geocoder", false
	}
	res.OriginalLocation = key
	if !res.IsResolved() {
		return model.Unresolved(key), "geocoder", false
	}
	return res, "geocoder", true
}
