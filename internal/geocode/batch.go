package geocode

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/metrics"
	"github.com/chadn/cmf-sub002/internal/model"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
)

// BatchConfig tunes BatchResolver fan-out and pacing.
type BatchConfig struct {
	// Size is the number of lookups run concurrently in one batch.
	Size int
	// Delay is the pause between consecutive batches.
	Delay time.Duration
}

// LocationResolver is the single-item contract BatchResolver depends on.
type LocationResolver interface {
	Resolve(ctx context.Context, location string) model.ResolvedLocation
}

// BatchResolver resolves many location strings with bounded concurrency
// and a fixed delay between batches.
type BatchResolver struct {
	resolver LocationResolver
	cfg      BatchConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewBatchResolver wraps resolver. Zero config values take the defaults.
func NewBatchResolver(resolver LocationResolver, cfg BatchConfig) *BatchResolver {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBatchSize
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &BatchResolver{resolver: resolver, cfg: cfg, sleep: sleepCtx}
}

// ResolveAll returns one result per unique input, in order of first
// occurrence. Uniqueness is by exact string. Items not reached because ctx
// was cancelled come back "unresolved".
func (b *BatchResolver) ResolveAll(ctx context.Context, locations []string) []model.ResolvedLocation {
	unique := Unique(locations)
	if len(unique) == 0 {
		return []model.ResolvedLocation{}
	}

	start := time.Now()
	defer func() { metrics.GeocodeBatchDuration.Observe(time.Since(start).Seconds()) }()

	out := make([]model.ResolvedLocation, len(unique))
	for i := range out {
		out[i] = model.Unresolved(unique[i])
	}

	for lo := 0; lo < len(unique); lo += b.cfg.Size {
		if lo > 0 && b.cfg.Delay > 0 {
			if err := b.sleep(ctx, b.cfg.Delay); err != nil {
				appLog.Warn("batch resolve interrupted", "done", lo, "total", len(unique), "err", err)
				break
			}
		}
		hi := min(lo+b.cfg.Size, len(unique))

		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				res := b.resolver.Resolve(ctx, unique[i])
				if res.OriginalLocation == "" {
					res.OriginalLocation = unique[i]
				}
				out[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}

	appLog.Debug("batch resolve completed", "unique", len(unique), "input", len(locations), "elapsed", time.Since(start))
	return out
}

// ResolveMap is ResolveAll keyed by the original string.
func (b *BatchResolver) ResolveMap(ctx context.Context, locations []string) map[string]model.ResolvedLocation {
	unique := Unique(locations)
	res := b.ResolveAll(ctx, unique)
	m := make(map[string]model.ResolvedLocation, len(res))
	for i, r := range res {
		m[unique[i]] = r
	}
	return m
}

// Unique de-duplicates in order of first occurrence.
func Unique(locations []string) []string {
	seen := make(map[string]struct{}, len(locations))
	out := make([]string, 0, len(locations))
	for _, l := range locations {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
