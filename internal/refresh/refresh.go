// Package refresh keeps the events cache warm on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/source"
)

// NoExpiry is the TTL warmed entries are stored with.
const NoExpiry time.Duration = -1

// Warmer fetches one source and stores the result in the events cache.
type Warmer interface {
	Warm(ctx context.Context, id string, w source.Window, ttl time.Duration) (int, error)
}

// Purger drops expired cache entries.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Config controls what is warmed and when.
type Config struct {
	// Spec is a standard 5-field cron expression or descriptor ("@hourly").
	Spec string
	// Sources are full source ids ("ics:team", "csv:community").
	Sources []string
	// Location anchors day boundaries and the cron schedule.
	Location     *time.Location
	HorizonDays  int
	BackfillDays int
	// Purger, if set, runs after each warming pass.
	Purger Purger
}

// Refresher runs Warm for every configured source on Spec.
type Refresher struct {
	cfg    Config
	warmer Warmer
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// New validates cfg.Spec and builds a stopped Refresher.
func New(warmer Warmer, cfg Config) (*Refresher, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", cfg.Spec, err)
	}
	logger := cronLogger{}
	return &Refresher{
		cfg:    cfg,
		warmer: warmer,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		now: time.Now,
	}, nil
}

// Window is the range warmed at now: from midnight BackfillDays ago to
// midnight HorizonDays ahead, in loc. Day-aligned bounds keep cache keys
// stable for a whole day.
func Window(now time.Time, loc *time.Location, backfillDays, horizonDays int) source.Window {
	if loc == nil {
		loc = time.UTC
	}
	n := now.In(loc)
	day := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return source.Window{
		TimeMin: day.AddDate(0, 0, -backfillDays),
		TimeMax: day.AddDate(0, 0, horizonDays+1),
	}
}

// Start schedules warming and runs one pass immediately in the background.
func (r *Refresher) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.cfg.Spec, func() { _ = r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("refresh: schedule: %w", err)
	}
	r.cron.Start()
	go func() { _ = r.RunOnce(ctx) }()
	appLog.Info("cache warming scheduled", "spec", r.cfg.Spec, "sources", len(r.cfg.Sources))
	return nil
}

// Stop halts the schedule. The returned context is done once a running
// pass has finished.
func (r *Refresher) Stop() context.Context {
	return r.cron.Stop()
}

// RunOnce warms every source sequentially. Failures are logged and joined;
// one failing source does not stop the others.
func (r *Refresher) RunOnce(ctx context.Context) error {
	w := Window(r.now(), r.cfg.Location, r.cfg.BackfillDays, r.cfg.HorizonDays)
	start := time.Now()

	var errs []error
	total := 0
	for _, id := range r.cfg.Sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := r.warmer.Warm(ctx, id, w, NoExpiry)
		if err != nil {
			appLog.Error("cache warm failed", err, "source", id)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		total += n
	}
	if r.cfg.Purger != nil && ctx.Err() == nil {
		n, err := r.cfg.Purger.Purge(ctx)
		if err != nil {
			appLog.Error("cache purge failed", err)
			errs = append(errs, err)
		} else if n > 0 {
			appLog.Debug("expired cache entries purged", "count", n)
		}
	}
	err := errors.Join(errs...)

	r.mu.Lock()
	r.lastRun = start
	r.lastErr = err
	r.mu.Unlock()

	appLog.Info("cache warming pass done",
		"sources", len(r.cfg.Sources),
		"events", total,
		"failed", len(errs),
		"took", time.Since(start),
	)
	return err
}

// Last reports when the latest pass started and how it ended.
func (r *Refresher) Last() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastErr
}

// cronLogger routes cron's internal logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
