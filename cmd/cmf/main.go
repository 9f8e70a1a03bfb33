package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chadn/cmf-sub002/internal/config"
	"github.com/chadn/cmf-sub002/internal/geocode"
	"github.com/chadn/cmf-sub002/internal/ics"
	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/refresh"
	"github.com/chadn/cmf-sub002/internal/sheet"
	"github.com/chadn/cmf-sub002/internal/source"
	"github.com/chadn/cmf-sub002/internal/store"
	"github.com/chadn/cmf-sub002/internal/web"
)

const sourceTimeout = 30 * time.Second

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	if err := godotenv.Load(); err != nil {
		appLog.Debug("no .env loaded", "err", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("cmf starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"ics_count", len(conf.ICS),
		"sheet_count", len(conf.Sheets),
		"geocoding", conf.Geocoding.APIKey != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("cmf exited with error", err)
		os.Exit(1)
	}
	appLog.Info("cmf exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	db, err := store.Open(ctx, filepath.Join(conf.DataDir, "cmf.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	locStore := store.NewLocationStore(db)
	eventsCache := store.NewEventsCache(db)

	mem, err := geocode.NewMemoryCache(conf.Geocoding.MemoryCacheSize)
	if err != nil {
		return err
	}
	var geocoder geocode.Geocoder
	if conf.Geocoding.APIKey != "" {
		geocoder = geocode.NewGoogleGeocoder(conf.Geocoding.Endpoint, conf.Geocoding.APIKey, conf.Geocoding.Timeout)
	} else {
		appLog.Warn("GEOCODING_API_KEY not set; only coordinate strings will resolve")
	}
	resolver := geocode.NewResolver(
		geocode.LayeredCache{Front: mem, Back: locStore},
		geocoder,
		geocode.DefaultParsers(),
		geocode.ResolverConfig{CacheUnresolved: *conf.Geocoding.CacheUnresolved},
	)
	batch := geocode.NewBatchResolver(resolver, geocode.BatchConfig{
		Size:  conf.Geocoding.BatchSize,
		Delay: conf.Geocoding.BatchDelay,
	})

	reg := source.NewRegistry()
	icsFetcher := ics.NewFetcher(filepath.Join(conf.DataDir, "ics-cache"), sourceTimeout)
	if err := reg.Register(ics.Prefix, ics.NewAdapter(icsFetcher, conf.ICS)); err != nil {
		return err
	}
	if err := reg.Register(sheet.Prefix, sheet.NewAdapter(conf.Sheets, sourceTimeout)); err != nil {
		return err
	}
	svc := source.NewService(reg, eventsCache, conf.EventsCacheTTL, batch)

	ids := configuredSources(conf)
	loc := conf.Location()

	refreshCfg := refresh.Config{
		Spec:         conf.RefreshCron,
		Sources:      ids,
		Location:     loc,
		HorizonDays:  conf.HorizonDays,
		BackfillDays: conf.BackfillDays,
		Purger:       eventsCache,
	}

	if once {
		if refreshCfg.Spec == "" {
			refreshCfg.Spec = "@hourly"
		}
		r, err := refresh.New(svc, refreshCfg)
		if err != nil {
			return err
		}
		return r.RunOnce(ctx)
	}

	if conf.RefreshCron != "" {
		r, err := refresh.New(svc, refreshCfg)
		if err != nil {
			return err
		}
		if err := r.Start(ctx); err != nil {
			return err
		}
		defer func() { <-r.Stop().Done() }()
	} else {
		appLog.Info("cache warming disabled")
	}

	srv := web.NewServer(svc, locStore, mem, web.Options{
		DefaultSources: ids,
		Location:       loc,
		BackfillDays:   conf.BackfillDays,
		HorizonDays:    conf.HorizonDays,
		BasicAuth:      conf.BasicAuth,
	})
	return srv.ListenAndServe(ctx, conf.Listen)
}

// configuredSources returns the full ids of every configured feed.
func configuredSources(conf *config.Config) []string {
	ids := make([]string, 0, len(conf.ICS)+len(conf.Sheets))
	for _, c := range conf.ICS {
		ids = append(ids, ics.Prefix+c.ID)
	}
	for _, c := range conf.Sheets {
		ids = append(ids, sheet.Prefix+c.ID)
	}
	return ids
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/cmf/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Warm the events cache once and exit")

	flag.Parse()

	return cfg
}
