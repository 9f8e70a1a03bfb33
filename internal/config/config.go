package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes a single configured feed (ICS subscription or
// published spreadsheet CSV).
type SourceConfig struct {
	// ID is the suffix after the adapter prefix, e.g. "team" for "ics:team".
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
	// URL is the feed endpoint.
	URL string `yaml:"url" json:"url"`
}

// GeocodingConfig controls location resolution.
type GeocodingConfig struct {
	// APIKey is the geocoding credential. GEOCODING_API_KEY overrides it.
	APIKey string `yaml:"api_key" json:"-"`
	// Endpoint is the geocoding JSON endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// BatchSize is the number of lookups run concurrently per batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BatchDelay is the pause between consecutive batches.
	BatchDelay time.Duration `yaml:"batch_delay" json:"batch_delay"`

	// CacheUnresolved stores "unresolved" outcomes so known-bad strings are
	// not sent to the API again. Operators evict them via /api/locations.
	CacheUnresolved *bool `yaml:"cache_unresolved" json:"cache_unresolved"`

	// MemoryCacheSize bounds the in-process LRU in front of the store.
	MemoryCacheSize int `yaml:"memory_cache_size" json:"memory_cache_size"`

	// Timeout bounds a single geocoding HTTP call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for cache-warming windows.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used to warm the events cache. Empty disables warming.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays / BackfillDays define the warmed window around now.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// DataDir holds the SQLite database and the ICS HTTP cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// EventsCacheTTL is how long fetched source responses are reused.
	EventsCacheTTL time.Duration `yaml:"events_cache_ttl" json:"events_cache_ttl"`

	// BasicAuth, if set with both fields, guards every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Geocoding GeocodingConfig `yaml:"geocoding" json:"geocoding"`

	// ICS is the list of subscribed ICS sources ("ics:<id>").
	ICS []SourceConfig `yaml:"ics" json:"ics"`

	// Sheets is the list of published spreadsheet CSV sources ("csv:<id>").
	Sheets []SourceConfig `yaml:"sheets" json:"sheets"`
}

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "UTC"
	defaultRefreshCron     = "*/15 * * * *"
	defaultHorizonDays     = 30
	defaultBackfillDays    = 1
	defaultDataDir         = "./var"
	defaultEventsCacheTTL  = 10 * time.Minute
	defaultEndpoint        = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultBatchSize       = 10
	defaultBatchDelay      = 100 * time.Millisecond
	defaultMemoryCacheSize = 4096
	defaultGeocodeTimeout  = 10 * time.Second
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cacheUnresolved := true
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		LogLevel:       "info",
		RefreshCron:    defaultRefreshCron,
		HorizonDays:    defaultHorizonDays,
		BackfillDays:   defaultBackfillDays,
		DataDir:        defaultDataDir,
		EventsCacheTTL: defaultEventsCacheTTL,
		Geocoding: GeocodingConfig{
			Endpoint:        defaultEndpoint,
			BatchSize:       defaultBatchSize,
			BatchDelay:      defaultBatchDelay,
			CacheUnresolved: &cacheUnresolved,
			MemoryCacheSize: defaultMemoryCacheSize,
			Timeout:         defaultGeocodeTimeout,
		},
		ICS:    []SourceConfig{},
		Sheets: []SourceConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	// An explicit empty refresh disables warming, so RefreshCron is left as-is.
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.EventsCacheTTL == 0 {
		c.EventsCacheTTL = defaultEventsCacheTTL
	}

	g := &c.Geocoding
	if g.Endpoint == "" {
		g.Endpoint = defaultEndpoint
	}
	if g.BatchSize <= 0 {
		g.BatchSize = defaultBatchSize
	}
	if g.BatchDelay < 0 {
		g.BatchDelay = 0
	}
	if g.CacheUnresolved == nil {
		v := true
		g.CacheUnresolved = &v
	}
	if g.MemoryCacheSize <= 0 {
		g.MemoryCacheSize = defaultMemoryCacheSize
	}
	if g.Timeout <= 0 {
		g.Timeout = defaultGeocodeTimeout
	}

	if c.ICS == nil {
		c.ICS = []SourceConfig{}
	}
	if c.Sheets == nil {
		c.Sheets = []SourceConfig{}
	}
}

// ApplyEnv overrides values from the environment. GEOCODING_API_KEY wins over
// the key stored in the YAML file so the file can be committed without it.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GEOCODING_API_KEY"); v != "" {
		c.Geocoding.APIKey = v
	}
	if v := os.Getenv("CMF_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CMF_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cmf-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
