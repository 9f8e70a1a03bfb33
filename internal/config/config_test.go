package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	return path
}

const sampleYAML = `
listen: "0.0.0.0:9000"
timezone: "America/Los_Angeles"
horizon_days: 14
events_cache_ttl: 5m
geocoding:
  batch_size: 4
  batch_delay: 250ms
  cache_unresolved: false
ics:
  - id: "team"
    name: "Team calendar"
    url: "https://example.com/team.ics"
sheets:
  - id: "shows"
    name: "Shows"
    url: "https://example.com/shows.csv"
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.HorizonDays != 14 {
		t.Errorf("HorizonDays = %d, want 14", cfg.HorizonDays)
	}
	if cfg.EventsCacheTTL != 5*time.Minute {
		t.Errorf("EventsCacheTTL = %v, want 5m", cfg.EventsCacheTTL)
	}
	if cfg.Geocoding.BatchSize != 4 {
		t.Errorf("BatchSize = %d, want 4", cfg.Geocoding.BatchSize)
	}
	if cfg.Geocoding.BatchDelay != 250*time.Millisecond {
		t.Errorf("BatchDelay = %v, want 250ms", cfg.Geocoding.BatchDelay)
	}
	if cfg.Geocoding.CacheUnresolved == nil || *cfg.Geocoding.CacheUnresolved {
		t.Errorf("CacheUnresolved should be explicitly false")
	}
	if cfg.Geocoding.Endpoint != defaultEndpoint {
		t.Errorf("Endpoint = %q, want default", cfg.Geocoding.Endpoint)
	}
	if len(cfg.ICS) != 1 || cfg.ICS[0].ID != "team" {
		t.Errorf("ICS = %+v", cfg.ICS)
	}
	if len(cfg.Sheets) != 1 || cfg.Sheets[0].URL != "https://example.com/shows.csv" {
		t.Errorf("Sheets = %+v", cfg.Sheets)
	}
	if cfg.Location().String() != "America/Los_Angeles" {
		t.Errorf("Location = %v", cfg.Location())
	}
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Geocoding.CacheUnresolved == nil || !*cfg.Geocoding.CacheUnresolved {
		t.Errorf("CacheUnresolved should default to true")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if again.Geocoding.BatchSize != defaultBatchSize {
		t.Errorf("BatchSize = %d after reload", again.Geocoding.BatchSize)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "listen: [unterminated")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GEOCODING_API_KEY", "from-env")
	t.Setenv("CMF_LISTEN", ":7000")

	cfg := DefaultConfig()
	cfg.Geocoding.APIKey = "from-file"
	cfg.ApplyEnv()

	if cfg.Geocoding.APIKey != "from-env" {
		t.Errorf("APIKey = %q", cfg.Geocoding.APIKey)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
}

func TestLocation_InvalidFallsBackToUTC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Invalid/Zone"
	if cfg.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location())
	}
}
