package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chadn/cmf-sub002/internal/config"
	"github.com/chadn/cmf-sub002/internal/filter"
	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
	"github.com/chadn/cmf-sub002/internal/refresh"
	"github.com/chadn/cmf-sub002/internal/source"
	"github.com/chadn/cmf-sub002/internal/timerange"
)

// EventLoader fetches, merges and geocodes sources.
type EventLoader interface {
	Load(ctx context.Context, ids []string, w source.Window) (source.Aggregated, error)
}

// LocationAdmin is the operator view of the persistent location cache.
type LocationAdmin interface {
	List(ctx context.Context, status model.LocationStatus, limit int) ([]model.ResolvedLocation, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// Evicter drops a key from an in-process cache layer.
type Evicter interface {
	Remove(key string)
}

// Options configures request defaults.
type Options struct {
	// DefaultSources is used when a request names none.
	DefaultSources []string
	Location       *time.Location
	BackfillDays   int
	HorizonDays    int
	BasicAuth      *config.BasicAuthConfig
}

// Server is the JSON API: /health, /metrics, /api/events, /api/locations.
type Server struct {
	loader    EventLoader
	locations LocationAdmin
	front     Evicter
	opts      Options
	now       func() time.Time
	mux       *http.ServeMux
}

// NewServer wires the handlers. locations and front may be nil.
func NewServer(loader EventLoader, locations LocationAdmin, front Evicter, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Server{
		loader:    loader,
		locations: locations,
		front:     front,
		opts:      opts,
		now:       time.Now,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	b := s.opts.BasicAuth
	return b != nil && b.Username != "" && b.Password != ""
}

// basicAuthMiddleware guards every path except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="cmf", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/locations", s.handleListLocations)
	s.mux.HandleFunc("DELETE /api/locations", s.handleDeleteLocation)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON shape of /api/events.
type eventsResponse struct {
	filter.View
	Sources    []model.SourceInfo `json:"sources"`
	Duplicates int                `json:"duplicates"`
	Filters    filter.State       `json:"filters"`
	RangeStart time.Time          `json:"range_start"`
	RangeEnd   time.Time          `json:"range_end"`
}

// handleEvents loads sources and applies the filters.
//
// GET /api/events?sources=ics:a,csv:b&start=&end=&from=&to=&q=&north=&south=&east=&west=&unknown=1
//   - sources: comma-separated ids; defaults to every configured source
//   - start, end: fetch window (ISO-8601); defaults to the warmed window
//   - from, to: date filter inside the loaded events
//   - q: search text over name, description and location
//   - north, south, east, west: map bounds, all four or none
//   - unknown=1: only events whose location could not be resolved
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ids := splitList(q.Get("sources"))
	if len(ids) == 0 {
		ids = s.opts.DefaultSources
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "no sources requested or configured")
		return
	}

	win, err := s.window(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := filter.NewManager()
	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		if from == "" {
			from = win.TimeMin.UTC().Format(time.RFC3339)
		}
		if to == "" {
			to = win.TimeMax.UTC().Format(time.RFC3339)
		}
		if err := m.SetDateRange(&model.DateRange{StartISO: from, EndISO: to}); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	bounds, err := parseBounds(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := m.SetMapBounds(bounds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.SetSearchQuery(q.Get("q"))
	m.SetUnknownLocationsOnly(parseBool(q.Get("unknown")))

	agg, err := s.loader.Load(r.Context(), ids, win)
	if err != nil {
		appLog.Error("api events: load failed", err, "sources", ids)
		writeError(w, source.StatusCode(err), err.Error())
		return
	}
	m.SetEvents(agg.Events)

	writeJSON(w, http.StatusOK, eventsResponse{
		View:       m.View(nil),
		Sources:    agg.Sources,
		Duplicates: len(agg.Duplicates),
		Filters:    m.State(),
		RangeStart: win.TimeMin,
		RangeEnd:   win.TimeMax,
	})
}

func (s *Server) window(start, end string) (source.Window, error) {
	win := refresh.Window(s.now(), s.opts.Location, s.opts.BackfillDays, s.opts.HorizonDays)
	if start != "" {
		t, err := timerange.ParseInstant(start, s.opts.Location)
		if err != nil {
			return win, errors.New("invalid start: " + err.Error())
		}
		win.TimeMin = t
	}
	if end != "" {
		t, err := timerange.ParseInstant(end, s.opts.Location)
		if err != nil {
			return win, errors.New("invalid end: " + err.Error())
		}
		win.TimeMax = t
	}
	if win.TimeMax.Before(win.TimeMin) {
		return win, errors.New("end is before start")
	}
	return win, nil
}

func parseBounds(q map[string][]string) (*model.MapBounds, error) {
	keys := []string{"north", "south", "east", "west"}
	vals := make([]float64, len(keys))
	present := 0
	for i, k := range keys {
		raw := ""
		if v := q[k]; len(v) > 0 {
			raw = strings.TrimSpace(v[0])
		}
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New("invalid " + k + ": " + raw)
		}
		vals[i] = f
		present++
	}
	switch present {
	case 0:
		return nil, nil
	case len(keys):
		return &model.MapBounds{North: vals[0], South: vals[1], East: vals[2], West: vals[3]}, nil
	default:
		return nil, errors.New("map bounds need north, south, east and west")
	}
}

type locationsResponse struct {
	Locations []model.ResolvedLocation `json:"locations"`
}

// handleListLocations lists cached locations.
//
// GET /api/locations?status=unresolved&limit=100
func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	if s.locations == nil {
		writeError(w, http.StatusServiceUnavailable, "location store not configured")
		return
	}
	q := r.URL.Query()
	status := model.LocationStatus(q.Get("status"))
	switch status {
	case "", model.StatusResolved, model.StatusUnresolved:
	default:
		writeError(w, http.StatusBadRequest, "status must be resolved or unresolved")
		return
	}
	list, err := s.locations.List(r.Context(), status, parseIntDefault(q.Get("limit"), 100))
	if err != nil {
		appLog.Error("api locations: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list locations")
		return
	}
	writeJSON(w, http.StatusOK, locationsResponse{Locations: list})
}

// handleDeleteLocation evicts one location from every cache layer so the
// next lookup resolves it again.
//
// DELETE /api/locations?key=Some%20Place
func (s *Server) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	if s.locations == nil {
		writeError(w, http.StatusServiceUnavailable, "location store not configured")
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if s.front != nil {
		s.front.Remove(key)
	}
	removed, err := s.locations.Delete(r.Context(), key)
	if err != nil {
		appLog.Error("api locations: delete failed", err, "key", key)
		writeError(w, http.StatusInternalServerError, "failed to delete location")
		return
	}
	appLog.Info("location evicted", "key", key, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "removed": removed})
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
