package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
)

func init() {
	appLog.SetOutput(io.Discard)
}

func events(prefix string, ids ...string) []model.Event {
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Event{ID: id, Name: prefix + " " + id, Location: "loc-" + id})
	}
	return out
}

func TestAggregate_SingleSourceUnstamped(t *testing.T) {
	agg := Aggregate([]model.SourceResponse{{
		Events: events("a", "1", "2"),
		Source: model.SourceInfo{ID: "ics:a", Name: "A", TotalCount: 2},
	}})
	if len(agg.Events) != 2 || len(agg.Sources) != 1 {
		t.Fatalf("got %d events, %d sources", len(agg.Events), len(agg.Sources))
	}
	for _, e := range agg.Events {
		if e.SourceIndex != 0 {
			t.Errorf("event %s stamped with %d", e.ID, e.SourceIndex)
		}
	}
}

func TestAggregate_StampsAndDedups(t *testing.T) {
	a := events("a", "1", "2", "3", "4", "5")
	b := events("b", "3", "4", "5", "6", "7")
	agg := Aggregate([]model.SourceResponse{
		{Events: a, Source: model.SourceInfo{ID: "ics:a"}},
		{Events: b, Source: model.SourceInfo{ID: "csv:b"}},
	})

	if want := len(a) + len(b) - 3; len(agg.Events) != want {
		t.Fatalf("len(events) = %d, want %d", len(agg.Events), want)
	}
	if len(agg.Duplicates) != 3 {
		t.Errorf("duplicates = %v", agg.Duplicates)
	}
	for _, e := range agg.Events {
		switch e.ID {
		case "1", "2", "3", "4", "5":
			if e.SourceIndex != 1 || e.Name != "a "+e.ID {
				t.Errorf("event %s: index %d name %q, first source should win", e.ID, e.SourceIndex, e.Name)
			}
		case "6", "7":
			if e.SourceIndex != 2 {
				t.Errorf("event %s: index %d, want 2", e.ID, e.SourceIndex)
			}
		}
	}
	if agg.Sources[0].ID != "ics:a" || agg.Sources[1].ID != "csv:b" {
		t.Errorf("sources = %+v", agg.Sources)
	}
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil)
	if agg.Events == nil || len(agg.Events) != 0 || len(agg.Sources) != 0 {
		t.Errorf("got %+v", agg)
	}
}

func TestSplitID(t *testing.T) {
	tests := []struct {
		in     string
		prefix string
		rest   string
		ok     bool
	}{
		{"ics:team", "ics:", "team", true},
		{"csv:sheet:2", "csv:", "sheet:2", true},
		{"team", "", "", false},
		{":team", "", "", false},
		{"ics:", "", "", false},
	}
	for _, tt := range tests {
		p, r, ok := SplitID(tt.in)
		if p != tt.prefix || r != tt.rest || ok != tt.ok {
			t.Errorf("SplitID(%q) = %q, %q, %v", tt.in, p, r, ok)
		}
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	noop := AdapterFunc(func(context.Context, string, Window) (model.SourceResponse, error) {
		return model.SourceResponse{}, nil
	})
	if err := r.Register("ics", noop); err == nil {
		t.Error("prefix without colon should be rejected")
	}
	if err := r.Register("ics:", noop); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("ics:", noop); err == nil {
		t.Error("duplicate prefix should be rejected")
	}
	if _, _, err := r.Lookup("csv:x"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("Lookup unregistered = %v", err)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"unknown", fmt.Errorf("wrap: %w", ErrUnknownSource), http.StatusNotFound},
		{"upstream 404", &StatusError{Code: 404}, http.StatusNotFound},
		{"upstream 500", &StatusError{Code: 500}, http.StatusBadGateway},
		{"explicit", &FetchError{SourceID: "x", StatusCode: 418, Err: errors.New("teapot")}, 418},
		{"wrapped fetch error", fmt.Errorf("load: %w", &FetchError{StatusCode: 502}), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode = %d, want %d", got, tt.want)
			}
		})
	}
}

// memCache is an in-memory EventsCache.
type memCache struct {
	mu   sync.Mutex
	data map[string]model.SourceResponse
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string]model.SourceResponse{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, id string, _ time.Duration, _, _ time.Time) (*model.CachedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.data[id]
	if !ok {
		return nil, nil
	}
	return &model.CachedResponse{Response: resp}, nil
}

func (c *memCache) Set(_ context.Context, resp model.SourceResponse, id string, ttl time.Duration, _, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = resp
	c.ttls[id] = ttl
	return nil
}

type staticBatcher map[string]model.ResolvedLocation

func (s staticBatcher) ResolveMap(_ context.Context, locs []string) map[string]model.ResolvedLocation {
	out := make(map[string]model.ResolvedLocation, len(locs))
	for _, l := range locs {
		if rl, ok := s[l]; ok {
			out[l] = rl
		} else {
			out[l] = model.Unresolved(l)
		}
	}
	return out
}

func newTestService(t *testing.T, calls *atomic.Int32, cache EventsCache, batcher LocationBatcher) *Service {
	t.Helper()
	r := NewRegistry()
	feeds := map[string][]model.Event{
		"ics:a": events("a", "1", "2"),
		"csv:b": events("b", "2", "3"),
	}
	fetch := AdapterFunc(func(ctx context.Context, id string, w Window) (model.SourceResponse, error) {
		calls.Add(1)
		switch id {
		case "ics:down":
			return model.SourceResponse{}, &StatusError{Code: 503, Status: "503 Service Unavailable"}
		case "ics:gone":
			return model.SourceResponse{}, &StatusError{Code: 404}
		}
		evs, ok := feeds[id]
		if !ok {
			return model.SourceResponse{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
		}
		return model.SourceResponse{Events: evs, Source: model.SourceInfo{Name: id}}, nil
	})
	if err := r.Register("ics:", fetch); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("csv:", fetch); err != nil {
		t.Fatal(err)
	}
	return NewService(r, cache, time.Minute, batcher)
}

func TestService_LoadAttachesLocations(t *testing.T) {
	var calls atomic.Int32
	batcher := staticBatcher{
		"loc-1": model.Resolved("loc-1", "One", 1, 1, nil),
		"loc-3": model.Resolved("loc-3", "Three", 3, 3, nil),
	}
	svc := newTestService(t, &calls, nil, batcher)

	agg, err := svc.Load(context.Background(), []string{"ics:a", "csv:b"}, Window{})
	if err != nil {
		t.Fatal(err)
	}
	if len(agg.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(agg.Events))
	}
	for _, e := range agg.Events {
		if e.ResolvedLocation == nil {
			t.Fatalf("event %s has no resolved location", e.ID)
		}
	}
	// ics:a keeps 1 (resolved) and 2 (unresolved); csv:b keeps 3 (resolved).
	if agg.Sources[0].UnknownLocationsCount != 1 || agg.Sources[1].UnknownLocationsCount != 0 {
		t.Errorf("sources = %+v", agg.Sources)
	}
	if agg.Sources[0].TotalCount != 2 || agg.Sources[1].TotalCount != 2 {
		t.Errorf("total counts = %d, %d", agg.Sources[0].TotalCount, agg.Sources[1].TotalCount)
	}
	if agg.Sources[0].ID != "ics:a" {
		t.Errorf("source id not filled: %+v", agg.Sources[0])
	}
}

func TestService_FailsOnAnySourceError(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, &calls, nil, nil)

	tests := []struct {
		ids  []string
		want int
	}{
		{[]string{"ics:a", "ics:down"}, http.StatusBadGateway},
		{[]string{"ics:gone"}, http.StatusNotFound},
		{[]string{"ics:a", "xml:nope"}, http.StatusNotFound},
		{[]string{"csv:missing"}, http.StatusNotFound},
		{nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		_, err := svc.Load(context.Background(), tt.ids, Window{})
		if err == nil {
			t.Errorf("Load(%v) succeeded", tt.ids)
			continue
		}
		if got := StatusCode(err); got != tt.want {
			t.Errorf("Load(%v) status = %d, want %d (%v)", tt.ids, got, tt.want, err)
		}
	}
}

func TestService_CacheFirst(t *testing.T) {
	var calls atomic.Int32
	cache := newMemCache()
	svc := newTestService(t, &calls, cache, nil)
	ctx := context.Background()

	if _, err := svc.Fetch(ctx, []string{"ics:a"}, Window{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Fetch(ctx, []string{"ics:a"}, Window{}); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("adapter calls = %d, want 1", n)
	}
	if cache.ttls["ics:a"] != time.Minute {
		t.Errorf("ttl = %v", cache.ttls["ics:a"])
	}
}

func TestService_Warm(t *testing.T) {
	var calls atomic.Int32
	cache := newMemCache()
	svc := newTestService(t, &calls, cache, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		n, err := svc.Warm(ctx, "csv:b", Window{}, -1)
		if err != nil || n != 2 {
			t.Fatalf("Warm = %d, %v", n, err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("Warm should bypass cached reads, adapter calls = %d", calls.Load())
	}
	if cache.ttls["csv:b"] != -1 {
		t.Errorf("ttl = %v, want -1", cache.ttls["csv:b"])
	}

	if _, err := NewService(NewRegistry(), nil, 0, nil).Warm(ctx, "csv:b", Window{}, -1); err == nil {
		t.Error("Warm without cache should fail")
	}
}

func TestService_RepeatedSourceFetchedOnce(t *testing.T) {
	var calls atomic.Int32
	batcher := staticBatcher{"loc-1": model.Resolved("loc-1", "One", 1, 1, nil)}
	svc := newTestService(t, &calls, nil, batcher)

	agg, err := svc.Load(context.Background(), []string{"ics:a", "ics:a", "csv:b", "ics:a"}, Window{})
	if err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("adapter calls = %d, want 2", n)
	}
	if len(agg.Sources) != 2 || agg.Sources[0].ID != "ics:a" || agg.Sources[1].ID != "csv:b" {
		t.Fatalf("sources = %+v", agg.Sources)
	}
	// ics:a keeps 1 (resolved) and 2; csv:b keeps 3, its 2 is a duplicate.
	if agg.Sources[0].UnknownLocationsCount != 1 || agg.Sources[1].UnknownLocationsCount != 1 {
		t.Errorf("unknown counts = %d, %d", agg.Sources[0].UnknownLocationsCount, agg.Sources[1].UnknownLocationsCount)
	}
}

func TestService_CacheReadErrorSkipsWriteBack(t *testing.T) {
	var calls atomic.Int32
	cache := &failingCache{memCache: newMemCache()}
	svc := newTestService(t, &calls, cache, nil)

	if _, err := svc.Fetch(context.Background(), []string{"ics:a"}, Window{}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("adapter calls = %d, want 1", calls.Load())
	}
	if _, ok := cache.ttls["ics:a"]; ok {
		t.Error("response written back after a failed cache read")
	}
}

type failingCache struct{ *memCache }

func (c *failingCache) Get(context.Context, string, time.Duration, time.Time, time.Time) (*model.CachedResponse, error) {
	return nil, errors.New("database is locked")
}
