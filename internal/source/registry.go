package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chadn/cmf-sub002/internal/model"
)

// Window is the time range requested from a source.
type Window struct {
	TimeMin time.Time
	TimeMax time.Time
}

// Adapter fetches events for ids carrying its prefix. sourceID is the full
// id, prefix included (e.g. "ics:team").
type Adapter interface {
	Fetch(ctx context.Context, sourceID string, w Window) (model.SourceResponse, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, sourceID string, w Window) (model.SourceResponse, error)

func (f AdapterFunc) Fetch(ctx context.Context, sourceID string, w Window) (model.SourceResponse, error) {
	return f(ctx, sourceID, w)
}

// Registry maps id prefixes ("ics:", "csv:") to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds prefix to a. Prefixes must end with ':'.
func (r *Registry) Register(prefix string, a Adapter) error {
	if !strings.HasSuffix(prefix, ":") || len(prefix) < 2 {
		return fmt.Errorf("source: invalid prefix %q", prefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[prefix]; ok {
		return fmt.Errorf("source: prefix %q already registered", prefix)
	}
	r.adapters[prefix] = a
	return nil
}

// Lookup finds the adapter for sourceID.
func (r *Registry) Lookup(sourceID string) (Adapter, string, error) {
	prefix, _, ok := SplitID(sourceID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q has no prefix", ErrUnknownSource, sourceID)
	}
	r.mu.RLock()
	a, found := r.adapters[prefix]
	r.mu.RUnlock()
	if !found {
		return nil, prefix, fmt.Errorf("%w: no adapter for prefix %q", ErrUnknownSource, prefix)
	}
	return a, prefix, nil
}

// Prefixes lists registered prefixes, sorted.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SplitID splits "ics:team" into ("ics:", "team").
func SplitID(sourceID string) (prefix, rest string, ok bool) {
	i := strings.IndexByte(sourceID, ':')
	if i <= 0 || i == len(sourceID)-1 {
		return "", "", false
	}
	return sourceID[:i+1], sourceID[i+1:], true
}
