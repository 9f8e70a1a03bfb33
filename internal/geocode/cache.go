package geocode

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
)

// Cache stores resolved locations keyed by the trimmed original string.
// Implementations must be safe for concurrent use; last write wins.
type Cache interface {
	Get(ctx context.Context, key string) (*model.ResolvedLocation, error)
	Set(ctx context.Context, key string, value model.ResolvedLocation) error
}

// MemoryCache is a bounded process-local LRU cache.
type MemoryCache struct {
	lru *lru.Cache[string, model.ResolvedLocation]
}

// NewMemoryCache creates an LRU holding at most size entries.
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, model.ResolvedLocation](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: c}, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) (*model.ResolvedLocation, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value model.ResolvedLocation) error {
	m.lru.Add(key, value)
	return nil
}

// Remove drops a key, used when an operator evicts a bad entry.
func (m *MemoryCache) Remove(key string) {
	m.lru.Remove(key)
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// LayeredCache reads Front first, then Back, populating Front on a Back hit.
// Writes go to both layers.
type LayeredCache struct {
	Front Cache
	Back  Cache
}

func (l LayeredCache) Get(ctx context.Context, key string) (*model.ResolvedLocation, error) {
	if v, err := l.Front.Get(ctx, key); err == nil && v != nil {
		return v, nil
	}
	v, err := l.Back.Get(ctx, key)
	if err != nil || v == nil {
		return v, err
	}
	if err := l.Front.Set(ctx, key, *v); err != nil {
		appLog.Warn("location front cache set failed", "key", key, "err", err)
	}
	return v, nil
}

func (l LayeredCache) Set(ctx context.Context, key string, value model.ResolvedLocation) error {
	if err := l.Front.Set(ctx, key, value); err != nil {
		return err
	}
	return l.Back.Set(ctx, key, value)
}
