package geocode

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chadn/cmf-sub002/internal/model"
)

// recordingResolver resolves everything and tracks peak concurrency.
type recordingResolver struct {
	mu       sync.Mutex
	seen     []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (r *recordingResolver) Resolve(_ context.Context, location string) model.ResolvedLocation {
	n := r.inFlight.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	r.inFlight.Add(-1)

	r.mu.Lock()
	r.seen = append(r.seen, location)
	r.mu.Unlock()

	if location == "bad" {
		return model.Unresolved(location)
	}
	return model.Resolved(location, location, 1, 1, nil)
}

func TestResolveAll_Empty(t *testing.T) {
	rr := &recordingResolver{}
	b := NewBatchResolver(rr, BatchConfig{Size: 2, Delay: time.Hour})

	got := b.ResolveAll(context.Background(), nil)
	if len(got) != 0 {
		t.Errorf("len = %d", len(got))
	}
	if len(rr.seen) != 0 {
		t.Errorf("resolver called for empty input")
	}
}

func TestResolveAll_DedupAndOrder(t *testing.T) {
	rr := &recordingResolver{}
	b := NewBatchResolver(rr, BatchConfig{Size: 2})
	var sleeps int
	b.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	b.cfg.Delay = time.Millisecond

	in := []string{"a", "b", "a", "bad", "c", "b", "d"}
	got := b.ResolveAll(context.Background(), in)

	want := []string{"a", "b", "bad", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].OriginalLocation != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].OriginalLocation, w)
		}
	}
	if got[2].Status != model.StatusUnresolved {
		t.Errorf("bad should be unresolved, got %s", got[2].Status)
	}
	if len(rr.seen) != len(want) {
		t.Errorf("resolver calls = %d, want %d (no duplicate retries)", len(rr.seen), len(want))
	}
	// 5 items in batches of 2 -> 3 batches -> 2 delays.
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2", sleeps)
	}
	if p := rr.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestResolveAll_CancelledLeavesRestUnresolved(t *testing.T) {
	rr := &recordingResolver{}
	b := NewBatchResolver(rr, BatchConfig{Size: 1, Delay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	b.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	got := b.ResolveAll(ctx, []string{"a", "b", "c"})
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Status != model.StatusResolved {
		t.Errorf("first item should be resolved")
	}
	for _, r := range got[1:] {
		if r.Status != model.StatusUnresolved {
			t.Errorf("%q should be unresolved after cancel", r.OriginalLocation)
		}
	}
}

func TestResolveMap(t *testing.T) {
	b := NewBatchResolver(&recordingResolver{}, BatchConfig{Size: 10})
	m := b.ResolveMap(context.Background(), []string{"x", "y", "x"})
	if len(m) != 2 {
		t.Fatalf("len = %d", len(m))
	}
	x := m["x"]
	if !x.IsResolved() {
		t.Errorf("x should be resolved")
	}
}
