package filter

import (
	"sync"

	appLog "github.com/chadn/cmf-sub002/internal/log"
	"github.com/chadn/cmf-sub002/internal/model"
)

// Manager holds the canonical events and filter State for one source
// selection and memoizes the last computed View. All computation lives in
// ComputeView; Manager only tracks versions.
type Manager struct {
	mu      sync.Mutex
	events  []model.Event
	state   State
	version uint64

	memo *memo
}

type memo struct {
	version  uint64
	override model.MapBounds
	hasOver  bool
	view     View
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Reset clears events and all filters.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.state = State{}
	m.bump()
}

// SetEvents replaces the canonical event set. The slice is owned by the
// manager afterwards.
func (m *Manager) SetEvents(events []model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = events
	m.bump()
}

// SetDateRange sets or clears (nil) the date filter. Invalid ranges are a
// no-op: the error is logged and returned, state is unchanged.
func (m *Manager) SetDateRange(r *model.DateRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.state.WithDateRange(r)
	if err != nil {
		appLog.Warn("date range filter rejected", "err", err)
		return err
	}
	m.state = next
	m.bump()
	return nil
}

// SetSearchQuery sets the search filter; blank clears it.
func (m *Manager) SetSearchQuery(q string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.WithSearchQuery(q)
	m.bump()
}

// SetMapBounds sets or clears (nil) the map filter. Invalid bounds are a
// no-op: the error is logged and returned, state is unchanged.
func (m *Manager) SetMapBounds(b *model.MapBounds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.state.WithMapBounds(b)
	if err != nil {
		appLog.Warn("map bounds filter rejected", "err", err)
		return err
	}
	m.state = next
	m.bump()
	return nil
}

// SetUnknownLocationsOnly toggles the unresolved-location filter.
func (m *Manager) SetUnknownLocationsOnly(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.WithUnknownLocationsOnly(on)
	m.bump()
}

// State returns the current filter state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// View returns the current view. A non-nil override replaces the map
// bounds for this call only, without being stored.
func (m *Manager) View(override *model.MapBounds) View {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memo != nil && m.memo.version == m.version && m.memo.hasOver == (override != nil) &&
		(override == nil || m.memo.override == *override) {
		return m.memo.view
	}

	state := m.state
	if override != nil {
		next, err := state.WithMapBounds(override)
		if err != nil {
			appLog.Warn("map bounds override ignored", "err", err)
		} else {
			state = next
		}
	}

	v := ComputeView(m.events, state)
	next := &memo{version: m.version, view: v, hasOver: override != nil}
	if override != nil {
		next.override = *override
	}
	m.memo = next
	return v
}

func (m *Manager) bump() {
	m.version++
	m.memo = nil
}
