package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/chadn/cmf-sub002/internal/model"
)

// NoExpiry as a TTL caches a response indefinitely.
const NoExpiry time.Duration = -1

type eventsRow struct {
	bun.BaseModel `bun:"table:events_cache"`

	SourceID  string    `bun:"source_id,pk"`
	TimeMin   string    `bun:"time_min,pk"`
	TimeMax   string    `bun:"time_max,pk"`
	Payload   string    `bun:"payload,notnull"`
	CachedAt  time.Time `bun:"cached_at,notnull"`
	ExpiresAt time.Time `bun:"expires_at,nullzero"`
}

// EventsCache stores whole source responses keyed by source id and window.
type EventsCache struct {
	db  bun.IDB
	now func() time.Time
}

func NewEventsCache(db bun.IDB) *EventsCache {
	return &EventsCache{db: db, now: time.Now}
}

func windowKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Get returns the cached response if present and fresh. Entries stored with
// NoExpiry (warmed entries) are always fresh. Other entries are fresh when
// they have not passed the expiry recorded at Set time and, for ttl >= 0,
// are younger than ttl. ttl < 0 accepts any age.
func (c *EventsCache) Get(ctx context.Context, sourceID string, ttl time.Duration, timeMin, timeMax time.Time) (*model.CachedResponse, error) {
	var row eventsRow
	err := c.db.NewSelect().
		Model(&row).
		Where("source_id = ?", sourceID).
		Where("time_min = ?", windowKey(timeMin)).
		Where("time_max = ?", windowKey(timeMax)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("(*EventsCache).Get: %w", err)
	}

	if !row.ExpiresAt.IsZero() {
		now := c.now()
		if !now.Before(row.ExpiresAt) {
			return nil, nil
		}
		if ttl >= 0 && now.Sub(row.CachedAt) >= ttl {
			return nil, nil
		}
	}

	var resp model.SourceResponse
	if err := json.Unmarshal([]byte(row.Payload), &resp); err != nil {
		return nil, fmt.Errorf("(*EventsCache).Get: decode payload: %w", err)
	}
	return &model.CachedResponse{Response: resp, CachedAt: row.CachedAt}, nil
}

// Set stores resp. ttl < 0 (NoExpiry) keeps it until overwritten.
func (c *EventsCache) Set(ctx context.Context, resp model.SourceResponse, sourceID string, ttl time.Duration, timeMin, timeMax time.Time) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("(*EventsCache).Set: encode payload: %w", err)
	}
	now := c.now().UTC()
	row := eventsRow{
		SourceID: sourceID,
		TimeMin:  windowKey(timeMin),
		TimeMax:  windowKey(timeMax),
		Payload:  string(payload),
		CachedAt: now,
	}
	if ttl >= 0 {
		row.ExpiresAt = now.Add(ttl)
	}

	if _, err := c.db.NewInsert().
		Model(&row).
		On("CONFLICT (source_id, time_min, time_max) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("cached_at = EXCLUDED.cached_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("(*EventsCache).Set: %w", err)
	}
	return nil
}

// Purge removes expired entries and returns how many were deleted.
func (c *EventsCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.NewDelete().
		Model((*eventsRow)(nil)).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", c.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("(*EventsCache).Purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
