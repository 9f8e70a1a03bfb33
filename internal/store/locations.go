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

type locationRow struct {
	bun.BaseModel `bun:"table:location_cache"`

	Location         string    `bun:"location,pk"` // trimmed original string
	Status           string    `bun:"status,notnull"`
	FormattedAddress string    `bun:"formatted_address"`
	Lat              *float64  `bun:"lat"`
	Lng              *float64  `bun:"lng"`
	TypesJSON        string    `bun:"types_json"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

func (r *locationRow) toModel() model.ResolvedLocation {
	out := model.ResolvedLocation{
		OriginalLocation: r.Location,
		Status:           model.LocationStatus(r.Status),
		FormattedAddress: r.FormattedAddress,
		Lat:              r.Lat,
		Lng:              r.Lng,
	}
	if r.TypesJSON != "" {
		_ = json.Unmarshal([]byte(r.TypesJSON), &out.Types)
	}
	return out
}

// LocationStore is the persistent location cache. It satisfies
// geocode.Cache and adds the operator-facing eviction calls.
type LocationStore struct {
	db bun.IDB
}

func NewLocationStore(db bun.IDB) *LocationStore {
	return &LocationStore{db: db}
}

// Get returns the cached location for key, or nil if absent.
func (s *LocationStore) Get(ctx context.Context, key string) (*model.ResolvedLocation, error) {
	var row locationRow
	err := s.db.NewSelect().
		Model(&row).
		Where("location = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("(*LocationStore).Get: %w", err)
	}
	rl := row.toModel()
	return &rl, nil
}

// Set upserts key. Last write wins.
func (s *LocationStore) Set(ctx context.Context, key string, value model.ResolvedLocation) error {
	row := locationRow{
		Location:         key,
		Status:           string(value.Status),
		FormattedAddress: value.FormattedAddress,
		Lat:              value.Lat,
		Lng:              value.Lng,
		UpdatedAt:        time.Now().UTC(),
	}
	if len(value.Types) > 0 {
		b, err := json.Marshal(value.Types)
		if err != nil {
			return fmt.Errorf("(*LocationStore).Set: marshal types: %w", err)
		}
		row.TypesJSON = string(b)
	}

	if _, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (location) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("formatted_address = EXCLUDED.formatted_address").
		Set("lat = EXCLUDED.lat").
		Set("lng = EXCLUDED.lng").
		Set("types_json = EXCLUDED.types_json").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("(*LocationStore).Set: %w", err)
	}
	return nil
}

// Delete evicts key so the next resolve goes back to parsers/geocoder.
// It reports whether a row was removed.
func (s *LocationStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.NewDelete().
		Model((*locationRow)(nil)).
		Where("location = ?", key).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("(*LocationStore).Delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

// List returns cached entries with the given status (all if empty),
// most recently updated first.
func (s *LocationStore) List(ctx context.Context, status model.LocationStatus, limit int) ([]model.ResolvedLocation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []locationRow
	q := s.db.NewSelect().Model(&rows).OrderExpr("updated_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("(*LocationStore).List: %w", err)
	}
	out := make([]model.ResolvedLocation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}
