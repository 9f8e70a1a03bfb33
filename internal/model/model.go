package model

import "time"

// Timezone sentinels for Event.TZ. Events carrying either one (or no TZ at
// all) have Start/End interpreted literally as UTC instants.
const (
	TZUnknown = "UNKNOWN"
	TZLocal   = "LOCAL"
)

// LocationStatus is the outcome of resolving a free-text location.
type LocationStatus string

const (
	StatusPending    LocationStatus = "pending"
	StatusResolved   LocationStatus = "resolved"
	StatusUnresolved LocationStatus = "unresolved"
)

// ResolvedLocation is the geocoded form of one location string.
//
// Status == StatusResolved implies Lat and Lng are set; StatusUnresolved
// implies both are nil.
type ResolvedLocation struct {
	OriginalLocation string         `json:"original_location"`
	Status           LocationStatus `json:"status"`
	FormattedAddress string         `json:"formatted_address,omitempty"`
	Lat              *float64       `json:"lat,omitempty"`
	Lng              *float64       `json:"lng,omitempty"`
	Types            []string       `json:"types,omitempty"`
}

// Resolved builds a resolved location.
func Resolved(original, address string, lat, lng float64, types []string) ResolvedLocation {
	return ResolvedLocation{
		OriginalLocation: original,
		Status:           StatusResolved,
		FormattedAddress: address,
		Lat:              &lat,
		Lng:              &lng,
		Types:            types,
	}
}

// Unresolved builds an unresolved location for the given original string.
func Unresolved(original string) ResolvedLocation {
	return ResolvedLocation{
		OriginalLocation: original,
		Status:           StatusUnresolved,
	}
}

// IsResolved reports whether the location has usable coordinates.
func (r *ResolvedLocation) IsResolved() bool {
	return r != nil && r.Status == StatusResolved && r.Lat != nil && r.Lng != nil
}

// Event is a flat, immutable calendar entry as produced by a source adapter.
//
// Start and End are ISO-8601 strings. When TZ names an IANA zone and the
// strings carry no offset, they are wall-clock times in that zone.
type Event struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Location    string `json:"location"`
	TZ          string `json:"tz,omitempty"`

	// ResolvedLocation is attached after geocoding.
	ResolvedLocation *ResolvedLocation `json:"resolved_location,omitempty"`
	// SourceIndex is 1-based and only set when more than one source was merged.
	SourceIndex int `json:"src,omitempty"`
}

// WithLocation returns a copy of e carrying rl.
func (e Event) WithLocation(rl ResolvedLocation) Event {
	e.ResolvedLocation = &rl
	return e
}

// SourceInfo describes one fetched source.
type SourceInfo struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	TotalCount            int    `json:"total_count"`
	UnknownLocationsCount int    `json:"unknown_locations_count"`
	URL                   string `json:"url,omitempty"`
}

// SourceResponse is what a source adapter returns for one fetch.
type SourceResponse struct {
	Events []Event    `json:"events"`
	Source SourceInfo `json:"source"`
}

// MapBounds is a lat/lng box in degrees. West > East means the box
// crosses the antimeridian.
type MapBounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Contains reports whether (lat, lng) lies inside the box, edges included.
func (b MapBounds) Contains(lat, lng float64) bool {
	if lat < b.South || lat > b.North {
		return false
	}
	if b.West <= b.East {
		return lng >= b.West && lng <= b.East
	}
	return lng >= b.West || lng <= b.East
}

// DateRange is an inclusive UTC range given as ISO-8601 instants.
type DateRange struct {
	StartISO string `json:"start"`
	EndISO   string `json:"end"`
}

// CachedResponse is a source response read back from the events cache.
type CachedResponse struct {
	Response SourceResponse `json:"response"`
	CachedAt time.Time      `json:"cached_at"`
}
