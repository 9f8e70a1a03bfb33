package geocode

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/chadn/cmf-sub002/internal/model"
)

// Parser turns a location string into a resolved location without any
// network access. It returns false when the string is not in its format.
type Parser struct {
	Name  string
	Parse func(location string) (model.ResolvedLocation, bool)
}

// DefaultParsers returns the built-in coordinate parsers in priority order.
func DefaultParsers() []Parser {
	return []Parser{
		{Name: "latlng", Parse: parseLatLng},
		{Name: "dms", Parse: parseDMS},
		{Name: "ddm", Parse: parseDecimalMinutes},
	}
}

var (
	// 37.774929,-122.419418 or "37.7749, -122.4194"
	latLngRe = regexp.MustCompile(`^\s*([-+]?\d{1,3}\.\d{2,6})\s*,\s*([-+]?\d{1,3}\.\d{2,6})\s*$`)

	// 41°07'16.0"N 1°00'16.9"E
	dmsRe = regexp.MustCompile(`(\d{1,3})\s*°\s*(\d{1,2})\s*['′]\s*(\d{1,2}(?:\.\d+)?)\s*["″]\s*([NSns])[\s,]*` +
		`(\d{1,3})\s*°\s*(\d{1,2})\s*['′]\s*(\d{1,2}(?:\.\d+)?)\s*["″]\s*([EWew])`)

	// N 41° 07.266 E 001° 00.281
	ddmRe = regexp.MustCompile(`([NSns])\s*(\d{1,3})\s*°\s*(\d{1,2}(?:\.\d+)?)['′]?[\s,]*` +
		`([EWew])\s*(\d{1,3})\s*°\s*(\d{1,2}(?:\.\d+)?)['′]?`)
)

func parseLatLng(location string) (model.ResolvedLocation, bool) {
	m := latLngRe.FindStringSubmatch(location)
	if m == nil {
		return model.ResolvedLocation{}, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return model.ResolvedLocation{}, false
	}
	return coordinates(location, lat, lng)
}

func parseDMS(location string) (model.ResolvedLocation, bool) {
	m := dmsRe.FindStringSubmatch(location)
	if m == nil {
		return model.ResolvedLocation{}, false
	}
	lat, ok1 := dmsToDecimal(m[1], m[2], m[3], m[4])
	lng, ok2 := dmsToDecimal(m[5], m[6], m[7], m[8])
	if !ok1 || !ok2 {
		return model.ResolvedLocation{}, false
	}
	return coordinates(location, lat, lng)
}

func parseDecimalMinutes(location string) (model.ResolvedLocation, bool) {
	m := ddmRe.FindStringSubmatch(location)
	if m == nil {
		return model.ResolvedLocation{}, false
	}
	lat, ok1 := dmsToDecimal(m[2], m[3], "0", m[1])
	lng, ok2 := dmsToDecimal(m[5], m[6], "0", m[4])
	if !ok1 || !ok2 {
		return model.ResolvedLocation{}, false
	}
	return coordinates(location, lat, lng)
}

// dmsToDecimal computes deg + min/60 + sec/3600, negated for S and W.
func dmsToDecimal(deg, min, sec, hemisphere string) (float64, bool) {
	d, err := strconv.ParseFloat(deg, 64)
	if err != nil {
		return 0, false
	}
	m, err := strconv.ParseFloat(min, 64)
	if err != nil || m >= 60 {
		return 0, false
	}
	s, err := strconv.ParseFloat(sec, 64)
	if err != nil || s >= 60 {
		return 0, false
	}
	v := d + m/60 + s/3600
	switch strings.ToUpper(hemisphere) {
	case "S", "W":
		v = -v
	}
	return v, true
}

// coordinates validates ranges and rounds to 6 decimal places.
func coordinates(original string, lat, lng float64) (model.ResolvedLocation, bool) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return model.ResolvedLocation{}, false
	}
	lat, lng = round6(lat), round6(lng)
	address := strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
	return model.Resolved(original, address, lat, lng, []string{"coordinates"}), true
}

func round6(v float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 6, 64), 64)
	return r
}
