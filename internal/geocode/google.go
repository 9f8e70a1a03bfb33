package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/chadn/cmf-sub002/internal/model"
)

var (
	// ErrMissingCredential is returned when no API key is configured.
	ErrMissingCredential = errors.New("geocode: missing API credential")
	// ErrNoResults is returned when the service answers with zero candidates.
	ErrNoResults = errors.New("geocode: no results")
)

// Geocoder resolves an address through an external service.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.ResolvedLocation, error)
}

// GoogleGeocoder calls a Google-Maps-compatible geocoding JSON endpoint.
type GoogleGeocoder struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewGoogleGeocoder constructs a client. An empty apiKey is allowed; every
// call then fails with ErrMissingCredential.
func NewGoogleGeocoder(endpoint, apiKey string, timeout time.Duration) *GoogleGeocoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleGeocoder{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   newHTTPClient(timeout),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

type geocodeResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
	Results      []geocodeResult `json:"results"`
}

type geocodeResult struct {
	FormattedAddress string   `json:"formatted_address"`
	Types            []string `json:"types"`
	Geometry         *struct {
		Location *struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// Geocode looks up address and maps the first candidate.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (model.ResolvedLocation, error) {
	if g.apiKey == "" {
		return model.ResolvedLocation{}, ErrMissingCredential
	}

	u, err := url.Parse(g.endpoint)
	if err != nil {
		return model.ResolvedLocation{}, fmt.Errorf("geocode: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("address", address)
	q.Set("key", g.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.ResolvedLocation{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return model.ResolvedLocation{}, fmt.Errorf("geocode: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.ResolvedLocation{}, fmt.Errorf("geocode: unexpected status %s", resp.Status)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.ResolvedLocation{}, fmt.Errorf("geocode: decode response: %w", err)
	}
	if len(body.Results) == 0 {
		if body.Status != "" && body.Status != "OK" && body.Status != "ZERO_RESULTS" {
			return model.ResolvedLocation{}, fmt.Errorf("geocode: status %s: %s", body.Status, body.ErrorMessage)
		}
		return model.ResolvedLocation{}, ErrNoResults
	}

	first := body.Results[0]
	if first.Geometry == nil || first.Geometry.Location == nil ||
		first.Geometry.Location.Lat == nil || first.Geometry.Location.Lng == nil {
		return model.ResolvedLocation{}, errors.New("geocode: malformed result geometry")
	}

	return model.Resolved(address, first.FormattedAddress,
		*first.Geometry.Location.Lat, *first.Geometry.Location.Lng, first.Types), nil
}
