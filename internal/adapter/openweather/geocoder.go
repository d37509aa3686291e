package openweather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/feed-ingest-etl/internal/adapter/httpjson"
	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
)

// Geocoder implements domain.Geocoder using the OpenWeather direct geocoding API.
type Geocoder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGeocoder creates a geocoding client. Requests wait on limiter, which
// may be shared with other clients of the same API key.
func NewGeocoder(baseURL, apiKey string, httpClient *http.Client, limiter *rate.Limiter) *Geocoder {
	return &Geocoder{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// Geocode returns the best match for city, or a zero Location if there is none.
func (g *Geocoder) Geocode(ctx context.Context, city string) (domain.Location, error) {
	fullURL, err := httpjson.BuildURL(g.baseURL, url.Values{
		"q":     {city},
		"limit": {"1"},
		"appid": {g.apiKey},
	})
	if err != nil {
		return domain.Location{}, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return domain.Location{}, err
	}
	body, _, err := httpjson.Get(ctx, g.httpClient, fullURL)
	if err != nil {
		return domain.Location{}, fmt.Errorf("geocode %q: %w", city, err)
	}

	var matches []geoMatch
	if err := json.Unmarshal(body, &matches); err != nil {
		return domain.Location{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(matches) == 0 {
		return domain.Location{}, nil
	}

	m := matches[0]
	return domain.Location{
		Name:    m.Name,
		Country: m.Country,
		Lat:     m.Lat,
		Lon:     m.Lon,
	}, nil
}

type geoMatch struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}
