// Package openweather fetches current weather for a list of tracked cities
// from the OpenWeather geocoding and current-weather APIs.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/feed-ingest-etl/internal/adapter/httpjson"
	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/couchcryptid/feed-ingest-etl/internal/observability"
)

const (
	// ClientName is the store namespace for weather tables.
	ClientName  = "weather"
	archiveName = "weather"
)

// Columns is the schema of weather/data/*.
var Columns = []domain.Column{
	domain.Col("city", domain.TypeString),
	domain.Col("country", domain.TypeString),
	domain.Col("lon", domain.TypeFloat),
	domain.Col("lat", domain.TypeFloat),
	domain.Col("temperature", domain.TypeFloat),
	domain.Col("temperature_max", domain.TypeFloat),
	domain.Col("temperature_min", domain.TypeFloat),
	domain.Col("feels_like", domain.TypeFloat),
	domain.Col("humidity", domain.TypeInt),
	domain.Col("wind_speed", domain.TypeFloat),
	domain.Col("wind_direction", domain.TypeInt),
	domain.Col("description", domain.TypeString),
	domain.Col("timestamp", domain.TypeTime),
	domain.Col("split_on", domain.TypeString),
}

// Config configures a Client.
type Config struct {
	GeocodeURL    string
	WeatherURL    string
	APIKey        string
	Cities        []string
	Timeout       time.Duration
	RatePerSecond float64 // shared by geocoding and weather requests
	CacheSize     int
	Archiver      domain.Archiver // optional
	Metrics       *observability.Metrics
}

// Client geocodes each tracked city, then requests its current weather.
type Client struct {
	weatherURL string
	apiKey     string
	cities     []string
	httpClient *http.Client
	limiter    *rate.Limiter
	geocoder   domain.Geocoder
	archiver   domain.Archiver
	logger     *slog.Logger
}

// NewClient creates a weather client backed by a cached, rate-limited geocoder.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	geocoder := NewCachedGeocoder(
		NewGeocoder(cfg.GeocodeURL, cfg.APIKey, httpClient, limiter),
		cfg.CacheSize,
		cfg.Metrics,
	)
	return &Client{
		weatherURL: cfg.WeatherURL,
		apiKey:     cfg.APIKey,
		cities:     cfg.Cities,
		httpClient: httpClient,
		limiter:    limiter,
		geocoder:   geocoder,
		archiver:   cfg.Archiver,
		logger:     logger,
	}
}

// Name returns the client's store namespace.
func (c *Client) Name() string { return ClientName }

// Fetch collects one observation per tracked city. A city that cannot be
// geocoded or whose weather request fails becomes an error record with the
// city as context. Fetch itself fails only when ctx is done.
func (c *Client) Fetch(ctx context.Context) (domain.Result, error) {
	outcomes := make([]domain.Outcome[observation], 0, len(c.cities))
	var raw []json.RawMessage
	lastStatus := 0

	for _, city := range c.cities {
		loc, err := c.geocoder.Geocode(ctx, city)
		if ctx.Err() != nil {
			return domain.Result{}, ctx.Err()
		}
		if err != nil {
			c.logger.Warn("geocoding failed", "city", city, "error", err)
			outcomes = append(outcomes, domain.Failed[observation](domain.NewFetchError(c.weatherURL, city, statusOf(err), err)))
			continue
		}
		if !loc.Found() {
			outcomes = append(outcomes, domain.Failed[observation](domain.NewFetchError(c.weatherURL, city, 0, errors.New("no geocoding match"))))
			continue
		}

		fullURL, body, status, err := c.currentWeather(ctx, loc)
		if ctx.Err() != nil {
			return domain.Result{}, ctx.Err()
		}
		if status != 0 {
			lastStatus = status
		}
		if err != nil {
			c.logger.Warn("weather request failed", "city", city, "status", status, "error", err)
			outcomes = append(outcomes, domain.Failed[observation](domain.NewFetchError(fullURL, city, status, err)))
			continue
		}
		raw = append(raw, body)

		obs, err := parseObservation(body)
		if err != nil {
			outcomes = append(outcomes, domain.Failed[observation](domain.NewFetchError(fullURL, city, status, err)))
			continue
		}
		obs.location = loc
		obs.slug = domain.Slug(city)
		outcomes = append(outcomes, domain.Succeeded(obs))
	}

	c.archive(raw)

	observations, errs := domain.Collect(outcomes)
	data := domain.MustTable(Columns...)
	for _, o := range observations {
		if err := data.Append(o.values()...); err != nil {
			return domain.Result{}, fmt.Errorf("build weather row: %w", err)
		}
	}

	return domain.Result{
		Data: data,
		Metadata: []domain.RunMetadata{{
			FetchedAt:    domain.Now(),
			URL:          domain.RedactURL(c.weatherURL),
			Status:       lastStatus,
			SuccessCount: len(observations),
			ErrorCount:   len(errs),
		}},
		Errors: errs,
	}, nil
}

func (c *Client) currentWeather(ctx context.Context, loc domain.Location) (string, json.RawMessage, int, error) {
	fullURL, err := httpjson.BuildURL(c.weatherURL, url.Values{
		"units": {"metric"},
		"lat":   {strconv.FormatFloat(loc.Lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(loc.Lon, 'f', -1, 64)},
		"appid": {c.apiKey},
	})
	if err != nil {
		return c.weatherURL, nil, 0, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fullURL, nil, 0, err
	}
	body, status, err := httpjson.Get(ctx, c.httpClient, fullURL)
	return fullURL, body, status, err
}

func (c *Client) archive(raw []json.RawMessage) {
	if c.archiver == nil || len(raw) == 0 {
		return
	}
	path, err := c.archiver.Save(archiveName, raw)
	if err != nil {
		c.logger.Warn("raw archive failed", "api", archiveName, "error", err)
		return
	}
	c.logger.Debug("raw payload archived", "path", path)
}

func statusOf(err error) int {
	var se *httpjson.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

type observation struct {
	location      domain.Location
	slug          string
	temperature   *float64
	temperatureHi *float64
	temperatureLo *float64
	feelsLike     *float64
	humidity      *float64
	windSpeed     *float64
	windDirection *float64
	description   string
	timestamp     time.Time
}

func (o observation) values() []any {
	return []any{
		o.location.Name,
		o.location.Country,
		o.location.Lon,
		o.location.Lat,
		floatOrNil(o.temperature),
		floatOrNil(o.temperatureHi),
		floatOrNil(o.temperatureLo),
		floatOrNil(o.feelsLike),
		intOrNil(o.humidity),
		floatOrNil(o.windSpeed),
		intOrNil(o.windDirection),
		o.description,
		o.timestamp,
		o.slug,
	}
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func intOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

// Current weather response types.

type weatherResponse struct {
	Dt   *int64 `json:"dt"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		TempMax   *float64 `json:"temp_max"`
		TempMin   *float64 `json:"temp_min"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func parseObservation(body []byte) (observation, error) {
	var resp weatherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return observation{}, fmt.Errorf("decode weather response: %w", err)
	}
	switch {
	case resp.Dt == nil:
		return observation{}, errors.New("weather response has no dt")
	case resp.Main == nil:
		return observation{}, errors.New("weather response has no main block")
	case len(resp.Weather) == 0:
		return observation{}, errors.New("weather response has no conditions")
	}

	return observation{
		temperature:   resp.Main.Temp,
		temperatureHi: resp.Main.TempMax,
		temperatureLo: resp.Main.TempMin,
		feelsLike:     resp.Main.FeelsLike,
		humidity:      resp.Main.Humidity,
		windSpeed:     resp.Wind.Speed,
		windDirection: resp.Wind.Deg,
		description:   resp.Weather[0].Description,
		timestamp:     time.Unix(*resp.Dt, 0).UTC(),
	}, nil
}
