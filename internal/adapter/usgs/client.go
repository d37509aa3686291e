// Package usgs fetches recent earthquakes from the USGS FDSN event service.
package usgs

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

	"github.com/couchcryptid/feed-ingest-etl/internal/adapter/httpjson"
	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
)

const (
	// ClientName is the store namespace for earthquake tables.
	ClientName  = "earthquake"
	archiveName = "earthquakes"

	defaultLimit = 100
	window       = 24 * time.Hour
)

// Columns is the schema of earthquake/data/*.
var Columns = []domain.Column{
	domain.Col("timestamp", domain.TypeTime),
	domain.Col("magnitude", domain.TypeFloat),
	domain.Col("scale", domain.TypeString),
	domain.Col("alert", domain.TypeString),
	domain.Col("tsunami", domain.TypeInt),
	domain.Col("place", domain.TypeString),
	domain.Col("lon", domain.TypeFloat),
	domain.Col("lat", domain.TypeFloat),
	domain.Col("depth", domain.TypeFloat),
	domain.Col("split_on", domain.TypeString),
}

// magnitudeScales maps USGS magType codes to readable names. Codes not
// listed are stored as received.
var magnitudeScales = map[string]string{
	"Mw":    "Moment Magnitude",
	"Ms":    "Surface Wave Magnitude",
	"mb":    "Body Wave Magnitude",
	"ml":    "Local (Richter) Magnitude",
	"mb_lg": "Lg-Wave Magnitude",
	"md":    "Duration Magnitude",
	"MH":    "Hand-calculated Magnitude",
	"MI":    "Intensity-derived Magnitude",
	"Me":    "Energy Magnitude",
	"Mg":    "Surface Wave from Ground Displacement",
	"MWb":   "Moment Magnitude from Body Waves",
	"Mwr":   "Regional Moment Magnitude",
	"MwC":   "Centroid Moment Magnitude",
	"MwB":   "Body-wave Derived Moment Magnitude",
	"mww":   "Moment Magnitude from W-phase",
}

// Client queries the USGS event service for the last 24 hours.
type Client struct {
	baseURL    string
	httpClient *http.Client
	archiver   domain.Archiver
	location   *time.Location
	limit      int
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLocation sets the timezone the query window is expressed in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.location = loc }
}

// WithLimit caps the number of events requested.
func WithLimit(n int) Option {
	return func(c *Client) { c.limit = n }
}

// NewClient creates an earthquake client. archiver may be nil.
func NewClient(baseURL string, timeout time.Duration, archiver domain.Archiver, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		archiver:   archiver,
		location:   time.UTC,
		limit:      defaultLimit,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the client's store namespace.
func (c *Client) Name() string { return ClientName }

// Fetch requests the last 24 hours of events. An upstream failure is
// reported as an error record, never as a returned error.
func (c *Client) Fetch(ctx context.Context) (domain.Result, error) {
	end := domain.Now().In(c.location).Truncate(time.Second)
	start := end.Add(-window)

	fullURL, err := httpjson.BuildURL(c.baseURL, url.Values{
		"method":    {"query"},
		"format":    {"geojson"},
		"limit":     {strconv.Itoa(c.limit)},
		"orderby":   {"time"},
		"starttime": {start.Format(time.RFC3339)},
		"endtime":   {end.Format(time.RFC3339)},
	})
	if err != nil {
		return domain.Result{}, err
	}

	data := domain.MustTable(Columns...)

	body, status, err := httpjson.Get(ctx, c.httpClient, fullURL)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Result{}, ctx.Err()
		}
		c.logger.Warn("earthquake request failed", "status", status, "error", err)
		return domain.Result{
			Data:   data,
			Errors: []domain.FetchError{domain.NewFetchError(fullURL, "", status, err)},
		}, nil
	}

	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return domain.Result{
			Data:   data,
			Errors: []domain.FetchError{domain.NewFetchError(fullURL, "", status, fmt.Errorf("decode response: %w", err))},
		}, nil
	}

	c.archive(body)

	outcomes := make([]domain.Outcome[quake], 0, len(fc.Features))
	for _, f := range fc.Features {
		q, err := f.toQuake()
		if err != nil {
			outcomes = append(outcomes, domain.Failed[quake](domain.NewFetchError(fullURL, f.ID, status, err)))
			continue
		}
		outcomes = append(outcomes, domain.Succeeded(q))
	}
	quakes, errs := domain.Collect(outcomes)

	for _, q := range quakes {
		if err := data.Append(q.values()...); err != nil {
			return domain.Result{}, fmt.Errorf("build earthquake row: %w", err)
		}
	}

	return domain.Result{
		Data: data,
		Metadata: []domain.RunMetadata{{
			FetchedAt:    domain.Now(),
			URL:          domain.RedactURL(fullURL),
			Status:       status,
			SuccessCount: len(quakes),
			ErrorCount:   len(errs),
		}},
		Errors: errs,
	}, nil
}

func (c *Client) archive(body []byte) {
	if c.archiver == nil {
		return
	}
	path, err := c.archiver.Save(archiveName, json.RawMessage(body))
	if err != nil {
		c.logger.Warn("raw archive failed", "api", archiveName, "error", err)
		return
	}
	c.logger.Debug("raw payload archived", "path", path)
}

type quake struct {
	time      time.Time
	magnitude *float64
	scale     *string
	alert     *string
	tsunami   int64
	place     *string
	lon       float64
	lat       float64
	depth     float64
}

func (q quake) values() []any {
	return []any{
		q.time,
		nullable(q.magnitude),
		nullable(q.scale),
		nullable(q.alert),
		q.tsunami,
		nullable(q.place),
		q.lon,
		q.lat,
		q.depth,
		q.time.UTC().Format("date_2006_01_02"),
	}
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// GeoJSON response types.

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string     `json:"id"`
	Properties properties `json:"properties"`
	Geometry   *geometry  `json:"geometry"`
}

type properties struct {
	Time    *int64   `json:"time"` // ms since epoch
	Mag     *float64 `json:"mag"`
	MagType *string  `json:"magType"`
	Alert   *string  `json:"alert"`
	Tsunami int64    `json:"tsunami"`
	Place   *string  `json:"place"`
}

type geometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

func (f feature) toQuake() (quake, error) {
	if f.Properties.Time == nil {
		return quake{}, errors.New("feature has no time")
	}
	if f.Geometry == nil || len(f.Geometry.Coordinates) < 3 {
		return quake{}, errors.New("feature has no [lon, lat, depth] coordinates")
	}

	q := quake{
		time:      time.UnixMilli(*f.Properties.Time).UTC(),
		magnitude: f.Properties.Mag,
		alert:     f.Properties.Alert,
		tsunami:   f.Properties.Tsunami,
		place:     f.Properties.Place,
		lon:       f.Geometry.Coordinates[0],
		lat:       f.Geometry.Coordinates[1],
		depth:     f.Geometry.Coordinates[2],
	}
	if mt := f.Properties.MagType; mt != nil {
		scale := *mt
		if desc, ok := magnitudeScales[scale]; ok {
			scale = desc
		}
		q.scale = &scale
	}
	return q, nil
}
