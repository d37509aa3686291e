// Package alphavantage fetches daily stock prices from the Alpha Vantage
// TIME_SERIES_DAILY endpoint.
package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/feed-ingest-etl/internal/adapter/httpjson"
	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
)

const (
	// ClientName is the store namespace for stock tables.
	ClientName  = "stocks"
	archiveName = "stocks"

	seriesKey  = "Time Series (Daily)"
	dateLayout = "2006-01-02"
)

// Columns is the schema of stocks/data/*.
var Columns = []domain.Column{
	domain.Col("date", domain.TypeTime),
	domain.Col("open", domain.TypeFloat),
	domain.Col("high", domain.TypeFloat),
	domain.Col("low", domain.TypeFloat),
	domain.Col("close", domain.TypeFloat),
	domain.Col("volume", domain.TypeInt),
	domain.Col("symbol", domain.TypeString),
	domain.Col("split_on", domain.TypeString),
}

// ErrNoTimeSeries is recorded when a response lacks the daily series,
// which is how the API reports an exhausted quota.
var ErrNoTimeSeries = errors.New("response has no " + seriesKey)

// HistoryChecker reports whether a table already exists in the store.
type HistoryChecker interface {
	HasTable(name string) (bool, error)
}

// Client requests the compact daily series for each tracked symbol.
type Client struct {
	baseURL    string
	apiKey     string
	symbols    []string
	history    HistoryChecker
	httpClient *http.Client
	archiver   domain.Archiver
	logger     *slog.Logger
}

// NewClient creates a stock client for at most limit symbols. The free tier
// allows 25 calls a day. archiver may be nil.
func NewClient(baseURL, apiKey string, symbols []string, limit int, history HistoryChecker, timeout time.Duration, archiver domain.Archiver, logger *slog.Logger) *Client {
	if limit > 0 && len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		symbols:    symbols,
		history:    history,
		httpClient: &http.Client{Timeout: timeout},
		archiver:   archiver,
		logger:     logger,
	}
}

// Name returns the client's store namespace.
func (c *Client) Name() string { return ClientName }

// Symbols returns the symbols this client requests.
func (c *Client) Symbols() []string { return c.symbols }

// Fetch requests each symbol. A symbol whose data table already exists
// contributes only its most recent point; otherwise the whole compact
// history is kept.
func (c *Client) Fetch(ctx context.Context) (domain.Result, error) {
	outcomes := make([]domain.Outcome[[]point], 0, len(c.symbols))
	var raw []map[string]json.RawMessage
	lastStatus := 0

	for _, symbol := range c.symbols {
		fullURL, err := httpjson.BuildURL(c.baseURL, url.Values{
			"function":   {"TIME_SERIES_DAILY"},
			"symbol":     {symbol},
			"outputsize": {"compact"},
			"datatype":   {"json"},
			"apikey":     {c.apiKey},
		})
		if err != nil {
			return domain.Result{}, err
		}

		body, status, err := httpjson.Get(ctx, c.httpClient, fullURL)
		if ctx.Err() != nil {
			return domain.Result{}, ctx.Err()
		}
		if status != 0 {
			lastStatus = status
		}
		if err != nil {
			c.logger.Warn("stock request failed", "symbol", symbol, "status", status, "error", err)
			outcomes = append(outcomes, domain.Failed[[]point](domain.NewFetchError(fullURL, symbol, status, err)))
			continue
		}

		series, err := decodeSeries(body)
		if err != nil {
			c.logger.Warn("stock response unusable", "symbol", symbol, "error", err)
			outcomes = append(outcomes, domain.Failed[[]point](domain.NewFetchError(fullURL, symbol, status, err)))
			continue
		}
		raw = append(raw, map[string]json.RawMessage{symbol: series})

		points, err := parsePoints(symbol, series)
		if err != nil {
			outcomes = append(outcomes, domain.Failed[[]point](domain.NewFetchError(fullURL, symbol, status, err)))
			continue
		}

		hasHistory, err := c.history.HasTable(ClientName + "/data/" + partitionValue(symbol))
		if err != nil {
			outcomes = append(outcomes, domain.Failed[[]point](domain.NewFetchError(fullURL, symbol, status, fmt.Errorf("check history: %w", err))))
			continue
		}
		if hasHistory && len(points) > 0 {
			points = points[len(points)-1:]
		}
		outcomes = append(outcomes, domain.Succeeded(points))
	}

	c.archive(raw)

	batches, errs := domain.Collect(outcomes)
	data := domain.MustTable(Columns...)
	for _, points := range batches {
		for _, p := range points {
			if err := data.Append(p.values()...); err != nil {
				return domain.Result{}, fmt.Errorf("build stock row: %w", err)
			}
		}
	}

	return domain.Result{
		Data: data,
		Metadata: []domain.RunMetadata{{
			FetchedAt:    domain.Now(),
			URL:          domain.RedactURL(c.baseURL),
			Status:       lastStatus,
			SuccessCount: len(batches),
			ErrorCount:   len(errs),
		}},
		Errors: errs,
	}, nil
}

func (c *Client) archive(raw []map[string]json.RawMessage) {
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

// decodeSeries extracts the daily series. When it is missing, the API's
// own explanation is included in the error.
func decodeSeries(body []byte) (json.RawMessage, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if series, ok := resp[seriesKey]; ok {
		return series, nil
	}
	for _, key := range []string{"Note", "Information", "Error Message"} {
		if msg, ok := resp[key]; ok {
			var text string
			if json.Unmarshal(msg, &text) == nil && text != "" {
				return nil, fmt.Errorf("%w: %s", ErrNoTimeSeries, text)
			}
		}
	}
	return nil, ErrNoTimeSeries
}

type point struct {
	date   time.Time
	open   *float64
	high   *float64
	low    *float64
	close  *float64
	volume *int64
	symbol string
}

func (p point) values() []any {
	return []any{
		p.date,
		floatOrNil(p.open),
		floatOrNil(p.high),
		floatOrNil(p.low),
		floatOrNil(p.close),
		intOrNil(p.volume),
		p.symbol,
		partitionValue(p.symbol),
	}
}

// parsePoints converts the series into points ordered by date. Values that
// are not numbers become null.
func parsePoints(symbol string, series json.RawMessage) ([]point, error) {
	var days map[string]map[string]string
	if err := json.Unmarshal(series, &days); err != nil {
		return nil, fmt.Errorf("decode %s: %w", seriesKey, err)
	}

	points := make([]point, 0, len(days))
	for day, fields := range days {
		date, err := time.Parse(dateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", day, err)
		}
		points = append(points, point{
			date:   date,
			open:   parseFloat(fields["1. open"]),
			high:   parseFloat(fields["2. high"]),
			low:    parseFloat(fields["3. low"]),
			close:  parseFloat(fields["4. close"]),
			volume: parseInt(fields["5. volume"]),
			symbol: symbol,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].date.Before(points[j].date) })
	return points, nil
}

// partitionValue makes a symbol safe to use as a table name segment.
func partitionValue(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt(s string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func intOrNil(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
