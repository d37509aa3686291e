package alphavantage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "av-test-key"

const ibmSeries = `{
  "Meta Data": {"2. Symbol": "IBM"},
  "Time Series (Daily)": {
    "2024-05-31": {"1. open": "166.5400", "2. high": "168.7100", "3. low": "165.6600", "4. close": "166.8500", "5. volume": "4906865"},
    "2024-05-29": {"1. open": "169.3500", "2. high": "169.7600", "3. low": "167.4900", "4. close": "167.6800", "5. volume": "4219440"},
    "2024-05-30": {"1. open": "167.0000", "2. high": "167.9000", "3. low": "165.4100", "4. close": "165.8500", "5. volume": "n/a"}
  }
}`

const rateLimited = `{"Information": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`

type fakeHistory struct {
	tables map[string]bool
	err    error
	asked  []string
}

func (f *fakeHistory) HasTable(name string) (bool, error) {
	f.asked = append(f.asked, name)
	return f.tables[name], f.err
}

type recordingArchiver struct {
	apis []string
}

func (r *recordingArchiver) Save(api string, _ any) (string, error) {
	r.apis = append(r.apis, api)
	return "/tmp/" + api + ".json", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "TIME_SERIES_DAILY", q.Get("function"))
		assert.Equal(t, "compact", q.Get("outputsize"))
		assert.Equal(t, "json", q.Get("datatype"))
		assert.Equal(t, testKey, q.Get("apikey"))
		body, ok := bodies[q.Get("symbol")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Fetch_FullHistory(t *testing.T) {
	srv := newServer(t, map[string]string{"IBM": ibmSeries})
	history := &fakeHistory{}
	arch := &recordingArchiver{}

	c := NewClient(srv.URL, testKey, []string{"IBM"}, 2, history, 5*time.Second, arch, testLogger())
	res, err := c.Fetch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, res.Data.Len())
	assert.Equal(t, []string{"stocks/data/IBM"}, history.asked)
	assert.Equal(t, []string{"stocks"}, arch.apis)

	dates, err := res.Data.Values("date")
	require.NoError(t, err)
	assert.Equal(t, []any{
		time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
	}, dates)

	first := res.Data.Row(0)
	assert.Equal(t, 169.35, first[1])
	assert.Equal(t, 169.76, first[2])
	assert.Equal(t, 167.49, first[3])
	assert.Equal(t, 167.68, first[4])
	assert.Equal(t, int64(4219440), first[5])
	assert.Equal(t, "IBM", first[6])
	assert.Equal(t, "IBM", first[7])

	v, ok := res.Data.Value(1, "volume")
	require.True(t, ok)
	assert.Nil(t, v, "non-numeric values become null")

	require.Len(t, res.Metadata, 1)
	assert.Equal(t, 1, res.Metadata[0].SuccessCount)
	assert.Equal(t, 0, res.Metadata[0].ErrorCount)
	assert.Empty(t, res.Errors)
}

func TestClient_Fetch_LatestPointWhenHistoryExists(t *testing.T) {
	srv := newServer(t, map[string]string{"IBM": ibmSeries})
	history := &fakeHistory{tables: map[string]bool{"stocks/data/IBM": true}}

	c := NewClient(srv.URL, testKey, []string{"IBM"}, 2, history, 5*time.Second, nil, testLogger())
	res, err := c.Fetch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, res.Data.Len())
	v, _ := res.Data.Value(0, "date")
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), v)
}

func TestClient_Fetch_RateLimitedSymbol(t *testing.T) {
	srv := newServer(t, map[string]string{"IBM": ibmSeries, "AAPL": rateLimited})

	c := NewClient(srv.URL, testKey, []string{"AAPL", "IBM"}, 2, &fakeHistory{}, 5*time.Second, nil, testLogger())
	res, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Data.Len())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "AAPL", res.Errors[0].Context)
	assert.Contains(t, res.Errors[0].Message, "Time Series (Daily)")
	assert.Contains(t, res.Errors[0].Message, "25 requests per day")
	assert.Equal(t, http.StatusOK, res.Errors[0].Status)
	assert.Contains(t, res.Errors[0].URL, "apikey=REDACTED")

	assert.Equal(t, 1, res.Metadata[0].SuccessCount)
	assert.Equal(t, 1, res.Metadata[0].ErrorCount)
}

func TestClient_Fetch_SymbolLimit(t *testing.T) {
	srv := newServer(t, map[string]string{"IBM": ibmSeries, "AAPL": ibmSeries, "MSFT": ibmSeries})

	c := NewClient(srv.URL, testKey, []string{"IBM", "AAPL", "MSFT"}, 2, &fakeHistory{}, 5*time.Second, nil, testLogger())
	assert.Equal(t, []string{"IBM", "AAPL"}, c.Symbols())

	res, err := c.Fetch(context.Background())
	require.NoError(t, err)
	symbols, err := res.Data.Values("symbol")
	require.NoError(t, err)
	assert.NotContains(t, symbols, "MSFT")
}

func TestClient_Fetch_HistoryCheckFails(t *testing.T) {
	srv := newServer(t, map[string]string{"IBM": ibmSeries})
	history := &fakeHistory{err: errors.New("store locked")}

	c := NewClient(srv.URL, testKey, []string{"IBM"}, 2, history, 5*time.Second, nil, testLogger())
	res, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Data.Empty())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "store locked")
}

func TestClient_Fetch_HTTPError(t *testing.T) {
	srv := newServer(t, map[string]string{})

	c := NewClient(srv.URL, testKey, []string{"IBM"}, 2, &fakeHistory{}, 5*time.Second, nil, testLogger())
	res, err := c.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, http.StatusNotFound, res.Errors[0].Status)
	assert.Equal(t, "IBM", res.Errors[0].Context)
}

func TestDecodeSeries_MissingWithoutExplanation(t *testing.T) {
	_, err := decodeSeries([]byte(`{"Meta Data": {}}`))
	require.ErrorIs(t, err, ErrNoTimeSeries)
}

func TestPartitionValue(t *testing.T) {
	assert.Equal(t, "BRK_B", partitionValue("BRK/B"))
	assert.Equal(t, "IBM", partitionValue("IBM"))
}
