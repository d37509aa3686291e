package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/couchcryptid/feed-ingest-etl/internal/tablestore"
)

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datastore.db")
	store, err := tablestore.New(path)
	require.NoError(t, err)

	data := domain.MustTable(
		domain.Col("date", domain.TypeTime),
		domain.Col("close", domain.TypeFloat),
		domain.Col("symbol", domain.TypeString),
		domain.Col(partitionKey, domain.TypeString),
	)
	require.NoError(t, data.Append(time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), 165.85, "IBM", "IBM"))
	require.NoError(t, data.Append(time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), 166.85, "IBM", "IBM"))
	require.NoError(t, data.Append(time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), nil, "AAPL", "AAPL"))

	err = store.Store("stocks", domain.Result{
		Data: data,
		Metadata: []domain.RunMetadata{{
			FetchedAt: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC), URL: "https://www.alphavantage.co/query", Status: 200, SuccessCount: 2,
		}},
	}, partitionKey)
	require.NoError(t, err)
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_List(t *testing.T) {
	db := seedStore(t)

	code, out, _ := runCLI("-db", db)
	require.Equal(t, 0, code)
	assert.Equal(t, "stocks/data/AAPL\nstocks/data/IBM\nstocks/metadata\n", out)

	code, out, _ = runCLI("-db", db, "-prefix", "stocks/data/I")
	require.Equal(t, 0, code)
	assert.Equal(t, "stocks/data/IBM\n", out)
}

func TestRun_Describe(t *testing.T) {
	db := seedStore(t)

	code, out, _ := runCLI("-db", db, "-table", "stocks/data/IBM", "-describe")
	require.Equal(t, 0, code)

	var info tablestore.TableInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "stocks/data/IBM", info.Name)
	assert.Equal(t, 2, info.Rows)
	assert.Equal(t, len("https://www.alphavantage.co/query"), info.Width, "one width for every table created in a call")
}

func TestRun_DumpCSV(t *testing.T) {
	db := seedStore(t)

	code, out, _ := runCLI("-db", db, "-table", "stocks/data/IBM")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,close,symbol,split_on", lines[0])
	assert.Equal(t, "2024-05-30T00:00:00Z,165.85,IBM,IBM", lines[1])
}

func TestRun_DumpJSON(t *testing.T) {
	db := seedStore(t)

	code, out, _ := runCLI("-db", db, "-table", "stocks/data/AAPL", "-format", "json")
	require.Equal(t, 0, code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "AAPL", rows[0]["symbol"])
	assert.Nil(t, rows[0]["close"])
}

func TestRun_Check(t *testing.T) {
	db := seedStore(t)

	code, out, _ := runCLI("-db", db, "-check")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "Phase 2: Partition consistency")
	assert.Contains(t, out, "Tables: 3")
	assert.NotContains(t, out, "FAIL")
}

func TestRun_CheckPrefixStillFindsMetadata(t *testing.T) {
	db := seedStore(t)

	code, out, _ := runCLI("-db", db, "-check", "-prefix", "stocks/data/")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "Tables: 2")
}

func TestRunChecks_ReportsInTableOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datastore.db")
	store, err := tablestore.New(path)
	require.NoError(t, err)

	data := domain.MustTable(
		domain.Col("city", domain.TypeString),
		domain.Col(partitionKey, domain.TypeString),
	)
	require.NoError(t, data.Append("Berlin", "berlin"))
	require.NoError(t, store.Store("weather", domain.Result{Data: data}, partitionKey))

	for _, client := range []string{"stocks", "earthquake"} {
		require.NoError(t, store.Store(client, domain.Result{Errors: []domain.FetchError{
			{Timestamp: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC), URL: "https://example.com/q?apikey=secret", Message: "boom"},
			{Timestamp: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC), URL: "https://example.com/q"},
		}}, partitionKey))
	}

	var first string
	for i := 0; i < 5; i++ {
		var out bytes.Buffer
		require.Equal(t, 1, runChecks(store, "", &out))
		if i == 0 {
			first = out.String()
			continue
		}
		assert.Equal(t, first, out.String(), "report must not depend on map order")
	}

	assert.Contains(t, first, "weather: data tables without a metadata table")
	assert.Contains(t, first, "FAIL (1 errors)")
	assert.Contains(t, first, "FAIL (4 errors)")
	wantOrder := []string{
		"earthquake/errors row 0: url carries an unredacted API key",
		"earthquake/errors row 1: error message is empty",
		"stocks/errors row 0: url carries an unredacted API key",
		"stocks/errors row 1: error message is empty",
	}
	last := -1
	for _, line := range wantOrder {
		idx := strings.Index(first, line)
		require.GreaterOrEqual(t, idx, 0, "missing %q in\n%s", line, first)
		assert.Greater(t, idx, last, "%q out of order", line)
		last = idx
	}
}

func TestRun_Errors(t *testing.T) {
	db := seedStore(t)

	code, _, errOut := runCLI("-db", db, "-table", "stocks/data/MSFT")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "table not found")

	code, _, _ = runCLI("-db", filepath.Join(t.TempDir(), "missing.db"))
	assert.Equal(t, 1, code)

	code, _, errOut = runCLI("-db", db, "-format", "xml", "-table", "stocks/metadata")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "xml")

	code, _, _ = runCLI("-db", db, "-describe")
	assert.Equal(t, 2, code)
}
