package openweather

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/couchcryptid/feed-ingest-etl/internal/observability"
)

type countingGeocoder struct {
	calls  int
	result domain.Location
	err    error
}

func (m *countingGeocoder) Geocode(_ context.Context, _ string) (domain.Location, error) {
	m.calls++
	return m.result, m.err
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCachedGeocoder_Hit(t *testing.T) {
	inner := &countingGeocoder{result: domain.Location{Name: "Berlin", Country: "DE", Lat: 52.52, Lon: 13.40}}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedGeocoder(inner, 10, metrics)

	first, err := cached.Geocode(context.Background(), "Berlin")
	require.NoError(t, err)
	second, err := cached.Geocode(context.Background(), " berlin ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "lookups differing only in case and spacing share an entry")
	assert.InDelta(t, 1.0, counterValue(t, metrics.GeocodeCache.WithLabelValues("hit")), 0.001)
	assert.InDelta(t, 1.0, counterValue(t, metrics.GeocodeCache.WithLabelValues("miss")), 0.001)
}

func TestCachedGeocoder_NotFoundIsNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, 10, nil)

	_, _ = cached.Geocode(context.Background(), "Atlantis")
	_, _ = cached.Geocode(context.Background(), "Atlantis")

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_ErrorIsNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("boom")}
	cached := NewCachedGeocoder(inner, 10, nil)

	_, err := cached.Geocode(context.Background(), "Berlin")
	require.Error(t, err)

	inner.err = nil
	inner.result = domain.Location{Name: "Berlin"}
	loc, err := cached.Geocode(context.Background(), "Berlin")
	require.NoError(t, err)
	assert.Equal(t, "Berlin", loc.Name)
	assert.Equal(t, 2, inner.calls)
}

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(3)

	c.put("a", domain.Location{Name: "A"})
	c.put("b", domain.Location{Name: "B"})

	loc, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", loc.Name)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Location{Name: "A"})
	c.put("b", domain.Location{Name: "B"})
	c.put("c", domain.Location{Name: "C"}) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")
	assert.Equal(t, 2, c.len())

	loc, ok := c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", loc.Name)
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Location{Name: "A"})
	c.put("b", domain.Location{Name: "B"})
	c.get("a")
	c.put("c", domain.Location{Name: "C"})

	_, ok := c.get("a")
	assert.True(t, ok, "a was used recently")
	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Location{Name: "A1"})
	c.put("a", domain.Location{Name: "A2"})

	loc, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", loc.Name)
	assert.Equal(t, 1, c.len())
}
