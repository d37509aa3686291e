package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryCSV = `# name;url;type;notes
weather;https://api.openweathermap.org/data/2.5/weather;REST;current weather
geocoding;https://api.openweathermap.org/geo/1.0/direct;REST;
earthquake;https://earthquake.usgs.gov/fdsnws/event/1/query;REST;USGS

stocks; https://www.alphavantage.co/query ;REST;25 calls/day
weather;https://duplicate.example.com;REST;ignored
`

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry(strings.NewReader(registryCSV))
	require.NoError(t, err)

	u, err := reg.URL("stocks")
	require.NoError(t, err)
	assert.Equal(t, "https://www.alphavantage.co/query", u)

	src, err := reg.Lookup("weather")
	require.NoError(t, err)
	assert.Equal(t, "https://api.openweathermap.org/data/2.5/weather", src.URL)
	assert.Equal(t, "current weather", src.Notes)

	_, err = reg.URL("crypto")
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestParseList(t *testing.T) {
	items, err := ParseList(strings.NewReader("# symbols\nIBM\nAAPL;Apple\n\nIBM\nMSFT\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"IBM", "AAPL", "MSFT"}, items)
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "sources.csv")
	listPath := filepath.Join(dir, "cities.csv")
	require.NoError(t, os.WriteFile(regPath, []byte(registryCSV), 0o600))
	require.NoError(t, os.WriteFile(listPath, []byte("Berlin\nHamburg\n"), 0o600))

	reg, err := LoadRegistry(regPath)
	require.NoError(t, err)
	_, err = reg.URL("earthquake")
	require.NoError(t, err)

	cities, err := LoadList(listPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Berlin", "Hamburg"}, cities)

	_, err = LoadList(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
}
