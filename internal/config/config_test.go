package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/processed/datastore.db", cfg.DatastorePath)
	assert.Equal(t, 255, cfg.StringMinWidth)
	assert.Equal(t, "data/raw", cfg.RawDataDir)
	assert.False(t, cfg.RawCompress)
	assert.Equal(t, "config/sources.csv", cfg.SourcesFile)
	assert.Equal(t, "config/symbols.csv", cfg.SymbolsFile)
	assert.Equal(t, "config/cities.csv", cfg.CitiesFile)
	assert.Empty(t, cfg.OpenWeatherAPIKey)
	assert.Empty(t, cfg.AlphaVantageAPIKey)
	assert.Equal(t, 10*time.Second, cfg.APITimeout)
	assert.Equal(t, 2, cfg.StockSymbolLimit)
	assert.InDelta(t, 1.0, cfg.OpenWeatherRate, 0.0001)
	assert.Equal(t, 256, cfg.GeocodeCacheSize)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone.String())
	assert.Equal(t, 2*time.Hour, cfg.WeatherInterval)
	assert.Equal(t, TimeOfDay{Hour: 6}, cfg.DailyAt)
	assert.False(t, cfg.RunOnStart)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ingest-runs", cfg.KafkaTopic)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("DATASTORE_PATH", "/var/lib/ingest/store.db")
	t.Setenv("STRING_MIN_WIDTH", "512")
	t.Setenv("RAW_DATA_DIR", "/var/lib/ingest/raw")
	t.Setenv("RAW_COMPRESS", "true")
	t.Setenv("OPENWEATHER_API_KEY", "ow-key")
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-key")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("STOCK_SYMBOL_LIMIT", "5")
	t.Setenv("OPENWEATHER_RATE", "0.5")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("WEATHER_INTERVAL", "30m")
	t.Setenv("DAILY_AT", "12:30")
	t.Setenv("RUN_ON_START", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "runs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ingest/store.db", cfg.DatastorePath)
	assert.Equal(t, 512, cfg.StringMinWidth)
	assert.Equal(t, "/var/lib/ingest/raw", cfg.RawDataDir)
	assert.True(t, cfg.RawCompress)
	assert.Equal(t, "ow-key", cfg.OpenWeatherAPIKey)
	assert.Equal(t, "av-key", cfg.AlphaVantageAPIKey)
	assert.Equal(t, 3*time.Second, cfg.APITimeout)
	assert.Equal(t, 5, cfg.StockSymbolLimit)
	assert.InDelta(t, 0.5, cfg.OpenWeatherRate, 0.0001)
	assert.Equal(t, time.UTC, cfg.Timezone)
	assert.Equal(t, 30*time.Minute, cfg.WeatherInterval)
	assert.Equal(t, TimeOfDay{Hour: 12, Minute: 30}, cfg.DailyAt)
	assert.True(t, cfg.RunOnStart)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "runs", cfg.KafkaTopic)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"API_TIMEOUT":        "-1s",
		"WEATHER_INTERVAL":   "often",
		"DAILY_AT":           "25:00",
		"TIMEZONE":           "Mars/Olympus_Mons",
		"STRING_MIN_WIDTH":   "0",
		"STOCK_SYMBOL_LIMIT": "two",
		"GEOCODE_CACHE_SIZE": "-5",
		"OPENWEATHER_RATE":   "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("06:05")
	require.NoError(t, err)
	assert.Equal(t, "06:05", tod.String())

	_, err = ParseTimeOfDay("6am")
	require.Error(t, err)
}
