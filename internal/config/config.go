package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatastorePath  string
	StringMinWidth int
	RawDataDir     string
	RawCompress    bool

	SourcesFile string
	SymbolsFile string
	CitiesFile  string

	OpenWeatherAPIKey  string
	AlphaVantageAPIKey string
	APITimeout         time.Duration
	StockSymbolLimit   int
	OpenWeatherRate    float64 // requests per second
	GeocodeCacheSize   int

	Timezone        *time.Location
	WeatherInterval time.Duration
	DailyAt         TimeOfDay
	RunOnStart      bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Run summary publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// TimeOfDay is a wall-clock time in the configured timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" in 24-hour notation.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	ts, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: ts.Hour(), Minute: ts.Minute()}, nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	apiTimeout, err := parseDuration("API_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	weatherInterval, err := parseDuration("WEATHER_INTERVAL", "2h")
	if err != nil {
		return nil, err
	}

	dailyAt, err := ParseTimeOfDay(sharedcfg.EnvOrDefault("DAILY_AT", "06:00"))
	if err != nil {
		return nil, errors.New("invalid DAILY_AT, want HH:MM")
	}

	tz, err := time.LoadLocation(sharedcfg.EnvOrDefault("TIMEZONE", "Europe/Berlin"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	minWidth, err := parsePositiveInt("STRING_MIN_WIDTH", 255)
	if err != nil {
		return nil, err
	}
	symbolLimit, err := parsePositiveInt("STOCK_SYMBOL_LIMIT", 2)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("GEOCODE_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}

	rate, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("OPENWEATHER_RATE", "1"), 64)
	if err != nil || rate <= 0 {
		return nil, errors.New("invalid OPENWEATHER_RATE")
	}

	cfg := &Config{
		DatastorePath:  sharedcfg.EnvOrDefault("DATASTORE_PATH", "data/processed/datastore.db"),
		StringMinWidth: minWidth,
		RawDataDir:     sharedcfg.EnvOrDefault("RAW_DATA_DIR", "data/raw"),
		RawCompress:    os.Getenv("RAW_COMPRESS") == "true",

		SourcesFile: sharedcfg.EnvOrDefault("SOURCES_FILE", "config/sources.csv"),
		SymbolsFile: sharedcfg.EnvOrDefault("SYMBOLS_FILE", "config/symbols.csv"),
		CitiesFile:  sharedcfg.EnvOrDefault("CITIES_FILE", "config/cities.csv"),

		OpenWeatherAPIKey:  os.Getenv("OPENWEATHER_API_KEY"),
		AlphaVantageAPIKey: os.Getenv("ALPHAVANTAGE_API_KEY"),
		APITimeout:         apiTimeout,
		StockSymbolLimit:   symbolLimit,
		OpenWeatherRate:    rate,
		GeocodeCacheSize:   cacheSize,

		Timezone:        tz,
		WeatherInterval: weatherInterval,
		DailyAt:         dailyAt,
		RunOnStart:      os.Getenv("RUN_ON_START") == "true",

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "ingest-runs"),
	}

	if cfg.DatastorePath == "" {
		return nil, errors.New("DATASTORE_PATH is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
