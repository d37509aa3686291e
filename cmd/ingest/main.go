package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/feed-ingest-etl/internal/adapter/alphavantage"
	httpadapter "github.com/couchcryptid/feed-ingest-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/feed-ingest-etl/internal/adapter/kafka"
	"github.com/couchcryptid/feed-ingest-etl/internal/adapter/openweather"
	"github.com/couchcryptid/feed-ingest-etl/internal/adapter/usgs"
	"github.com/couchcryptid/feed-ingest-etl/internal/archive"
	"github.com/couchcryptid/feed-ingest-etl/internal/config"
	"github.com/couchcryptid/feed-ingest-etl/internal/observability"
	"github.com/couchcryptid/feed-ingest-etl/internal/pipeline"
	"github.com/couchcryptid/feed-ingest-etl/internal/sources"
	"github.com/couchcryptid/feed-ingest-etl/internal/tablestore"
)

// partitionKey is the column every client adds to choose the data table.
const partitionKey = "split_on"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	store, err := tablestore.New(cfg.DatastorePath,
		tablestore.WithMinWidth(cfg.StringMinWidth),
		tablestore.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to open table store", "error", err)
		os.Exit(1)
	}
	// Every reader and writer in this process goes through one lock.
	tables := tablestore.NewSerialized(store)

	registry, err := sources.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		logger.Error("failed to load source registry", "error", err)
		os.Exit(1)
	}

	archiver := archive.New(cfg.RawDataDir, archive.WithCompression(cfg.RawCompress))

	jobs, err := buildJobs(cfg, registry, tables, archiver, metrics, logger)
	if err != nil {
		logger.Error("failed to configure jobs", "error", err)
		os.Exit(1)
	}

	var opts []pipeline.Option
	var notifier *kafkaadapter.Notifier
	if cfg.KafkaEnabled {
		notifier = kafkaadapter.NewNotifier(cfg, logger)
		opts = append(opts, pipeline.WithNotifier(notifier))
		logger.Info("run summaries enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(tables, logger, metrics, opts...)
	scheduler := pipeline.NewScheduler(p, jobs, logger, metrics, pipeline.WithRunOnStart(cfg.RunOnStart))

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, tables, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start scheduler.
	go func() {
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// buildJobs wires one job per client. A client whose API key is not set is
// skipped with a warning.
func buildJobs(cfg *config.Config, registry *sources.Registry, tables *tablestore.Serialized, archiver *archive.Archiver, metrics *observability.Metrics, logger *slog.Logger) ([]pipeline.Job, error) {
	daily := pipeline.DailyAt(cfg.DailyAt.Hour, cfg.DailyAt.Minute, cfg.Timezone)
	var jobs []pipeline.Job

	quakeURL, err := registry.URL("earthquake")
	if err != nil {
		return nil, err
	}
	jobs = append(jobs, pipeline.Job{
		Fetcher:      usgs.NewClient(quakeURL, cfg.APITimeout, archiver, logger, usgs.WithLocation(cfg.Timezone)),
		PartitionKey: partitionKey,
		Schedule:     daily,
	})

	if cfg.OpenWeatherAPIKey == "" {
		logger.Warn("OPENWEATHER_API_KEY not set, weather job disabled")
	} else {
		geocodeURL, err := registry.URL("geocoding")
		if err != nil {
			return nil, err
		}
		weatherURL, err := registry.URL("weather")
		if err != nil {
			return nil, err
		}
		cities, err := sources.LoadList(cfg.CitiesFile)
		if err != nil {
			return nil, fmt.Errorf("load cities: %w", err)
		}
		jobs = append(jobs, pipeline.Job{
			Fetcher: openweather.NewClient(openweather.Config{
				GeocodeURL:    geocodeURL,
				WeatherURL:    weatherURL,
				APIKey:        cfg.OpenWeatherAPIKey,
				Cities:        cities,
				Timeout:       cfg.APITimeout,
				RatePerSecond: cfg.OpenWeatherRate,
				CacheSize:     cfg.GeocodeCacheSize,
				Archiver:      archiver,
				Metrics:       metrics,
			}, logger),
			PartitionKey: partitionKey,
			Schedule:     pipeline.Every(cfg.WeatherInterval),
		})
	}

	if cfg.AlphaVantageAPIKey == "" {
		logger.Warn("ALPHAVANTAGE_API_KEY not set, stocks job disabled")
	} else {
		stocksURL, err := registry.URL("stocks")
		if err != nil {
			return nil, err
		}
		symbols, err := sources.LoadList(cfg.SymbolsFile)
		if err != nil {
			return nil, fmt.Errorf("load symbols: %w", err)
		}
		jobs = append(jobs, pipeline.Job{
			Fetcher: alphavantage.NewClient(stocksURL, cfg.AlphaVantageAPIKey, symbols, cfg.StockSymbolLimit,
				tables, cfg.APITimeout, archiver, logger),
			PartitionKey: partitionKey,
			Schedule:     daily,
		})
	}

	return jobs, nil
}
