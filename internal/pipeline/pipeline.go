package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/couchcryptid/feed-ingest-etl/internal/observability"
	"github.com/couchcryptid/feed-ingest-etl/internal/tablestore"
)

// Fetcher calls one upstream API and normalizes the response.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (domain.Result, error)
}

// Storer appends a result to the table store under the client's namespace.
type Storer interface {
	Store(client string, result domain.Result, partitionKey string) error
}

// Notifier announces a completed cycle.
type Notifier interface {
	Notify(ctx context.Context, summary domain.RunSummary) error
}

// Pipeline runs the fetch-then-store cycle for one client at a time.
type Pipeline struct {
	store    Storer
	notifier Notifier
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier publishes a summary after every cycle.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithClock sets the time source for run summaries and durations.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New creates a Pipeline writing to store. The store must serialize
// concurrent calls; see tablestore.Serialized.
func New(store Storer, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   store,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once any cycle has stored successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no fetch-and-store cycle has completed yet")
	}
	return nil
}

// RunOnce fetches from f and stores the result partitioned by partitionKey.
// Failures are not retried.
func (p *Pipeline) RunOnce(ctx context.Context, f Fetcher, partitionKey string) (domain.RunSummary, error) {
	client := f.Name()
	summary := domain.RunSummary{Client: client, StartedAt: p.clock.Now()}

	err := p.cycle(ctx, f, partitionKey, &summary)
	summary.FinishedAt = p.clock.Now()
	if err != nil {
		summary.Error = err.Error()
		p.metrics.FetchRuns.WithLabelValues(client, "error").Inc()
		p.logger.Error("ingest cycle failed", "client", client, "error", err)
	} else {
		p.metrics.FetchRuns.WithLabelValues(client, "success").Inc()
		p.metrics.LastSuccess.WithLabelValues(client).Set(float64(summary.FinishedAt.Unix()))
		p.ready.Store(true)
		p.logger.Info("ingest cycle completed",
			"client", client,
			"rows", summary.Rows,
			"partitions", len(summary.Partitions),
			"fetch_errors", summary.FetchErrs,
			"duration", summary.FinishedAt.Sub(summary.StartedAt),
		)
	}

	p.notify(ctx, summary)
	return summary, err
}

func (p *Pipeline) cycle(ctx context.Context, f Fetcher, partitionKey string, summary *domain.RunSummary) error {
	client := summary.Client

	start := p.clock.Now()
	result, err := f.Fetch(ctx)
	p.metrics.FetchDuration.WithLabelValues(client).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	summary.FetchErrs = len(result.Errors)
	if summary.FetchErrs > 0 {
		p.metrics.FetchItemErrors.WithLabelValues(client).Add(float64(summary.FetchErrs))
		p.logger.Warn("upstream items failed", "client", client, "count", summary.FetchErrs)
	}

	start = p.clock.Now()
	err = p.store.Store(client, result, partitionKey)
	p.metrics.StoreDuration.WithLabelValues(client).Observe(p.clock.Since(start).Seconds())

	var partial *tablestore.PartialWriteError
	switch {
	case err == nil:
		p.recordStored(summary, result.Data, partitionKey, func(string) bool { return true })
	case errors.As(err, &partial):
		committed := make(map[string]bool, len(partial.Committed))
		for _, name := range partial.Committed {
			committed[name] = true
		}
		p.recordStored(summary, result.Data, partitionKey, func(table string) bool { return committed[table] })
	}
	if err != nil {
		p.metrics.StoreFailures.WithLabelValues(client, failureKind(err)).Inc()
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// recordStored counts the rows and partitions of the data tables for which
// written reports true.
func (p *Pipeline) recordStored(summary *domain.RunSummary, data *domain.Table, partitionKey string, written func(table string) bool) {
	if data.Empty() {
		return
	}
	parts, err := data.Partition(partitionKey)
	if err != nil {
		return
	}
	for _, part := range parts {
		if !written(summary.Client + "/data/" + part.Value) {
			continue
		}
		summary.Rows += part.Rows.Len()
		summary.Partitions = append(summary.Partitions, part.Value)
	}
	p.metrics.RowsStored.WithLabelValues(summary.Client).Add(float64(summary.Rows))
}

func (p *Pipeline) notify(ctx context.Context, summary domain.RunSummary) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, summary); err != nil {
		p.logger.Warn("run summary not published", "client", summary.Client, "error", err)
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, tablestore.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, tablestore.ErrSchema):
		return "schema"
	default:
		return "storage"
	}
}
