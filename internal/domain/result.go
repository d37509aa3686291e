package domain

import (
	"fmt"
	"net/url"
	"time"
)

// Result is what a fetch hands to the store: the normalized rows, one
// metadata record per fetch run and one error record per failed sub-request.
// Each part is optional; a Result with all three empty stores nothing.
type Result struct {
	Data     *Table
	Metadata []RunMetadata
	Errors   []FetchError
}

// Empty reports whether the result carries nothing to store.
func (r Result) Empty() bool {
	return r.Data.Empty() && len(r.Metadata) == 0 && len(r.Errors) == 0
}

// RunMetadata describes one fetch run.
type RunMetadata struct {
	FetchedAt    time.Time
	URL          string
	Status       int
	SuccessCount int
	ErrorCount   int
}

// FetchError records a failed upstream sub-request. Context names the item
// being fetched (a symbol or city), if any. Status is 0 when no response
// was received.
type FetchError struct {
	Timestamp time.Time
	URL       string
	Message   string
	Context   string
	Status    int
}

func (e *FetchError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("fetch %s (%s): %s", e.URL, e.Context, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

// NewFetchError stamps a fetch error with the current time and redacts
// credentials from the URL.
func NewFetchError(rawURL, context string, status int, err error) FetchError {
	return FetchError{
		Timestamp: clock.Now(),
		URL:       RedactURL(rawURL),
		Message:   err.Error(),
		Context:   context,
		Status:    status,
	}
}

// MetadataColumns is the fixed schema of {client}/metadata.
var MetadataColumns = []Column{
	Col("fetched_at", TypeTime),
	Col("url", TypeString),
	Col("status", TypeInt),
	Col("success_count", TypeInt),
	Col("error_count", TypeInt),
}

// ErrorColumns is the fixed schema of {client}/errors.
var ErrorColumns = []Column{
	Col("timestamp", TypeTime),
	Col("url", TypeString),
	Col("error", TypeString),
	Col("context", TypeString),
	Col("status", TypeInt),
}

// MetadataTable converts the metadata records into a table, or nil when there are none.
func (r Result) MetadataTable() *Table {
	if len(r.Metadata) == 0 {
		return nil
	}
	t := MustTable(MetadataColumns...)
	for _, m := range r.Metadata {
		// Values match the fixed schema, so Append cannot fail.
		_ = t.Append(m.FetchedAt, m.URL, nullableInt(m.Status), int64(m.SuccessCount), int64(m.ErrorCount))
	}
	return t
}

// ErrorTable converts the error records into a table, or nil when there are none.
func (r Result) ErrorTable() *Table {
	if len(r.Errors) == 0 {
		return nil
	}
	t := MustTable(ErrorColumns...)
	for _, e := range r.Errors {
		_ = t.Append(e.Timestamp, e.URL, e.Message, e.Context, nullableInt(e.Status))
	}
	return t
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return int64(n)
}

// Outcome is the per-item result of a batched fetch: either a value or the
// error record describing why the item failed.
type Outcome[T any] struct {
	Value T
	Err   *FetchError
}

// Succeeded wraps a successful item.
func Succeeded[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Failed wraps a failed item.
func Failed[T any](e FetchError) Outcome[T] {
	return Outcome[T]{Err: &e}
}

// Collect splits outcomes into the successful values and the error records,
// keeping the original order of each.
func Collect[T any](outcomes []Outcome[T]) ([]T, []FetchError) {
	var values []T
	var errs []FetchError
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, *o.Err)
			continue
		}
		values = append(values, o.Value)
	}
	return values, errs
}

var credentialParams = []string{"appid", "apikey", "access_token", "token"}

// RedactURL masks credential query parameters so URLs can be stored.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, p := range credentialParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RunSummary describes one completed fetch-and-store cycle.
type RunSummary struct {
	Client     string    `json:"client"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       int       `json:"rows"`
	Partitions []string  `json:"partitions,omitempty"`
	FetchErrs  int       `json:"fetch_errors"`
	Error      string    `json:"error,omitempty"`
}
