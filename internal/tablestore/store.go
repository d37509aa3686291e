package tablestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	"github.com/jonboulle/clockwork"
	bolt "go.etcd.io/bbolt"
)

// Table name segments and bucket keys of the on-disk layout.
const (
	dataSegment   = "data"
	metadataTable = "metadata"
	errorsTable   = "errors"

	schemaKey  = "schema"
	rowsBucket = "rows"
)

// Store appends result envelopes to a single bbolt file, one named table
// per partition value plus a metadata and an errors table per client.
//
// Store does no locking of its own beyond the file lock: at most one
// writer may use a file at a time. See Serialized for in-process callers
// that share one Store across goroutines.
type Store struct {
	path        string
	minWidth    int
	lockTimeout time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMinWidth sets a pre-declared floor for string column widths of newly
// created tables. It is combined with the per-call estimate by max.
func WithMinWidth(n int) Option {
	return func(s *Store) { s.minWidth = n }
}

// WithLockTimeout bounds how long opening the file waits for another holder of its lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used to stamp table creation.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns a Store backed by the file at path, creating its parent
// directory if needed. The file itself is created on the first write.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store path is empty", ErrInvalidArgument)
	}
	s := &Store{
		path:        path,
		minWidth:    domain.DefaultMinWidth,
		lockTimeout: time.Second,
		clock:       clockwork.NewRealClock(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %w", ErrStorageIO, err)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

type batch struct {
	table string
	rows  *domain.Table
}

// Store appends result to the tables of client. Data rows go to
// {client}/data/{value} grouped by the value of column partitionKey,
// metadata to {client}/metadata and errors to {client}/errors.
//
// Arguments are validated before the file is touched. Each destination is
// appended in its own transaction; if any fails, the rest are still
// attempted and a *PartialWriteError reports which tables were committed.
func (s *Store) Store(client string, result domain.Result, partitionKey string) (err error) {
	batches, width, err := s.plan(client, result, partitionKey)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		s.logger.Debug("nothing to store", "client", client)
		return nil
	}

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close %s: %w", ErrStorageIO, s.path, cerr))
		}
	}()

	var committed []string
	var failed []TableError
	for _, b := range batches {
		created, aerr := s.appendBatch(db, b, width)
		if aerr != nil {
			s.logger.Error("table append failed", "table", b.table, "rows", b.rows.Len(), "error", aerr)
			failed = append(failed, TableError{Table: b.table, Err: aerr})
			continue
		}
		if created {
			s.logger.Info("table created", "table", b.table, "width", width)
		}
		s.logger.Debug("table appended", "table", b.table, "rows", b.rows.Len())
		committed = append(committed, b.table)
	}

	if len(failed) > 0 {
		return &PartialWriteError{Committed: committed, Failed: failed}
	}
	return nil
}

// plan validates the call and splits result into destination batches.
// It returns the string width for any table this call creates.
func (s *Store) plan(client string, result domain.Result, partitionKey string) ([]batch, int, error) {
	if client == "" {
		return nil, 0, fmt.Errorf("%w: client name is empty", ErrInvalidArgument)
	}
	if strings.Contains(client, "/") {
		return nil, 0, fmt.Errorf("%w: client name %q contains '/'", ErrInvalidArgument, client)
	}
	if partitionKey == "" {
		return nil, 0, fmt.Errorf("%w: partition key is empty", ErrInvalidArgument)
	}

	var batches []batch
	if !result.Data.Empty() {
		if _, ok := result.Data.Column(partitionKey); !ok {
			return nil, 0, &SchemaError{Column: partitionKey, Available: result.Data.ColumnNames()}
		}
		parts, err := result.Data.Partition(partitionKey)
		if err != nil {
			return nil, 0, &SchemaError{Column: partitionKey, Reason: err.Error()}
		}
		for _, p := range parts {
			if p.Value == "" || strings.Contains(p.Value, "/") {
				return nil, 0, &SchemaError{
					Column: partitionKey,
					Reason: fmt.Sprintf("invalid partition value %q", p.Value),
				}
			}
			batches = append(batches, batch{table: client + "/" + dataSegment + "/" + p.Value, rows: p.Rows})
		}
	}

	metadata := result.MetadataTable()
	if !metadata.Empty() {
		batches = append(batches, batch{table: client + "/" + metadataTable, rows: metadata})
	}
	errs := result.ErrorTable()
	if !errs.Empty() {
		batches = append(batches, batch{table: client + "/" + errorsTable, rows: errs})
	}

	width := max(domain.EstimateMinWidth(result.Data, metadata, errs), s.minWidth)
	return batches, width, nil
}

// appendBatch writes one batch in a single transaction. It reports whether
// the table was created by this call.
func (s *Store) appendBatch(db *bolt.DB, b batch, width int) (bool, error) {
	created := false
	err := db.Update(func(tx *bolt.Tx) error {
		tb, err := createBucketPath(tx, splitName(b.table))
		if err != nil {
			return err
		}

		h, isNew, err := s.ensureHeader(tb, b.rows, width)
		if err != nil {
			return err
		}
		rows, err := h.project(b.rows)
		if err != nil {
			return err
		}

		rb, err := tb.CreateBucketIfNotExists([]byte(rowsBucket))
		if err != nil {
			return fmt.Errorf("create rows bucket: %w", err)
		}
		for i, row := range rows {
			enc, err := h.encodeRow(row)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			seq, err := rb.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			if err := rb.Put(rowKey(seq), enc); err != nil {
				return fmt.Errorf("put row %d: %w", i, err)
			}
		}
		created = isNew
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrStorageIO) {
			err = fmt.Errorf("%w: %w", ErrStorageIO, err)
		}
		return false, err
	}
	return created, nil
}

// ensureHeader loads the stored schema of tb, or writes a new one taken
// from rows when the table does not exist yet.
func (s *Store) ensureHeader(tb *bolt.Bucket, rows *domain.Table, width int) (header, bool, error) {
	if raw := tb.Get([]byte(schemaKey)); raw != nil {
		h, err := decodeHeader(raw)
		return h, false, err
	}
	h := header{
		Columns:   rows.Columns(),
		Width:     width,
		CreatedAt: s.clock.Now().UTC(),
	}
	raw, err := h.encode()
	if err != nil {
		return header{}, false, fmt.Errorf("encode table schema: %w", err)
	}
	if err := tb.Put([]byte(schemaKey), raw); err != nil {
		return header{}, false, fmt.Errorf("put table schema: %w", err)
	}
	return h, true, nil
}

func (s *Store) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageIO, s.path, err)
	}
	return db, nil
}

func createBucketPath(tx *bolt.Tx, path []string) (*bolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(path[0]))
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", path[0], err)
	}
	for _, seg := range path[1:] {
		b, err = b.CreateBucketIfNotExists([]byte(seg))
		if err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", seg, err)
		}
	}
	return b, nil
}

func splitName(name string) []string {
	return strings.Split(strings.Trim(name, "/"), "/")
}

func rowKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
