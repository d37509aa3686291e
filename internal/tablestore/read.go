package tablestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// TableInfo describes a stored table.
type TableInfo struct {
	Name      string          `json:"name"`
	Columns   []domain.Column `json:"columns"`
	Width     int             `json:"width"`
	Rows      int             `json:"rows"`
	CreatedAt time.Time       `json:"created_at"`
}

// Tables lists the names of all stored tables starting with prefix, sorted.
// A store file that does not exist yet holds no tables.
func (s *Store) Tables(prefix string) ([]string, error) {
	var names []string
	err := s.view(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			collectTables(b, string(name), prefix, &names)
			return nil
		})
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func collectTables(b *bolt.Bucket, name, prefix string, out *[]string) {
	if b.Get([]byte(schemaKey)) != nil {
		if strings.HasPrefix(name, prefix) {
			*out = append(*out, name)
		}
		return
	}
	_ = b.ForEach(func(k, v []byte) error {
		if v != nil {
			return nil
		}
		if child := b.Bucket(k); child != nil {
			collectTables(child, name+"/"+string(k), prefix, out)
		}
		return nil
	})
}

// HasTable reports whether a table with the given name exists.
func (s *Store) HasTable(name string) (bool, error) {
	_, err := s.Describe(name)
	if errors.Is(err, ErrTableNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Describe returns the schema, width and row count of a table.
func (s *Store) Describe(name string) (TableInfo, error) {
	var info TableInfo
	err := s.view(func(tx *bolt.Tx) error {
		h, tb, err := lookupTable(tx, name)
		if err != nil {
			return err
		}
		info = TableInfo{Name: name, Columns: h.Columns, Width: h.Width, CreatedAt: h.CreatedAt}
		if rb := tb.Bucket([]byte(rowsBucket)); rb != nil {
			info.Rows = rb.Stats().KeyN
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return TableInfo{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return info, err
}

// Read loads every row of a table in append order.
func (s *Store) Read(name string) (*domain.Table, error) {
	var t *domain.Table
	err := s.view(func(tx *bolt.Tx) error {
		h, tb, err := lookupTable(tx, name)
		if err != nil {
			return err
		}
		t, err = domain.NewTable(h.Columns...)
		if err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
		rb := tb.Bucket([]byte(rowsBucket))
		if rb == nil {
			return nil
		}
		return rb.ForEach(func(_, v []byte) error {
			row, err := h.decodeRow(v)
			if err != nil {
				return fmt.Errorf("table %s: %w", name, err)
			}
			return t.Append(row...)
		})
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func lookupTable(tx *bolt.Tx, name string) (header, *bolt.Bucket, error) {
	path := splitName(name)
	b := tx.Bucket([]byte(path[0]))
	for _, seg := range path[1:] {
		if b == nil {
			break
		}
		b = b.Bucket([]byte(seg))
	}
	if b == nil {
		return header{}, nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	raw := b.Get([]byte(schemaKey))
	if raw == nil {
		return header{}, nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return header{}, nil, fmt.Errorf("table %s: %w", name, err)
	}
	return h, b, nil
}

// view runs fn in a read-only transaction. It returns fs.ErrNotExist when
// the store file has not been created yet.
func (s *Store) view(fn func(tx *bolt.Tx) error) (err error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("%w: stat %s: %w", ErrStorageIO, s.path, err)
	}
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close %s: %w", ErrStorageIO, s.path, cerr))
		}
	}()
	return db.View(fn)
}
