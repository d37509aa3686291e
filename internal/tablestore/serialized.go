package tablestore

import (
	"sync"

	"github.com/couchcryptid/feed-ingest-etl/internal/domain"
)

// Serialized shares one Store between goroutines of a single process.
// bbolt's file lock is held per open file, so two overlapping calls in the
// same process would otherwise wait on each other until the lock timeout.
// Writes are exclusive; reads may overlap each other.
type Serialized struct {
	mu    sync.RWMutex
	store *Store
}

// NewSerialized wraps s.
func NewSerialized(s *Store) *Serialized {
	return &Serialized{store: s}
}

func (s *Serialized) Store(client string, result domain.Result, partitionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Store(client, result, partitionKey)
}

func (s *Serialized) Tables(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Tables(prefix)
}

func (s *Serialized) HasTable(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.HasTable(name)
}

func (s *Serialized) Describe(name string) (TableInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Describe(name)
}

func (s *Serialized) Read(name string) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Read(name)
}
