// Package store persists antipattern findings between runs. Records live in
// bbolt; a bleve index over the same records serves full-text search.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	bolt "go.etcd.io/bbolt"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")

	errSearchClosed = errors.New("findings search index is closed")
)

// Bucket names.
var (
	BucketRecords = []byte("records")
	BucketMeta    = []byte("meta")
)

// File names inside the store directory.
const (
	DBFile    = "findings.db"
	IndexName = "search.bleve"
)

// Store implements findings storage using bbolt + bleve.
type Store struct {
	db         *bolt.DB
	searchPath string

	mu     sync.RWMutex // guards search, which Clear and rebuilds replace
	search bleve.Index
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, DBFile), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening findings db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(BucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing meta bucket: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	searchPath := filepath.Join(dir, IndexName)
	index, err := openOrCreateIndex(searchPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	s := &Store{db: db, search: index, searchPath: searchPath}
	if err := s.ensureMapping(); err != nil {
		s.Close()
		return nil, fmt.Errorf("search mapping check failed: %w", err)
	}
	return s, nil
}

// Close closes the search index and the database.
func (s *Store) Close() error {
	var errs []error
	s.mu.Lock()
	if s.search != nil {
		if err := s.search.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close search index: %w", err))
		}
		s.search = nil
	}
	s.mu.Unlock()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close findings db: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetMeta reads a string value from the meta bucket.
func (s *Store) GetMeta(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketMeta).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		val = string(data)
		return nil
	})
	return val, err
}

// SetMeta writes a string value to the meta bucket.
func (s *Store) SetMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketMeta).Put([]byte(key), []byte(value))
	})
}

func (s *Store) index() (bleve.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.search == nil {
		return nil, errSearchClosed
	}
	return s.search, nil
}
