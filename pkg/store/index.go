package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	bolt "go.etcd.io/bbolt"

	"github.com/jmylchreest/apexlens/internal/logging"
)

const mappingHashKey = "search_mapping_hash"

func openOrCreateIndex(path string) (bleve.Index, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createIndex(path)
	}

	index, err := bleve.Open(path)
	if err == nil {
		return index, nil
	}

	logging.Named("store").Warnw("search index corrupted, rebuilding", "path", path, "error", err)
	if removeErr := os.RemoveAll(path); removeErr != nil {
		return nil, fmt.Errorf("removing corrupted search index: %w (original error: %v)", removeErr, err)
	}
	return createIndex(path)
}

func createIndex(path string) (bleve.Index, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}
	return bleve.New(path, m)
}

// buildIndexMapping indexes the free text of a record (class, method,
// snippet, metadata values) for search and keeps kind, severity, class and
// file as exact-match keywords for filtering.
func buildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer("standard_lower", map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("creating standard analyzer: %w", err)
	}

	doc := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard_lower"
	textField.Store = false
	doc.AddFieldMappingsAt("text", textField)

	for _, name := range []string{"kind", "severity", "class", "file"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		doc.AddFieldMappingsAt(name, f)
	}

	indexMapping.AddDocumentMapping("record", doc)
	indexMapping.DefaultMapping = doc
	return indexMapping, nil
}

func searchDoc(r *Record) map[string]any {
	parts := []string{r.Class, r.Method, r.Snippet}
	for _, v := range r.Metadata {
		parts = append(parts, v)
	}
	return map[string]any{
		"text":     strings.Join(parts, " "),
		"kind":     string(r.Kind),
		"severity": r.Severity.String(),
		"class":    r.Class,
		"file":     r.File,
	}
}

// ensureMapping rebuilds the search index from bbolt when the mapping
// differs from the one the index was built with.
func (s *Store) ensureMapping() error {
	m, err := buildIndexMapping()
	if err != nil {
		return err
	}
	hash := MappingHash(m)

	stored, err := s.GetMeta(mappingHashKey)
	if err != nil && err != ErrNotFound {
		return err
	}
	if hash == stored {
		return nil
	}
	if stored != "" {
		logging.Named("store").Info("search mapping changed, rebuilding index")
	}

	if err := s.resetIndex(); err != nil {
		return err
	}
	if err := s.reindex(); err != nil {
		return err
	}
	return s.SetMeta(mappingHashKey, hash)
}

// resetIndex replaces the search index with an empty one.
func (s *Store) resetIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.search != nil {
		if err := s.search.Close(); err != nil {
			return fmt.Errorf("closing search index: %w", err)
		}
		s.search = nil
	}
	if err := os.RemoveAll(s.searchPath); err != nil {
		return fmt.Errorf("removing search index: %w", err)
	}
	index, err := createIndex(s.searchPath)
	if err != nil {
		return fmt.Errorf("recreating search index: %w", err)
	}
	s.search = index
	return nil
}

func (s *Store) reindex() error {
	index, err := s.index()
	if err != nil {
		return err
	}
	batch := index.NewBatch()
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketRecords).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			return batch.Index(r.ID, searchDoc(&r))
		})
	})
	if err != nil {
		return err
	}
	return index.Batch(batch)
}
