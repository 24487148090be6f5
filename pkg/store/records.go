package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/scan"
)

// Default result limits.
const (
	DefaultListLimit   = 100
	DefaultSearchLimit = 20
)

// Record is one stored finding.
type Record struct {
	ID        string               `json:"id"`
	File      string               `json:"file"`
	Class     string               `json:"class"`
	Method    string               `json:"method,omitempty"`
	Kind      antipattern.Kind     `json:"kind"`
	Severity  antipattern.Severity `json:"severity"`
	Line      int                  `json:"line"`
	Snippet   string               `json:"snippet,omitempty"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// RecordsFromReport flattens a file report into records, in rule then
// source order.
func RecordsFromReport(rep scan.FileReport) []*Record {
	var out []*Record
	for _, res := range rep.Results {
		for _, f := range res.Findings {
			out = append(out, &Record{
				File:     rep.Path,
				Class:    f.ClassName,
				Method:   f.MethodName,
				Kind:     res.Kind,
				Severity: f.Severity,
				Line:     f.Line,
				Snippet:  f.Snippet,
				Metadata: f.Metadata,
			})
		}
	}
	return out
}

// Filter narrows List, Search and Stats.
type Filter struct {
	Kind        antipattern.Kind
	MinSeverity antipattern.Severity
	Class       string
	File        string // substring of the stored path
	Limit       int    // 0 uses the operation's default, negative is unlimited
}

func (f Filter) match(r *Record) bool {
	switch {
	case f.Kind != "" && r.Kind != f.Kind:
		return false
	case r.Severity < f.MinSeverity:
		return false
	case f.Class != "" && r.Class != f.Class:
		return false
	case f.File != "" && !strings.Contains(r.File, f.File):
		return false
	}
	return true
}

// Hit is a search match.
type Hit struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
}

// Stats holds aggregate counts.
type Stats struct {
	Total      int                          `json:"total"`
	Files      int                          `json:"files"`
	ByKind     map[antipattern.Kind]int     `json:"by_kind"`
	BySeverity map[antipattern.Severity]int `json:"by_severity"`
}

// SaveReport replaces the stored findings for rep.Path with those in the
// report. Rules that failed on the file keep their previous findings, and a
// report for an unreadable file changes nothing.
func (s *Store) SaveReport(rep scan.FileReport) error {
	if rep.Error != "" {
		return fmt.Errorf("not storing report for %s: %s", rep.Path, rep.Error)
	}
	failed := make(map[antipattern.Kind]bool)
	for _, k := range rep.FailedRules() {
		failed[k] = true
	}
	return s.replace(func(r *Record) bool {
		return r.File == rep.Path && !failed[r.Kind]
	}, RecordsFromReport(rep))
}

// ReplaceFile replaces every stored finding for file with records.
func (s *Store) ReplaceFile(file string, records []*Record) error {
	return s.replace(func(r *Record) bool { return r.File == file }, records)
}

// RemoveFile deletes every stored finding for file.
func (s *Store) RemoveFile(file string) error {
	return s.ReplaceFile(file, nil)
}

// replace deletes the records matching drop and stores add. Keys and
// documents are collected inside the bbolt transaction; the index is only
// touched after it commits so a rollback cannot leave them out of step.
func (s *Store) replace(drop func(*Record) bool, add []*Record) error {
	index, err := s.index()
	if err != nil {
		return err
	}

	type pendingPut struct {
		id  string
		doc map[string]any
	}
	var deleteIDs []string
	var puts []pendingPut

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketRecords)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if drop(&r) {
				deleteIDs = append(deleteIDs, string(k))
			}
		}
		for _, id := range deleteIDs {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}

		now := time.Now()
		for _, r := range add {
			if r.ID == "" {
				r.ID = ulid.Make().String()
			}
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now
			}
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return err
			}
			puts = append(puts, pendingPut{id: r.ID, doc: searchDoc(r)})
		}
		return nil
	})
	if err != nil {
		return err
	}

	batch := index.NewBatch()
	for _, id := range deleteIDs {
		batch.Delete(id)
	}
	for _, p := range puts {
		if err := batch.Index(p.id, p.doc); err != nil {
			return err
		}
	}
	if err := index.Batch(batch); err != nil {
		logging.Named("store").Warnw("search index update failed", "deleted", len(deleteIDs), "added", len(puts), "error", err)
		return fmt.Errorf("updating search index: %w", err)
	}
	return nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (*Record, error) {
	var r Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketRecords).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns stored records matching f in insertion order.
func (s *Store) List(f Filter) ([]*Record, error) {
	limit := f.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}

	var out []*Record
	err := s.each(func(r *Record) bool {
		if !f.match(r) {
			return true
		}
		out = append(out, r)
		return limit < 0 || len(out) < limit
	})
	return out, err
}

// Search runs a bleve query string over the record text and applies f.
// An empty query matches everything. Hits are ordered by score.
func (s *Store) Search(q string, f Filter) ([]Hit, error) {
	index, err := s.index()
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	} else if limit < 0 {
		limit = 100_000
	}

	var queries []query.Query
	if q != "" {
		queries = append(queries, bleve.NewQueryStringQuery(q))
	}
	if f.Kind != "" {
		queries = append(queries, termQuery("kind", string(f.Kind)))
	}
	if f.Class != "" {
		queries = append(queries, termQuery("class", f.Class))
	}
	if f.File != "" {
		w := bleve.NewWildcardQuery("*" + f.File + "*")
		w.SetField("file")
		queries = append(queries, w)
	}
	if f.MinSeverity > antipattern.SevMinor {
		var sevs []query.Query
		for sev := f.MinSeverity; sev <= antipattern.SevCritical; sev++ {
			sevs = append(sevs, termQuery("severity", sev.String()))
		}
		queries = append(queries, bleve.NewDisjunctionQuery(sevs...))
	}

	var searchQuery query.Query
	switch len(queries) {
	case 0:
		searchQuery = bleve.NewMatchAllQuery()
	case 1:
		searchQuery = queries[0]
	default:
		searchQuery = bleve.NewConjunctionQuery(queries...)
	}

	req := bleve.NewSearchRequestOptions(searchQuery, limit, 0, false)
	result, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("findings search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		r, err := s.Get(h.ID)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Record: r, Score: h.Score})
	}
	return hits, nil
}

func termQuery(field, term string) query.Query {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}

// Stats counts the stored records matching f. f.Limit is ignored.
func (s *Store) Stats(f Filter) (*Stats, error) {
	stats := &Stats{
		ByKind:     make(map[antipattern.Kind]int),
		BySeverity: make(map[antipattern.Severity]int),
	}
	files := make(map[string]bool)
	err := s.each(func(r *Record) bool {
		if f.match(r) {
			stats.Total++
			stats.ByKind[r.Kind]++
			stats.BySeverity[r.Severity]++
			files[r.File] = true
		}
		return true
	})
	stats.Files = len(files)
	return stats, err
}

// each calls fn for every decodable record until fn returns false.
func (s *Store) each(fn func(*Record) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(BucketRecords).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if !fn(&r) {
				break
			}
		}
		return nil
	})
}

// Clear removes every record and resets the search index.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(BucketRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucket(BucketRecords)
		return err
	})
	if err != nil {
		return err
	}
	return s.resetIndex()
}
