// Package store caches finished analysis reports in a local BoltDB file,
// keyed by the SHA-256 of the input document.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/asdine/storm"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when no report exists for a hash.
var ErrNotFound = errors.New("store: report not found")

// Record is one cached report.
type Record struct {
	Hash      string    `storm:"id"`
	CreatedAt time.Time `storm:"index"`
	Body      []byte
}

// Store is a report cache backed by a single bolt file.
type Store struct {
	db *storm.DB
}

// Open opens (or creates) the cache file at path.
func Open(path string) (*Store, error) {
	db, err := storm.Open(path, storm.BoltOptions(0o600, &bbolt.Options{Timeout: time.Second}))
	if err != nil {
		return nil, fmt.Errorf("open report cache: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutReport stores the report JSON for hash, replacing any previous entry.
func (s *Store) PutReport(hash string, body []byte) error {
	rec := Record{
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
		Body:      append([]byte(nil), body...),
	}
	if err := s.db.Save(&rec); err != nil {
		return fmt.Errorf("save report %s: %w", hash, err)
	}
	return nil
}

// GetReport returns the cached report JSON for hash, or ErrNotFound.
func (s *Store) GetReport(hash string) ([]byte, error) {
	var rec Record
	if err := s.db.One("Hash", hash, &rec); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load report %s: %w", hash, err)
	}
	return rec.Body, nil
}

// Prune deletes entries older than maxAge and reports how many went away.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var old []Record
	if err := s.db.Range("CreatedAt", time.Time{}, cutoff, &old); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan stale reports: %w", err)
	}
	removed := 0
	for i := range old {
		if err := s.db.DeleteStruct(&old[i]); err != nil {
			return removed, fmt.Errorf("delete report %s: %w", old[i].Hash, err)
		}
		removed++
	}
	return removed, nil
}
