// Package store is the durable session state store: a SQLite-backed
// key-value table holding scrape sessions, saved keywords, and per-term
// result sets. Every operation is atomic at the granularity of a single
// key's row.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"

	"pricescout/models"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a patch or delete targets a missing key.
var ErrNotFound = errors.New("store: not found")

const (
	keywordsKey   = "keywords"
	sessionPrefix = "scrape_states:"
	resultsPrefix = "results_"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path. Use ":memory:"
// for throwaway stores in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// An in-memory database exists per connection; pin the pool to one
	// so every query sees the same tables.
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	// The coordinator and the presentation layer share the store; a
	// busy timeout keeps their interleaved writes from failing fast.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(ctx context.Context, key string, out interface{}) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(encoded), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) scanPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM kv WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s*: %w", prefix, err)
		}
		out[key[len(prefix):]] = value
	}
	return out, rows.Err()
}

// Keywords returns the saved search terms, counts hydrated from the
// persisted result sets.
func (s *Store) Keywords(ctx context.Context) ([]models.KeywordEntry, error) {
	var entries []models.KeywordEntry
	if _, err := s.get(ctx, keywordsKey, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		results, err := s.LoadResults(ctx, entries[i].Term)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			entries[i].Count = len(results)
		}
	}
	return entries, nil
}

// PutKeyword appends a keyword, or replaces an existing one matched
// case-insensitively by term.
func (s *Store) PutKeyword(ctx context.Context, entry models.KeywordEntry) error {
	var entries []models.KeywordEntry
	if _, err := s.get(ctx, keywordsKey, &entries); err != nil {
		return err
	}
	normalized := models.NormalizeTerm(entry.Term)
	replaced := false
	for i := range entries {
		if models.NormalizeTerm(entries[i].Term) == normalized {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return s.put(ctx, keywordsKey, entries)
}

// UpdateKeyword sets the status (and, when count is non-nil, the count)
// of an existing keyword. Unknown terms are ignored: sessions can outlive
// their keyword entry.
func (s *Store) UpdateKeyword(ctx context.Context, term string, status models.KeywordStatus, count *int) error {
	var entries []models.KeywordEntry
	if _, err := s.get(ctx, keywordsKey, &entries); err != nil {
		return err
	}
	normalized := models.NormalizeTerm(term)
	for i := range entries {
		if models.NormalizeTerm(entries[i].Term) != normalized {
			continue
		}
		entries[i].Status = status
		if count != nil {
			entries[i].Count = *count
		}
		return s.put(ctx, keywordsKey, entries)
	}
	return nil
}

// DeleteKeyword removes a keyword entry by term.
func (s *Store) DeleteKeyword(ctx context.Context, term string) error {
	var entries []models.KeywordEntry
	if _, err := s.get(ctx, keywordsKey, &entries); err != nil {
		return err
	}
	normalized := models.NormalizeTerm(term)
	kept := entries[:0]
	for _, e := range entries {
		if models.NormalizeTerm(e.Term) != normalized {
			kept = append(kept, e)
		}
	}
	return s.put(ctx, keywordsKey, kept)
}

// SaveResults overwrites the final result set for a term wholesale.
func (s *Store) SaveResults(ctx context.Context, term string, records []models.ProductRecord) error {
	return s.put(ctx, resultsKey(term), records)
}

// LoadResults returns the persisted result set for a term, nil if none.
func (s *Store) LoadResults(ctx context.Context, term string) ([]models.ProductRecord, error) {
	var records []models.ProductRecord
	if _, err := s.get(ctx, resultsKey(term), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteResults drops the persisted result set for a term.
func (s *Store) DeleteResults(ctx context.Context, term string) error {
	return s.delete(ctx, resultsKey(term))
}

func resultsKey(term string) string {
	return resultsPrefix + models.NormalizeTerm(term)
}
