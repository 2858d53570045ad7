package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pricescout/models"
)

// SessionPatch is a merge-patch over a persisted session: nil fields keep
// their prior values. AccumulatedProducts replaces the whole sequence
// when non-nil (ProductsCount should be patched alongside it).
type SessionPatch struct {
	IsRunning           *bool
	IsPaused            *bool
	CurrentPage         *int
	TotalPages          *int
	ProductsCount       *int
	AccumulatedProducts []models.ProductRecord
}

// LoadSession returns the session stored under key, or nil when absent.
func (s *Store) LoadSession(ctx context.Context, key string) (*models.ScrapeSession, error) {
	var sess models.ScrapeSession
	ok, err := s.get(ctx, sessionPrefix+key, &sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// PutSession writes a full session row, stamping LastUpdated.
func (s *Store) PutSession(ctx context.Context, sess *models.ScrapeSession) error {
	sess.LastUpdated = time.Now()
	return s.put(ctx, sessionPrefix+sess.Key(), sess)
}

// PatchSession applies a merge-patch to the session stored under key and
// returns the updated row. The read-modify-write happens inside one
// transaction so interrupted writes never leave a half-patched record.
func (s *Store) PatchSession(ctx context.Context, key string, patch SessionPatch) (*models.ScrapeSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin patch %s: %w", key, err)
	}
	defer tx.Rollback()

	var value string
	row := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", sessionPrefix+key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patch %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("patch %s: %w", key, err)
	}
	var sess models.ScrapeSession
	if err := json.Unmarshal([]byte(value), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}

	if patch.IsRunning != nil {
		sess.IsRunning = *patch.IsRunning
	}
	if patch.IsPaused != nil {
		sess.IsPaused = *patch.IsPaused
	}
	if patch.CurrentPage != nil {
		sess.CurrentPage = *patch.CurrentPage
	}
	if patch.TotalPages != nil {
		sess.TotalPages = *patch.TotalPages
	}
	if patch.ProductsCount != nil {
		sess.ProductsCount = *patch.ProductsCount
	}
	if patch.AccumulatedProducts != nil {
		sess.AccumulatedProducts = patch.AccumulatedProducts
	}
	sess.LastUpdated = time.Now()

	encoded, err := json.Marshal(&sess)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sessionPrefix+key, string(encoded), time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("save session %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit patch %s: %w", key, err)
	}
	return &sess, nil
}

// DeleteSession removes the session stored under key.
func (s *Store) DeleteSession(ctx context.Context, key string) error {
	return s.delete(ctx, sessionPrefix+key)
}

// LoadAllSessions returns every persisted session, keyed by session key.
func (s *Store) LoadAllSessions(ctx context.Context) (map[string]*models.ScrapeSession, error) {
	raw, err := s.scanPrefix(ctx, sessionPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.ScrapeSession, len(raw))
	for key, value := range raw {
		var sess models.ScrapeSession
		if err := json.Unmarshal([]byte(value), &sess); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", key, err)
		}
		out[key] = &sess
	}
	return out, nil
}

// ListPaused returns every paused session.
func (s *Store) ListPaused(ctx context.Context) ([]*models.ScrapeSession, error) {
	return s.listWhere(ctx, func(sess *models.ScrapeSession) bool { return sess.IsPaused })
}

// ListRunning returns sessions marked running. The single-running
// invariant means at most one entry, but the interface allows scanning.
func (s *Store) ListRunning(ctx context.Context) ([]*models.ScrapeSession, error) {
	return s.listWhere(ctx, func(sess *models.ScrapeSession) bool { return sess.IsRunning })
}

func (s *Store) listWhere(ctx context.Context, keep func(*models.ScrapeSession) bool) ([]*models.ScrapeSession, error) {
	all, err := s.LoadAllSessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.ScrapeSession
	for _, sess := range all {
		if keep(sess) {
			out = append(out, sess)
		}
	}
	return out, nil
}
