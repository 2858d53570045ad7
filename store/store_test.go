package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"pricescout/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &models.ScrapeSession{
		Site:        models.SiteFalabella,
		SearchTerm:  "gaming laptop",
		IsRunning:   true,
		CurrentPage: 1,
		TotalPages:  models.DefaultTotalPages,
	}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	got, err := s.LoadSession(ctx, sess.Key())
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if got == nil {
		t.Fatal("LoadSession() = nil, want stored session")
	}
	if got.Site != models.SiteFalabella || got.SearchTerm != "gaming laptop" {
		t.Errorf("loaded %s/%s", got.Site, got.SearchTerm)
	}
	if !got.IsRunning || got.CurrentPage != 1 {
		t.Errorf("loaded state %+v", got)
	}
	if got.LastUpdated.IsZero() {
		t.Error("PutSession must stamp LastUpdated")
	}

	missing, err := s.LoadSession(ctx, "falabella:absent")
	if err != nil {
		t.Fatalf("LoadSession(absent) error = %v", err)
	}
	if missing != nil {
		t.Error("LoadSession(absent) must be nil")
	}
}

func TestPatchSessionMergesOnlySetFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	price := 999.0
	sess := &models.ScrapeSession{
		Site:        models.SiteFalabella,
		SearchTerm:  "laptop",
		IsRunning:   true,
		CurrentPage: 2,
		TotalPages:  10,
		AccumulatedProducts: []models.ProductRecord{
			{Site: models.SiteFalabella, Title: "A", Position: 1, NumericPrice: &price},
		},
		ProductsCount: 1,
	}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	running, paused := false, true
	patched, err := s.PatchSession(ctx, sess.Key(), SessionPatch{
		IsRunning: &running,
		IsPaused:  &paused,
	})
	if err != nil {
		t.Fatalf("PatchSession() error = %v", err)
	}
	if patched.IsRunning || !patched.IsPaused {
		t.Errorf("flags after patch: running=%v paused=%v", patched.IsRunning, patched.IsPaused)
	}
	if patched.CurrentPage != 2 || patched.TotalPages != 10 || patched.ProductsCount != 1 {
		t.Errorf("untouched fields changed: %+v", patched)
	}
	if len(patched.AccumulatedProducts) != 1 || patched.AccumulatedProducts[0].Title != "A" {
		t.Errorf("accumulated products changed: %+v", patched.AccumulatedProducts)
	}

	page := 3
	count := 2
	records := append(patched.AccumulatedProducts, models.ProductRecord{
		Site: models.SiteFalabella, Title: "B", Position: 2,
	})
	patched, err = s.PatchSession(ctx, sess.Key(), SessionPatch{
		CurrentPage:         &page,
		ProductsCount:       &count,
		AccumulatedProducts: records,
	})
	if err != nil {
		t.Fatalf("PatchSession() error = %v", err)
	}
	if patched.CurrentPage != 3 || patched.ProductsCount != 2 {
		t.Errorf("patched page/count = %d/%d", patched.CurrentPage, patched.ProductsCount)
	}
	if patched.IsPaused != true {
		t.Error("earlier patch lost")
	}
	if len(patched.AccumulatedProducts) != 2 {
		t.Errorf("accumulated len = %d, want 2", len(patched.AccumulatedProducts))
	}
	if got := patched.AccumulatedProducts[0].NumericPrice; got == nil || *got != 999 {
		t.Errorf("price survived patch = %v", got)
	}
}

func TestPatchSessionMissingKey(t *testing.T) {
	s := openTestStore(t)
	running := false
	_, err := s.PatchSession(context.Background(), "falabella:absent", SessionPatch{IsRunning: &running})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("PatchSession(absent) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &models.ScrapeSession{Site: models.SiteMercadoLibre, SearchTerm: "audifonos"}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSession(ctx, sess.Key()); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	got, err := s.LoadSession(ctx, sess.Key())
	if err != nil || got != nil {
		t.Fatalf("session survived delete: %v, %v", got, err)
	}
	// Deleting again must stay silent.
	if err := s.DeleteSession(ctx, sess.Key()); err != nil {
		t.Fatalf("second DeleteSession() error = %v", err)
	}
}

func TestListPausedAndRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sessions := []*models.ScrapeSession{
		{Site: models.SiteFalabella, SearchTerm: "laptop", IsRunning: true},
		{Site: models.SiteFalabella, SearchTerm: "mouse", IsPaused: true},
		{Site: models.SiteMercadoLibre, SearchTerm: "teclado", IsPaused: true},
	}
	for _, sess := range sessions {
		if err := s.PutSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}

	paused, err := s.ListPaused(ctx)
	if err != nil {
		t.Fatalf("ListPaused() error = %v", err)
	}
	if len(paused) != 2 {
		t.Errorf("ListPaused() = %d sessions, want 2", len(paused))
	}

	running, err := s.ListRunning(ctx)
	if err != nil {
		t.Fatalf("ListRunning() error = %v", err)
	}
	if len(running) != 1 || running[0].SearchTerm != "laptop" {
		t.Errorf("ListRunning() = %+v", running)
	}

	all, err := s.LoadAllSessions(ctx)
	if err != nil {
		t.Fatalf("LoadAllSessions() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("LoadAllSessions() = %d, want 3", len(all))
	}
	if _, ok := all["falabella:laptop"]; !ok {
		t.Error("sessions must be keyed by session key")
	}
}

func TestKeywordLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutKeyword(ctx, models.KeywordEntry{Term: "laptop", Status: models.KeywordIdle}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutKeyword(ctx, models.KeywordEntry{Term: "mouse", Status: models.KeywordIdle}); err != nil {
		t.Fatal(err)
	}
	// Case-insensitive replace, not append.
	if err := s.PutKeyword(ctx, models.KeywordEntry{Term: "LAPTOP", Status: models.KeywordIdle}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Keywords(ctx)
	if err != nil {
		t.Fatalf("Keywords() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Keywords() = %d entries, want 2", len(entries))
	}

	count := 42
	if err := s.UpdateKeyword(ctx, "laptop", models.KeywordDone, &count); err != nil {
		t.Fatalf("UpdateKeyword() error = %v", err)
	}
	entries, _ = s.Keywords(ctx)
	var laptop *models.KeywordEntry
	for i := range entries {
		if models.NormalizeTerm(entries[i].Term) == "laptop" {
			laptop = &entries[i]
		}
	}
	if laptop == nil {
		t.Fatal("laptop keyword missing")
	}
	if laptop.Status != models.KeywordDone || laptop.Count != 42 {
		t.Errorf("laptop entry = %+v", laptop)
	}

	// Updating an unknown term is a no-op, not an error.
	if err := s.UpdateKeyword(ctx, "ghost", models.KeywordError, nil); err != nil {
		t.Fatalf("UpdateKeyword(unknown) error = %v", err)
	}

	if err := s.DeleteKeyword(ctx, "mouse"); err != nil {
		t.Fatalf("DeleteKeyword() error = %v", err)
	}
	entries, _ = s.Keywords(ctx)
	if len(entries) != 1 {
		t.Errorf("after delete: %d entries, want 1", len(entries))
	}
}

func TestResultsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []models.ProductRecord{
		{Site: models.SiteFalabella, SearchTerm: "laptop", Title: "A", Position: 1, CapturedAt: time.Now()},
		{Site: models.SiteFalabella, SearchTerm: "laptop", Title: "B", Position: 2, CapturedAt: time.Now()},
	}
	if err := s.SaveResults(ctx, "  Laptop ", records); err != nil {
		t.Fatalf("SaveResults() error = %v", err)
	}

	got, err := s.LoadResults(ctx, "laptop")
	if err != nil {
		t.Fatalf("LoadResults() error = %v", err)
	}
	if len(got) != 2 || got[1].Title != "B" {
		t.Errorf("LoadResults() = %+v", got)
	}

	// Keyword counts hydrate from stored results.
	if err := s.PutKeyword(ctx, models.KeywordEntry{Term: "laptop", Status: models.KeywordDone}); err != nil {
		t.Fatal(err)
	}
	entries, err := s.Keywords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Count != 2 {
		t.Errorf("hydrated entries = %+v", entries)
	}

	if err := s.DeleteResults(ctx, "laptop"); err != nil {
		t.Fatalf("DeleteResults() error = %v", err)
	}
	got, err = s.LoadResults(ctx, "laptop")
	if err != nil {
		t.Fatalf("LoadResults() after delete error = %v", err)
	}
	if got != nil {
		t.Errorf("results survived delete: %+v", got)
	}
}
