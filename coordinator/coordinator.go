// Package coordinator owns the multi-page scraping protocol: it starts,
// resumes, pauses, and cancels sessions, drives page-by-page iteration
// through the navigator and page workers, persists progress after every
// page, and reports progress to the presentation layer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pricescout/config"
	"pricescout/extractor"
	"pricescout/models"
	"pricescout/navigator"
	"pricescout/store"
	"pricescout/worker"
)

// State is the observable lifecycle state of a session.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateDone      State = "done"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// StatusUpdate is pushed to the presentation layer whenever a session
// makes observable progress or reaches a terminal state.
type StatusUpdate struct {
	Key        string      `json:"key"`
	Site       models.Site `json:"site"`
	Term       string      `json:"term"`
	State      State       `json:"state"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
	Count      int         `json:"count"`
	Error      string      `json:"error,omitempty"`
}

// Notifier receives status updates. Implementations must not block.
type Notifier interface {
	Notify(update StatusUpdate)
}

// Forwarder delivers a finished batch to the external collector.
// Delivery is best-effort; the coordinator never acts on the error.
type Forwarder interface {
	Forward(ctx context.Context, records []models.ProductRecord) error
}

// OpenPageFunc opens a live page at a URL. The browser package provides
// the production implementation; tests substitute fakes.
type OpenPageFunc func(ctx context.Context, rawURL string) (worker.Page, error)

// Options configures a Coordinator.
type Options struct {
	Config    *config.Config
	Store     *store.Store
	OpenPage  OpenPageFunc
	Forwarder Forwarder
	Notifier  Notifier
	Metrics   *Metrics
}

// Coordinator is the single owner of the running-session slot. It is
// constructed once at daemon startup and torn down on shutdown; all
// mutable session state hangs off this instance.
type Coordinator struct {
	cfg       *config.Config
	store     *store.Store
	openPage  OpenPageFunc
	forwarder Forwarder
	notifier  Notifier
	metrics   *Metrics

	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	key    string
	site   models.Site
	term   string
	extr   extractor.Extractor
	fresh  bool
	paused atomic.Bool
	cancel atomic.Bool

	page worker.Page

	// wmu guards the worker handle: the session goroutine swaps it on
	// every page advance while Cancel reads it from API goroutines.
	wmu          sync.Mutex
	w            *worker.Worker
	workerCancel context.CancelFunc
}

func (a *activeSession) worker() *worker.Worker {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	return a.w
}

func (a *activeSession) setWorker(w *worker.Worker, cancel context.CancelFunc) {
	a.wmu.Lock()
	a.w = w
	a.workerCancel = cancel
	a.wmu.Unlock()
}

// New builds a coordinator. Notifier and Forwarder may be nil.
func New(opts Options) *Coordinator {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Coordinator{
		cfg:       opts.Config,
		store:     opts.Store,
		openPage:  opts.OpenPage,
		forwarder: opts.Forwarder,
		notifier:  opts.Notifier,
		metrics:   metrics,
	}
}

// SetNotifier installs the notifier after construction. The API server
// and the coordinator reference each other; call this before starting
// any session.
func (c *Coordinator) SetNotifier(n Notifier) { c.notifier = n }

// Metrics exposes the coordinator's Prometheus registry.
func (c *Coordinator) Metrics() *Metrics { return c.metrics }

// Recover downgrades sessions left running by a previous process to
// paused and returns them, so the presentation layer can offer a
// resume-or-discard decision. Call once at startup before serving.
func (c *Coordinator) Recover(ctx context.Context) ([]*models.ScrapeSession, error) {
	all, err := c.store.LoadAllSessions(ctx)
	if err != nil {
		return nil, err
	}
	var interrupted []*models.ScrapeSession
	for key, sess := range all {
		if !sess.IsRunning {
			continue
		}
		running, paused := false, true
		patched, err := c.store.PatchSession(ctx, key, store.SessionPatch{
			IsRunning: &running,
			IsPaused:  &paused,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("recovered interrupted session",
			slog.String("key", key),
			slog.Int("page", patched.CurrentPage),
			slog.Int("products", patched.ProductsCount),
		)
		interrupted = append(interrupted, patched)
	}
	return interrupted, nil
}

// Start begins a fresh session for (site, term). It is rejected with
// ConflictError while any session holds the running slot, and while a
// paused session exists for the same key (resume or discard it first).
func (c *Coordinator) Start(ctx context.Context, site models.Site, term string) error {
	if !site.Valid() {
		return fmt.Errorf("start: unknown site %q", site)
	}
	key := models.SessionKey(site, term)
	extr, err := extractor.ForSite(site)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ConflictError{Key: key, Reason: "another session is already running"}
	}
	existing, err := c.store.LoadSession(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsRunning {
		return ConflictError{Key: key, Reason: "a session for this search is already running"}
	}
	if existing != nil && existing.IsPaused {
		return ConflictError{Key: key, Reason: "a paused session exists; resume or discard it first"}
	}

	sess := &models.ScrapeSession{
		Site:        site,
		SearchTerm:  models.NormalizeTerm(term),
		IsRunning:   true,
		CurrentPage: 1,
		TotalPages:  models.DefaultTotalPages,
	}
	if err := c.store.PutSession(ctx, sess); err != nil {
		return err
	}
	if err := c.store.UpdateKeyword(ctx, term, models.KeywordRunning, nil); err != nil {
		return err
	}

	a := &activeSession{key: key, site: site, term: sess.SearchTerm, extr: extr, fresh: true}
	c.active = a
	go c.runSession(a, sess)
	return nil
}

// Resume reconnects a paused session and continues its page loop from
// the persisted current page. The running slot must be free.
func (c *Coordinator) Resume(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ConflictError{Key: key, Reason: "another session is already running"}
	}
	sess, err := c.store.LoadSession(ctx, key)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("resume %s: %w", key, ErrSessionNotFound)
	}
	if !sess.IsPaused {
		return ConflictError{Key: key, Reason: "session is not paused"}
	}
	extr, err := extractor.ForSite(sess.Site)
	if err != nil {
		return err
	}

	running, paused := true, false
	patched, err := c.store.PatchSession(ctx, key, store.SessionPatch{
		IsRunning: &running,
		IsPaused:  &paused,
	})
	if err != nil {
		return err
	}
	if err := c.store.UpdateKeyword(ctx, sess.SearchTerm, models.KeywordRunning, nil); err != nil {
		return err
	}

	a := &activeSession{key: key, site: sess.Site, term: sess.SearchTerm, extr: extr}
	c.active = a
	go c.runSession(a, patched)
	return nil
}

// Pause marks the running session paused and persists that immediately.
// In-flight extraction is not torn down: its result is still merged and
// persisted when it arrives, but no further navigation is initiated.
func (c *Coordinator) Pause(ctx context.Context, key string) error {
	c.mu.Lock()
	a := c.active
	c.mu.Unlock()
	if a == nil || a.key != key {
		return fmt.Errorf("pause %s: %w", key, ErrNoActiveSession)
	}

	a.paused.Store(true)
	running, paused := false, true
	sess, err := c.store.PatchSession(ctx, key, store.SessionPatch{
		IsRunning: &running,
		IsPaused:  &paused,
	})
	if err != nil {
		return err
	}
	c.notify(StatusUpdate{
		Key: key, Site: a.site, Term: a.term, State: StatePaused,
		Page: sess.CurrentPage, TotalPages: sess.TotalPages, Count: sess.ProductsCount,
	})
	return nil
}

// Cancel aborts a session in any non-terminal state: it signals the live
// worker if this key holds the running slot, discards accumulated
// progress, removes the session record, and marks the keyword cancelled.
// The store cleanup happens here, unconditionally, so a cancellation
// aimed at an already-dead worker channel still takes effect.
func (c *Coordinator) Cancel(ctx context.Context, key string) error {
	c.mu.Lock()
	a := c.active
	if a != nil && a.key == key {
		a.cancel.Store(true)
		if w := a.worker(); w != nil {
			w.SetCancelled()
		}
	} else {
		a = nil
	}
	c.mu.Unlock()

	sess, err := c.store.LoadSession(ctx, key)
	if err != nil {
		return err
	}
	if sess == nil && a == nil {
		return fmt.Errorf("cancel %s: %w", key, ErrSessionNotFound)
	}

	term := termFromKey(key)
	if err := c.store.DeleteSession(ctx, key); err != nil {
		return err
	}
	if err := c.store.UpdateKeyword(ctx, term, models.KeywordCancelled, nil); err != nil {
		return err
	}
	c.metrics.IncSession("cancelled")
	update := StatusUpdate{Key: key, Term: term, State: StateCancelled}
	if sess != nil {
		update.Site = sess.Site
	}
	c.notify(update)
	return nil
}

// Running reports the key currently holding the running slot, if any.
func (c *Coordinator) Running() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.key, true
}

// runSession drives one session's page loop. It is the only writer of
// session progress; the strict order per page is extract, merge, persist,
// notify, then (and only then) advance.
func (c *Coordinator) runSession(a *activeSession, sess *models.ScrapeSession) {
	ctx := context.Background()
	defer c.release(a)

	if err := c.openSessionPage(ctx, a, sess.CurrentPage); err != nil {
		c.failSession(ctx, a, NavigationError{Key: a.key, Err: err})
		return
	}

	accumulated := append([]models.ProductRecord(nil), sess.AccumulatedProducts...)
	currentPage := sess.CurrentPage
	totalPages := sess.TotalPages
	if totalPages <= 0 {
		totalPages = models.DefaultTotalPages
	}

	for {
		pageStart := time.Now()
		result, err := c.scrapePage(ctx, a, currentPage)
		if errors.Is(err, worker.ErrCancelled) {
			c.finishCancelled(ctx, a)
			return
		}
		if err != nil {
			c.failSession(ctx, a, err)
			return
		}
		c.metrics.ObservePage(time.Since(pageStart))
		c.metrics.IncPage()

		if a.fresh && currentPage == 1 && len(result.Records) == 0 {
			c.failSession(ctx, a, ExtractionError{Key: a.key, Page: 1})
			return
		}

		// Append across pages without deduplication: pagination already
		// yields distinct items.
		accumulated = append(accumulated, result.Records...)
		models.Renumber(accumulated)
		count := len(accumulated)
		c.metrics.AddRecords(len(result.Records))

		if result.TotalPages > 0 {
			totalPages = result.TotalPages
			if totalPages > c.cfg.MaxTotalPages {
				totalPages = c.cfg.MaxTotalPages
			}
		}

		hasNext := result.HasNextPage && currentPage < totalPages
		nextPage := currentPage
		if hasNext {
			nextPage = currentPage + 1
		}

		patch := store.SessionPatch{
			CurrentPage:         &nextPage,
			TotalPages:          &totalPages,
			ProductsCount:       &count,
			AccumulatedProducts: accumulated,
		}
		if _, err := c.store.PatchSession(ctx, a.key, patch); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Cancelled underneath us; Cancel already cleaned up.
				return
			}
			c.failSession(ctx, a, err)
			return
		}

		c.notify(StatusUpdate{
			Key: a.key, Site: a.site, Term: a.term, State: StateRunning,
			Page: currentPage, TotalPages: totalPages, Count: count,
		})

		if a.cancel.Load() {
			return
		}
		if !hasNext {
			c.finishDone(ctx, a, accumulated)
			return
		}
		if a.paused.Load() {
			slog.Info("session paused; navigation stopped",
				slog.String("key", a.key), slog.Int("next_page", nextPage))
			return
		}

		if err := c.advance(ctx, a); err != nil {
			if errors.Is(err, errNoMorePages) {
				c.finishDone(ctx, a, accumulated)
				return
			}
			c.failSession(ctx, a, err)
			return
		}
		currentPage = nextPage
	}
}

// errNoMorePages reports that a click advance found no actionable next
// control, which terminates the session normally.
var errNoMorePages = errors.New("coordinator: no more pages")

// openSessionPage opens the tracked page at the session's current page
// and attaches a fresh worker to it.
func (c *Coordinator) openSessionPage(ctx context.Context, a *activeSession, startPage int) error {
	searchURL := navigator.SearchURL(c.searchTemplate(a.site), a.term)
	openURL := searchURL
	if a.extr.Mode() == extractor.PaginateURLParam && startPage > 1 {
		var err error
		openURL, err = navigator.PageURL(searchURL, a.extr.PageParam(), startPage)
		if err != nil {
			return err
		}
	}

	openCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout.Std())
	defer cancel()
	page, err := c.openPage(openCtx, openURL)
	if err != nil {
		return err
	}
	a.page = page
	c.attachWorker(a)

	// Click-paginated sites cannot address a page by URL; replay the
	// clicks to reach the resume point.
	if a.extr.Mode() == extractor.PaginateClick {
		for p := 1; p < startPage; p++ {
			if err := c.advance(ctx, a); err != nil {
				return fmt.Errorf("replay pagination to page %d: %w", startPage, err)
			}
		}
	}
	return nil
}

// scrapePage issues the extraction command and waits for the page's
// result. A failed channel gets one re-injection-and-retry with a fresh
// worker; a second failure is fatal.
func (c *Coordinator) scrapePage(ctx context.Context, a *activeSession, page int) (models.PageResult, error) {
	retried := false
	for {
		select {
		case a.w.Commands() <- worker.ScrapeCommand{}:
		case <-ctx.Done():
			return models.PageResult{}, ctx.Err()
		}

		result, err := c.awaitScrape(a, page)
		if err == nil || errors.Is(err, worker.ErrCancelled) {
			return result, err
		}
		var timeout TimeoutError
		if errors.As(err, &timeout) {
			return models.PageResult{}, err
		}
		if retried {
			return models.PageResult{}, ChannelError{Key: a.key, Err: err}
		}
		retried = true
		slog.Warn("worker channel failed; re-injecting",
			slog.String("key", a.key), slog.Any("error", err))
		c.reattachWorker(a)
	}
}

func (c *Coordinator) awaitScrape(a *activeSession, page int) (models.PageResult, error) {
	timer := time.NewTimer(c.cfg.PageTimeout.Std())
	defer timer.Stop()

	for {
		select {
		case ev := <-a.w.Events():
			switch e := ev.(type) {
			case worker.ConnectionEstablished:
				// Handshake; keep waiting for the result.
			case worker.Progress:
				c.notify(StatusUpdate{
					Key: a.key, Site: a.site, Term: a.term, State: StateRunning,
					Page: page, Count: e.Count,
				})
			case worker.ScrapeCancelled:
				return models.PageResult{}, worker.ErrCancelled
			case worker.ScrapeResult:
				if e.Err != "" {
					return models.PageResult{}, errors.New(e.Err)
				}
				return e.Result, nil
			case worker.NextPageResult:
				// Stale response from a previous advance; ignore.
			}
		case <-timer.C:
			return models.PageResult{}, TimeoutError{Key: a.key, Page: page}
		}
	}
}

// advance moves the tracked page to the next result page. Navigation
// invalidates the worker channel, so a fresh worker is attached after.
func (c *Coordinator) advance(ctx context.Context, a *activeSession) error {
	navCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout.Std())
	defer cancel()

	switch a.extr.Mode() {
	case extractor.PaginateURLParam:
		if _, err := navigator.Advance(navCtx, a.page, a.extr.PageParam()); err != nil {
			return NavigationError{Key: a.key, Err: err}
		}
	case extractor.PaginateClick:
		select {
		case a.w.Commands() <- worker.NextPageCommand{}:
		case <-navCtx.Done():
			return NavigationError{Key: a.key, Err: navCtx.Err()}
		}
		ok, err := c.awaitNextPage(a)
		if err != nil {
			return err
		}
		if !ok {
			return errNoMorePages
		}
	}

	c.reattachWorker(a)
	return nil
}

func (c *Coordinator) awaitNextPage(a *activeSession) (bool, error) {
	timer := time.NewTimer(c.cfg.PageTimeout.Std())
	defer timer.Stop()

	for {
		select {
		case ev := <-a.w.Events():
			switch e := ev.(type) {
			case worker.NextPageResult:
				if e.Err != "" {
					return false, NavigationError{Key: a.key, Err: errors.New(e.Err)}
				}
				return e.Success, nil
			case worker.ConnectionEstablished, worker.Progress:
				// Not relevant while paginating.
			case worker.ScrapeCancelled:
				return false, worker.ErrCancelled
			case worker.ScrapeResult:
				// Stale result from a previous page; ignore.
			}
		case <-timer.C:
			return false, TimeoutError{Key: a.key, Page: 0}
		}
	}
}

func (c *Coordinator) attachWorker(a *activeSession) {
	workerCtx, cancel := context.WithCancel(context.Background())
	w := worker.Attach(a.page, a.extr, a.term, c.cfg.ProgressEvery)
	a.setWorker(w, cancel)
	go w.Run(workerCtx)
}

func (c *Coordinator) reattachWorker(a *activeSession) {
	a.wmu.Lock()
	cancel := a.workerCancel
	a.wmu.Unlock()
	if cancel != nil {
		cancel()
	}
	worker.Detach(a.page)
	c.attachWorker(a)
}

func (c *Coordinator) finishDone(ctx context.Context, a *activeSession, accumulated []models.ProductRecord) {
	count := len(accumulated)
	if err := c.store.SaveResults(ctx, a.term, accumulated); err != nil {
		c.failSession(ctx, a, err)
		return
	}
	if err := c.store.DeleteSession(ctx, a.key); err != nil {
		slog.Error("clear finished session", slog.String("key", a.key), slog.Any("error", err))
	}
	if err := c.store.UpdateKeyword(ctx, a.term, models.KeywordDone, &count); err != nil {
		slog.Error("update keyword", slog.String("term", a.term), slog.Any("error", err))
	}

	if c.forwarder != nil {
		batch := append([]models.ProductRecord(nil), accumulated...)
		go func() {
			if err := c.forwarder.Forward(context.Background(), batch); err != nil {
				slog.Warn("forward batch", slog.String("term", a.term), slog.Any("error", err))
			}
		}()
	}

	c.metrics.IncSession("done")
	c.notify(StatusUpdate{
		Key: a.key, Site: a.site, Term: a.term, State: StateDone, Count: count,
	})
	slog.Info("session done",
		slog.String("key", a.key), slog.Int("products", count))
}

// failSession performs the cleanup triad: stop progress, clear the
// session record, update the correlated keyword, then surface the error.
func (c *Coordinator) failSession(ctx context.Context, a *activeSession, err error) {
	if deleteErr := c.store.DeleteSession(ctx, a.key); deleteErr != nil {
		slog.Error("clear failed session", slog.String("key", a.key), slog.Any("error", deleteErr))
	}
	if kwErr := c.store.UpdateKeyword(ctx, a.term, models.KeywordError, nil); kwErr != nil {
		slog.Error("update keyword", slog.String("term", a.term), slog.Any("error", kwErr))
	}

	label := errorTypeLabel(err)
	c.metrics.IncError(label)
	c.metrics.IncSession("error")
	c.notify(StatusUpdate{
		Key: a.key, Site: a.site, Term: a.term, State: StateError, Error: err.Error(),
	})
	slog.Error("session failed",
		slog.String("key", a.key),
		slog.String("category", label),
		slog.Any("error", err),
	)
}

func (c *Coordinator) finishCancelled(ctx context.Context, a *activeSession) {
	// Cancel() already removed the record; deleting again is harmless
	// and covers a worker-side abort the API never saw.
	if err := c.store.DeleteSession(ctx, a.key); err != nil {
		slog.Error("clear cancelled session", slog.String("key", a.key), slog.Any("error", err))
	}
	slog.Info("session cancelled", slog.String("key", a.key))
}

func (c *Coordinator) release(a *activeSession) {
	a.wmu.Lock()
	cancel := a.workerCancel
	a.wmu.Unlock()
	if cancel != nil {
		cancel()
	}
	if a.page != nil {
		worker.Detach(a.page)
		if err := a.page.Close(); err != nil {
			slog.Debug("close page", slog.Any("error", err))
		}
	}
	c.mu.Lock()
	if c.active == a {
		c.active = nil
	}
	c.mu.Unlock()
}

func (c *Coordinator) notify(update StatusUpdate) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(update)
}

func (c *Coordinator) searchTemplate(site models.Site) string {
	if site == models.SiteMercadoLibre {
		return c.cfg.MercadoLibreSearchURL
	}
	return c.cfg.FalabellaSearchURL
}

func termFromKey(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}
