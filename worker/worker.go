// Package worker runs the page-resident half of the scraping protocol:
// it owns a single page's cancellation flag and extraction execution, and
// talks to the coordinator exclusively through typed message channels.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"

	"pricescout/extractor"
)

// ErrCancelled is returned by extraction probes once the cancellation
// flag is set. It marks a cooperative abort, not a failure.
var ErrCancelled = errors.New("worker: cancelled")

// Page is the handle to one rendered page context. Navigation invalidates
// any worker attached to the page; the controller must attach a fresh one.
type Page interface {
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Navigate(ctx context.Context, rawURL string) error
	ClickNext(ctx context.Context, selector string) (bool, error)
	Close() error
}

// Worker serves the scraping protocol for a single page context.
type Worker struct {
	page          Page
	extr          extractor.Extractor
	term          string
	progressEvery int

	cancelled atomic.Bool
	commands  chan Command
	events    chan Event

	runOnce sync.Once
}

var (
	registryMu sync.Mutex
	registry   = map[Page]*Worker{}
)

// Attach installs a worker into a page context, or returns the worker
// already attached to it. Re-attaching must be a no-op: the page context
// must never end up with two command loops.
func Attach(page Page, extr extractor.Extractor, term string, progressEvery int) *Worker {
	registryMu.Lock()
	defer registryMu.Unlock()

	if w, ok := registry[page]; ok {
		return w
	}
	w := &Worker{
		page:          page,
		extr:          extr,
		term:          term,
		progressEvery: progressEvery,
		commands:      make(chan Command, 4),
		events:        make(chan Event, 16),
	}
	registry[page] = w
	return w
}

// Detach removes the worker bound to a page context, typically after
// navigation tore the context down.
func Detach(page Page) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, page)
}

// Commands is the coordinator-to-worker half of the channel.
func (w *Worker) Commands() chan<- Command { return w.commands }

// Events is the worker-to-coordinator half of the channel.
func (w *Worker) Events() <-chan Event { return w.events }

// SetCancelled flips the cancellation flag. Any in-flight extraction
// aborts at its next check point; pending waits abort before acting.
func (w *Worker) SetCancelled() { w.cancelled.Store(true) }

// Run serves commands until the context ends. It emits
// ConnectionEstablished once, immediately, and only on the first call.
func (w *Worker) Run(ctx context.Context) {
	w.runOnce.Do(func() {
		w.emit(ctx, ConnectionEstablished{})
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.commands:
				switch c := cmd.(type) {
				case ScrapeCommand:
					w.handleScrape(ctx, c)
				case CancelCommand:
					w.cancelled.Store(true)
				case NextPageCommand:
					w.handleNextPage(ctx)
				}
			}
		}
	})
}

func (w *Worker) handleScrape(ctx context.Context, cmd ScrapeCommand) {
	if w.cancelled.Load() {
		w.emit(ctx, ScrapeCancelled{})
		return
	}

	term := w.term
	if cmd.Keyword != "" {
		term = cmd.Keyword
	}

	loc, err := w.page.Location(ctx)
	if err != nil {
		w.emit(ctx, ScrapeResult{Err: "read page location: " + err.Error()})
		return
	}
	pageURL, _ := url.Parse(loc)

	html, err := w.page.HTML(ctx)
	if err != nil {
		w.emit(ctx, ScrapeResult{Err: "snapshot page: " + err.Error()})
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		w.emit(ctx, ScrapeResult{Err: "parse page: " + err.Error()})
		return
	}

	currentPage := pageFromURL(pageURL, w.extr.PageParam())
	probe := func(done int) error {
		if w.cancelled.Load() {
			return ErrCancelled
		}
		if w.progressEvery > 0 && done > 0 && done%w.progressEvery == 0 {
			// Progress is advisory; never block extraction on it.
			select {
			case w.events <- Progress{Count: done, Page: currentPage}:
			default:
			}
		}
		return nil
	}

	result, err := w.extr.Extract(doc, pageURL, term, probe)
	if errors.Is(err, ErrCancelled) {
		w.emit(ctx, ScrapeCancelled{})
		return
	}
	if err != nil {
		w.emit(ctx, ScrapeResult{Err: err.Error()})
		return
	}

	result.CurrentPage = currentPage
	slog.Debug("worker extracted page",
		slog.String("site", string(w.extr.Site())),
		slog.Int("page", currentPage),
		slog.Int("records", len(result.Records)),
	)
	w.emit(ctx, ScrapeResult{Result: result})
}

func (w *Worker) handleNextPage(ctx context.Context) {
	if w.cancelled.Load() {
		w.emit(ctx, NextPageResult{Success: false, Err: ErrCancelled.Error()})
		return
	}
	ok, err := w.page.ClickNext(ctx, w.extr.NextSelector())
	if err != nil {
		w.emit(ctx, NextPageResult{Success: false, Err: err.Error()})
		return
	}
	w.emit(ctx, NextPageResult{Success: ok})
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// pageFromURL reads the current page number from a location's pagination
// parameter. Sites without URL pagination, and URLs without the
// parameter, count as page 1.
func pageFromURL(pageURL *url.URL, param string) int {
	if pageURL == nil || param == "" {
		return 1
	}
	n, err := strconv.Atoi(pageURL.Query().Get(param))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
