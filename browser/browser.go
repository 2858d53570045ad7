// Package browser drives real Chrome pages through chromedp and exposes
// them behind the worker.Page interface.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Browser owns one headless Chrome process; tabs are opened from it.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	settle      time.Duration
}

// New launches the browser process allocator.
func New(headless bool, userAgent string, settle time.Duration) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	baseCtx, baseCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(baseCtx); err != nil {
		baseCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		settle:      settle,
	}, nil
}

// Close tears down every tab and the browser process.
func (b *Browser) Close() {
	b.baseCancel()
	b.allocCancel()
}

// OpenTab opens a fresh tab and navigates it to rawURL.
func (b *Browser) OpenTab(ctx context.Context, rawURL string) (*Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.baseCtx)

	// The target sites occasionally throw geo/consent dialogs; accept
	// them so waits don't hang.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					slog.Debug("dismiss dialog", slog.Any("error", err))
				}
			}()
		}
	})

	t := &Tab{ctx: tabCtx, cancel: tabCancel, settle: b.settle}
	if err := t.Navigate(ctx, rawURL); err != nil {
		tabCancel()
		return nil, err
	}
	return t, nil
}

// Tab is one live page context. Navigating it invalidates any worker
// attached to the previous document.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	settle time.Duration
}

func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := t.ctx
	if ctx.Done() != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(t.ctx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return ctx.Err()
}

// Location returns the tab's current URL.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// HTML snapshots the tab's current DOM.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot dom: %w", err)
	}
	return html, nil
}

// Navigate drives the tab to rawURL, waits for the document to become
// ready, then waits the settle delay for dynamic content to populate.
func (t *Tab) Navigate(ctx context.Context, rawURL string) error {
	err := t.run(ctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(t.settle),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

// ClickNext activates the in-page next control if it is present and
// enabled, reporting whether anything was actually clicked.
func (t *Tab) ClickNext(ctx context.Context, selector string) (bool, error) {
	const script = `(function(sel) {
		const el = document.querySelector(sel);
		if (!el || el.disabled) return false;
		el.click();
		return true;
	})(%q)`

	var clicked bool
	if err := t.run(ctx, chromedp.Evaluate(fmt.Sprintf(script, selector), &clicked)); err != nil {
		return false, fmt.Errorf("click next: %w", err)
	}
	if clicked {
		if err := t.run(ctx, chromedp.Sleep(t.settle)); err != nil {
			return true, err
		}
	}
	return clicked, nil
}

// Close releases the tab.
func (t *Tab) Close() error {
	t.cancel()
	return nil
}
