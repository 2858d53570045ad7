package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"pricescout/config"
)

// retryManager re-visits failed URLs with exponential backoff, capped at
// MaxRetries attempts per URL.
type retryManager struct {
	collector *colly.Collector
	cfg       *config.Config
	ctx       context.Context

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]*time.Timer
	totalRetries int
	stopped      bool
}

func newRetryManager(collector *colly.Collector, cfg *config.Config) *retryManager {
	return &retryManager{
		collector: collector,
		cfg:       cfg,
		attempts:  make(map[string]int),
		timers:    make(map[string]*time.Timer),
		ctx:       context.Background(),
	}
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}

// Schedule queues a delayed re-visit, reporting false once the URL's
// retry budget is exhausted.
func (rm *retryManager) Schedule(url string) bool {
	if url == "" || rm.cfg.MaxRetries == 0 {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}
	attempt := rm.attempts[url]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++

	delay := rm.backoff(attempt)
	if timer, ok := rm.timers[url]; ok {
		timer.Stop()
	}
	rm.timers[url] = time.AfterFunc(delay, func() {
		rm.fireRetry(url)
	})
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := rm.cfg.RetryBackoff.Std()
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax.Std(); max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retryManager) fireRetry(url string) {
	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return
	}
	ctx := rm.ctx
	delete(rm.timers, url)
	rm.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err := rm.collector.Visit(url); err != nil {
		slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
	}
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.stopped {
		return
	}
	rm.stopped = true
	for url, timer := range rm.timers {
		timer.Stop()
		delete(rm.timers, url)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}
