// Package sweep performs a one-shot, stateless crawl of a search across
// result pages over plain HTTP. Unlike coordinator sessions it keeps no
// session record and cannot pause or resume; it is the quick manual path
// for sites that render listings server-side.
package sweep

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"pricescout/config"
	"pricescout/export"
	"pricescout/extractor"
	"pricescout/models"
	"pricescout/navigator"
)

// Result summarizes one sweep run.
type Result struct {
	Records    []models.ProductRecord
	Pages      int
	Retries    int
	FailedURLs []string
	Files      []string
}

// Sweep crawls one site's result pages for a term.
type Sweep struct {
	cfg  *config.Config
	site models.Site
	extr extractor.Extractor

	collector *colly.Collector
	retry     *retryManager

	mu         sync.Mutex
	records    []models.ProductRecord
	seen       map[string]bool
	pages      int
	failedURLs []string
}

// New builds a sweep for one site.
func New(cfg *config.Config, site models.Site) (*Sweep, error) {
	extr, err := extractor.ForSite(site)
	if err != nil {
		return nil, err
	}

	template := cfg.FalabellaSearchURL
	if site == models.SiteMercadoLibre {
		template = cfg.MercadoLibreSearchURL
	}
	parsed, err := url.Parse(strings.ReplaceAll(template, "%s", "probe"))
	if err != nil {
		return nil, fmt.Errorf("parse search template: %w", err)
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		// Retried URLs must not be rejected as already visited; record
		// dedupe happens downstream.
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.PageTimeout.Std())
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.SweepDelay.Std(),
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Sweep{
		cfg:       cfg,
		site:      site,
		extr:      extr,
		collector: collector,
		seen:      make(map[string]bool),
	}
	s.retry = newRetryManager(collector, cfg)
	return s, nil
}

// Run crawls up to SweepMaxPages result pages for term and returns the
// deduplicated records in page order.
func (s *Sweep) Run(ctx context.Context, term string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.retry.SetContext(ctx)

	term = models.NormalizeTerm(term)
	s.configureHandlers(ctx, term)

	template := s.cfg.FalabellaSearchURL
	if s.site == models.SiteMercadoLibre {
		template = s.cfg.MercadoLibreSearchURL
	}
	start := navigator.SearchURL(template, term)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.collector.Wait()
			s.retry.Stop()
		case <-done:
		}
	}()

	if err := s.collector.Visit(start); err != nil {
		return nil, fmt.Errorf("initial visit: %w", err)
	}
	s.collector.Wait()
	s.retry.Stop()

	s.mu.Lock()
	models.Renumber(s.records)
	records := s.records
	pages := s.pages
	failed := append([]string(nil), s.failedURLs...)
	s.mu.Unlock()

	files, err := s.writeExports(term, records)
	if err != nil {
		return nil, err
	}
	return &Result{
		Records:    records,
		Pages:      pages,
		Retries:    s.retry.TotalRetries(),
		FailedURLs: failed,
		Files:      files,
	}, nil
}

// writeExports persists the run's records under OutputDir, one CSV and
// one JSONL file per run.
func (s *Sweep) writeExports(term string, records []models.ProductRecord) ([]string, error) {
	if s.cfg.OutputDir == "" || len(records) == 0 {
		return nil, nil
	}

	csvPath := export.Filename(s.cfg.OutputDir, term, "csv")
	cw, err := export.NewCSVWriter(csvPath)
	if err != nil {
		return nil, err
	}
	if err := cw.Write(records); err != nil {
		cw.Close()
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, err
	}

	jsonPath := export.Filename(s.cfg.OutputDir, term, "jsonl")
	jw, err := export.NewJSONWriter(jsonPath)
	if err != nil {
		return nil, err
	}
	if err := jw.Write(records); err != nil {
		jw.Close()
		return nil, err
	}
	if err := jw.Close(); err != nil {
		return nil, err
	}
	return []string{csvPath, jsonPath}, nil
}

func (s *Sweep) configureHandlers(ctx context.Context, term string) {
	s.collector.OnResponse(func(r *colly.Response) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(r.Body)))
		if err != nil {
			return
		}
		probe := func(int) error { return ctx.Err() }
		result, err := s.extr.Extract(doc, r.Request.URL, term, probe)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.pages++
		pages := s.pages
		// colly may revisit through retries; dedupe on record URL.
		for _, rec := range result.Records {
			if rec.URL != "" && s.seen[rec.URL] {
				continue
			}
			if rec.URL != "" {
				s.seen[rec.URL] = true
			}
			s.records = append(s.records, rec)
		}
		s.mu.Unlock()

		if !result.HasNextPage || pages >= s.cfg.SweepMaxPages || ctx.Err() != nil {
			return
		}
		if next := s.nextURL(doc, r.Request.URL); next != "" {
			s.collector.Visit(next)
		}
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		rawURL := ""
		if r != nil && r.Request != nil && r.Request.URL != nil {
			rawURL = r.Request.URL.String()
		}
		if !s.retry.Schedule(rawURL) {
			s.mu.Lock()
			s.failedURLs = append(s.failedURLs, rawURL)
			s.mu.Unlock()
		}
	})
}

// nextURL resolves the following result page: the next control's href
// when the markup exposes one, else the bumped pagination parameter.
func (s *Sweep) nextURL(doc *goquery.Document, current *url.URL) string {
	if href, ok := doc.Find(s.extr.NextSelector()).Attr("href"); ok && href != "" {
		if abs, err := current.Parse(href); err == nil {
			return abs.String()
		}
	}
	if s.extr.Mode() == extractor.PaginateURLParam {
		next, _, err := navigator.NextPageURL(current.String(), s.extr.PageParam())
		if err == nil {
			return next
		}
	}
	return ""
}
