package sweep

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"pricescout/config"
	"pricescout/models"
)

func buildResultPage(page, total int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 2; i++ {
		fmt.Fprintf(&b,
			`<div data-testid="ssr-pod"><a href="/p/%d-%d"></a><b class="pod-title">BRAND</b><b class="pod-subTitle">Item %d-%d</b><span data-testid="current-price">S/ %d</span></div>`,
			page, i, page, i, 100+i)
	}
	if page < total {
		b.WriteString(`<button aria-label="Página siguiente"></button>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.FalabellaSearchURL = "http://falabella.test/search?Ntt=%s"
	cfg.OutputDir = ""
	cfg.SweepDelay = 0
	cfg.SweepMaxPages = 10
	cfg.MaxRetries = 1
	cfg.RetryBackoff = config.Duration(10 * time.Millisecond)
	cfg.RetryBackoffMax = config.Duration(50 * time.Millisecond)
	return cfg
}

func TestSweepCrawlsAllPages(t *testing.T) {
	cfg := testConfig()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://falabella.test/search?Ntt=laptop",
		htmlResponder(buildResultPage(1, 3)))
	transport.RegisterResponder("GET", "http://falabella.test/search?Ntt=laptop&page=2",
		htmlResponder(buildResultPage(2, 3)))
	transport.RegisterResponder("GET", "http://falabella.test/search?Ntt=laptop&page=3",
		htmlResponder(buildResultPage(3, 3)))

	sw, err := New(cfg, models.SiteFalabella)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sw.collector.WithTransport(transport)

	result, err := sw.Run(context.Background(), "laptop")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Pages != 3 {
		t.Errorf("pages = %d, want 3", result.Pages)
	}
	if len(result.Records) != 6 {
		t.Fatalf("records = %d, want 6", len(result.Records))
	}
	for i, rec := range result.Records {
		if rec.Position != i+1 {
			t.Errorf("records[%d].Position = %d, want dense numbering", i, rec.Position)
		}
		if rec.SearchTerm != "laptop" || rec.Site != models.SiteFalabella {
			t.Errorf("record identity = %s/%s", rec.Site, rec.SearchTerm)
		}
	}
}

func TestSweepHonorsMaxPages(t *testing.T) {
	cfg := testConfig()
	cfg.SweepMaxPages = 2

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://falabella.test/search?Ntt=laptop",
		htmlResponder(buildResultPage(1, 9)))
	transport.RegisterResponder("GET", "http://falabella.test/search?Ntt=laptop&page=2",
		htmlResponder(buildResultPage(2, 9)))

	sw, err := New(cfg, models.SiteFalabella)
	if err != nil {
		t.Fatal(err)
	}
	sw.collector.WithTransport(transport)

	result, err := sw.Run(context.Background(), "laptop")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Pages != 2 {
		t.Errorf("pages = %d, want cap of 2", result.Pages)
	}
	if len(result.Records) != 4 {
		t.Errorf("records = %d, want 4", len(result.Records))
	}
}

func TestSweepWritesExportFiles(t *testing.T) {
	cfg := testConfig()
	cfg.OutputDir = t.TempDir()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://falabella.test/search?Ntt=laptop",
		htmlResponder(buildResultPage(1, 1)))

	sw, err := New(cfg, models.SiteFalabella)
	if err != nil {
		t.Fatal(err)
	}
	sw.collector.WithTransport(transport)

	result, err := sw.Run(context.Background(), "laptop")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("files = %v, want one CSV and one JSONL", result.Files)
	}
	if !strings.HasSuffix(result.Files[0], ".csv") || !strings.HasSuffix(result.Files[1], ".jsonl") {
		t.Fatalf("files = %v", result.Files)
	}

	data, err := os.ReadFile(result.Files[0])
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("export is not CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("csv rows = %d, want header + 2 records", len(rows))
	}

	data, err = os.ReadFile(result.Files[1])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("jsonl lines = %d, want one per record", len(lines))
	}
}

func TestSweepRetriesServerErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://falabella.test/search?Ntt=laptop",
		httpmock.NewStringResponder(500, "upstream broken"))

	sw, err := New(cfg, models.SiteFalabella)
	if err != nil {
		t.Fatal(err)
	}
	sw.collector.WithTransport(transport)

	result, err := sw.Run(context.Background(), "laptop")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("records = %d, want none", len(result.Records))
	}
	if result.Retries != 1 {
		t.Errorf("retries = %d, want 1", result.Retries)
	}
}

func TestRetryManagerScheduleRespectsLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	sw, err := New(cfg, models.SiteFalabella)
	if err != nil {
		t.Fatal(err)
	}
	rm := newRetryManager(sw.collector, cfg)
	defer rm.Stop()
	const target = "http://falabella.test/search?Ntt=laptop"
	if !rm.Schedule(target) {
		t.Fatal("first Schedule() = false, want true")
	}
	if !rm.Schedule(target) {
		t.Fatal("second Schedule() = false, want true")
	}
	if rm.Schedule(target) {
		t.Fatal("third Schedule() = true, want budget exhausted")
	}
	if rm.TotalRetries() != 2 {
		t.Errorf("TotalRetries() = %d, want 2", rm.TotalRetries())
	}
	if rm.Schedule("") {
		t.Error("Schedule(empty) = true, want false")
	}
}

func TestRetryManagerBackoffCaps(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = config.Duration(100 * time.Millisecond)
	cfg.RetryBackoffMax = config.Duration(250 * time.Millisecond)

	sw, err := New(cfg, models.SiteFalabella)
	if err != nil {
		t.Fatal(err)
	}
	rm := newRetryManager(sw.collector, cfg)
	defer rm.Stop()

	if got := rm.backoff(1); got != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v", got)
	}
	if got := rm.backoff(2); got != 200*time.Millisecond {
		t.Errorf("backoff(2) = %v", got)
	}
	if got := rm.backoff(3); got != 250*time.Millisecond {
		t.Errorf("backoff(3) = %v, want capped", got)
	}
}
