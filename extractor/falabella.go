package extractor

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pricescout/models"
	"pricescout/parser"
)

// Falabella extracts product pods from falabella.com.pe search results.
// The site paginates through a "page" query parameter.
type Falabella struct{}

func (Falabella) Site() models.Site    { return models.SiteFalabella }
func (Falabella) Mode() PaginationMode { return PaginateURLParam }
func (Falabella) PageParam() string    { return "page" }
func (Falabella) NextSelector() string { return `button[aria-label="Página siguiente"]` }

const falabellaPodSelector = `[data-testid=ssr-pod]`

// Extract walks the result pods. Pods that defeat every selector degrade
// to placeholder records instead of aborting the page.
func (f Falabella) Extract(doc *goquery.Document, pageURL *url.URL, term string, probe Probe) (models.PageResult, error) {
	pods := doc.Find(falabellaPodSelector)
	now := time.Now()

	var result models.PageResult
	var aborted error
	pods.EachWithBreak(func(i int, pod *goquery.Selection) bool {
		if probe != nil {
			if err := probe(i); err != nil {
				aborted = err
				return false
			}
		}
		result.Records = append(result.Records, f.extractPod(pod, pageURL, term, now))
		return true
	})
	if aborted != nil {
		return models.PageResult{}, aborted
	}

	result.TotalPages = lastPageNumber(doc, `div[data-testid=pagination] button, ol.pagination li`)
	result.HasNextPage = doc.Find(f.NextSelector()+`:not([disabled])`).Length() > 0 ||
		doc.Find(`a[aria-label*="siguiente"], a[aria-label*="Siguiente"]`).Length() > 0
	return result, nil
}

func (f Falabella) extractPod(pod *goquery.Selection, pageURL *url.URL, term string, now time.Time) models.ProductRecord {
	brand := parser.OptionalText(firstText(pod, `b.pod-title`, `[data-testid=pod-brand]`))
	title := firstText(pod, `b.pod-subTitle`, `[data-testid=pod-displayName]`)
	seller := parser.OptionalText(firstText(pod, `b.pod-sellerText`, `[data-testid=pod-seller]`))
	price := firstText(pod, `[data-testid=current-price]`, `.copy10.primary`, `li[data-cmp-price] span`)

	// Fallback for markup revisions: the pod's visible text is a
	// newline-separated block of brand / title / seller / price.
	if title == "" {
		lines := nonEmptyLines(pod.Text())
		if len(lines) >= 2 {
			brand = parser.OptionalText(lines[0])
			title = lines[1]
		}
		if len(lines) >= 3 && seller == nil {
			seller = parser.OptionalText(lines[2])
		}
		if len(lines) >= 4 && price == "" {
			price = lines[3]
		}
	}

	return models.ProductRecord{
		Site:         models.SiteFalabella,
		SearchTerm:   term,
		CapturedAt:   now,
		Title:        parser.NormalizeTitle(title, brand),
		DisplayPrice: parser.OptionalText(price),
		NumericPrice: parser.ParsePrice(price),
		URL:          absoluteURL(pageURL, pod.Find("a").First().AttrOr("href", "")),
		Brand:        brand,
		Seller:       seller,
	}
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
