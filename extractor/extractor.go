// Package extractor turns rendered search-result pages into product
// records. One implementation exists per target site; everything
// site-specific (selector lists, text-splitting heuristics, pagination
// affordances) lives here and nowhere else.
package extractor

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricescout/models"
)

// PaginationMode says how a site advances to the next result page.
type PaginationMode int

const (
	// PaginateURLParam means the next page is reached by rewriting a
	// query parameter and navigating.
	PaginateURLParam PaginationMode = iota
	// PaginateClick means the next page is reached by activating an
	// in-page control.
	PaginateClick
)

// Probe is called between items during extraction; returning an error
// aborts the page. The worker uses it as a cooperative cancellation check.
type Probe func(itemsDone int) error

// Extractor extracts the current page's product records and pagination
// metadata for one site.
type Extractor interface {
	Site() models.Site
	Mode() PaginationMode
	// PageParam is the pagination query parameter for URL-param sites.
	PageParam() string
	// NextSelector is the CSS selector of the next-page control for
	// click-paginated sites.
	NextSelector() string
	Extract(doc *goquery.Document, pageURL *url.URL, term string, probe Probe) (models.PageResult, error)
}

// ForSite returns the extractor registered for a site.
func ForSite(site models.Site) (Extractor, error) {
	switch site {
	case models.SiteFalabella:
		return Falabella{}, nil
	case models.SiteMercadoLibre:
		return MercadoLibre{}, nil
	default:
		return nil, fmt.Errorf("no extractor for site %q", site)
	}
}

// firstText returns the first non-empty trimmed text among the selectors.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		text := strings.TrimSpace(s.Find(sel).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// absoluteURL resolves href against the page URL; a missing href degrades
// to the page URL itself rather than dropping the record.
func absoluteURL(pageURL *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		if pageURL == nil {
			return ""
		}
		return pageURL.String()
	}
	if pageURL == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return pageURL.String()
	}
	return pageURL.ResolveReference(ref).String()
}

// lastPageNumber scans a pagination container for the highest page number
// it advertises. Zero means the site exposed nothing usable.
func lastPageNumber(doc *goquery.Document, selector string) int {
	last := 0
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > last {
			last = n
		}
	})
	return last
}
