package extractor

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pricescout/models"
	"pricescout/parser"
)

// MercadoLibre extracts search results from listado.mercadolibre.com.pe.
// The markup has gone through several redesigns, so every field is probed
// through a list of selectors, newest first. Pagination is click-based.
type MercadoLibre struct{}

func (MercadoLibre) Site() models.Site    { return models.SiteMercadoLibre }
func (MercadoLibre) Mode() PaginationMode { return PaginateClick }
func (MercadoLibre) PageParam() string    { return "" }
func (MercadoLibre) NextSelector() string {
	return `.andes-pagination__button--next:not(.andes-pagination__button--disabled) a`
}

var mercadoLibreItemSelectors = []string{
	".ui-search-result__wrapper",
	".ui-search-result",
	"li.ui-search-layout__item",
}

func (m MercadoLibre) Extract(doc *goquery.Document, pageURL *url.URL, term string, probe Probe) (models.PageResult, error) {
	var items *goquery.Selection
	for _, sel := range mercadoLibreItemSelectors {
		items = doc.Find(sel)
		if items.Length() > 0 {
			break
		}
	}

	now := time.Now()
	var result models.PageResult
	var aborted error
	items.EachWithBreak(func(i int, item *goquery.Selection) bool {
		if probe != nil {
			if err := probe(i); err != nil {
				aborted = err
				return false
			}
		}
		result.Records = append(result.Records, m.extractItem(item, pageURL, term, now))
		return true
	})
	if aborted != nil {
		return models.PageResult{}, aborted
	}

	result.TotalPages = lastPageNumber(doc, ".andes-pagination__button")
	result.HasNextPage = doc.Find(m.NextSelector()).Length() > 0
	return result, nil
}

func (m MercadoLibre) extractItem(item *goquery.Selection, pageURL *url.URL, term string, now time.Time) models.ProductRecord {
	title := firstText(item,
		".ui-search-item__title",
		".poly-component__title",
		"h2.poly-box",
		"h2",
	)

	price := firstText(item,
		".andes-money-amount__fraction",
		".price-tag-fraction",
	)
	if price != "" {
		symbol := strings.TrimSpace(item.Find(".andes-money-amount__currency-symbol").First().Text())
		if symbol == "" {
			symbol = "S/"
		}
		price = symbol + " " + price
	}

	seller := parser.OptionalText(firstText(item,
		".ui-search-official-store-label",
		".ui-search-item__brand-discoverability",
		".poly-component__seller",
	))

	href := item.Find("a.ui-search-link, a.poly-component__title, a").First().AttrOr("href", "")

	return models.ProductRecord{
		Site:         models.SiteMercadoLibre,
		SearchTerm:   term,
		CapturedAt:   now,
		Title:        parser.NormalizeTitle(title, nil),
		DisplayPrice: parser.OptionalText(price),
		NumericPrice: parser.ParsePrice(price),
		URL:          absoluteURL(pageURL, href),
		Brand:        nil,
		Seller:       seller,
	}
}
