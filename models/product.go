// Package models defines the data structures shared across the scraper.
package models

import "time"

// Site identifies one of the supported e-commerce targets.
type Site string

const (
	SiteFalabella    Site = "falabella"
	SiteMercadoLibre Site = "mercadolibre"
)

// Valid reports whether the site is one of the supported targets.
func (s Site) Valid() bool {
	return s == SiteFalabella || s == SiteMercadoLibre
}

// ProductRecord represents one scraped product listing.
//
// Position is 1-based and dense within the accumulated result set for a
// search term; it is reassigned on every merge. NumericPrice is nil when
// DisplayPrice could not be parsed.
type ProductRecord struct {
	Site         Site      `csv:"site" json:"site"`
	SearchTerm   string    `csv:"search_term" json:"searchTerm"`
	CapturedAt   time.Time `csv:"captured_at" json:"capturedAt"`
	Position     int       `csv:"position" json:"position"`
	Title        string    `csv:"title" json:"title"`
	DisplayPrice *string   `csv:"display_price" json:"displayPrice"`
	NumericPrice *float64  `csv:"numeric_price" json:"numericPrice"`
	URL          string    `csv:"url" json:"url"`
	Brand        *string   `csv:"brand" json:"brand"`
	Seller       *string   `csv:"seller" json:"seller"`
}

// PageResult holds one page's extraction output along with the pagination
// metadata the site exposed.
type PageResult struct {
	Records     []ProductRecord
	CurrentPage int
	TotalPages  int
	HasNextPage bool
}

// Renumber reassigns dense 1-based positions over an accumulated set.
func Renumber(records []ProductRecord) {
	for i := range records {
		records[i].Position = i + 1
	}
}
