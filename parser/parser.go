// Package parser contains text normalization helpers for scraped listings.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"pricescout/models"
)

// ParsePrice extracts a non-negative numeric amount from a display price
// such as "S/ 1,299.50". It returns nil when the text carries no parseable
// number (e.g. "Sin precio").
func ParsePrice(display string) *float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, display)
	if cleaned == "" {
		return nil
	}

	// Thousands separators are commas on both target sites; the decimal
	// point is always ".".
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}

// NormalizeTitle applies the title fallback chain: the extracted title,
// then the brand, then the literal "untitled".
func NormalizeTitle(title string, brand *string) string {
	title = strings.TrimSpace(title)
	if title != "" {
		return title
	}
	if brand != nil && strings.TrimSpace(*brand) != "" {
		return strings.TrimSpace(*brand)
	}
	return "untitled"
}

// OptionalText trims a scraped fragment and returns nil when nothing
// meaningful remains.
func OptionalText(text string) *string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &text
}

// ValidateRecord ensures a record satisfies the invariants the rest of the
// system relies on.
func ValidateRecord(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if !r.Site.Valid() {
		return fmt.Errorf("record has unknown site %q", r.Site)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("record missing title")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("record missing url for %s", r.Title)
	}
	if r.NumericPrice != nil && *r.NumericPrice < 0 {
		return fmt.Errorf("record has negative price for %s", r.Title)
	}
	return nil
}
