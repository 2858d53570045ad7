package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTotalPages is the safety cap used when a site exposes no usable
// pagination metadata; it guarantees the page loop terminates.
const DefaultTotalPages = 25

// ScrapeSession is one in-flight or paused multi-page scraping job.
//
// IsRunning and IsPaused are never both true. AccumulatedProducts always
// has exactly ProductsCount entries.
type ScrapeSession struct {
	Site                Site            `json:"site"`
	SearchTerm          string          `json:"searchTerm"`
	IsRunning           bool            `json:"isRunning"`
	IsPaused            bool            `json:"isPaused"`
	CurrentPage         int             `json:"currentPage"`
	TotalPages          int             `json:"totalPages"`
	ProductsCount       int             `json:"productsCount"`
	AccumulatedProducts []ProductRecord `json:"accumulatedProducts"`
	LastUpdated         time.Time       `json:"lastUpdated"`
}

// Key returns the composite store key for this session.
func (s *ScrapeSession) Key() string {
	return SessionKey(s.Site, s.SearchTerm)
}

// SessionKey builds the normalized composite key "<site>:<term>".
func SessionKey(site Site, term string) string {
	return fmt.Sprintf("%s:%s", site, NormalizeTerm(term))
}

// NormalizeTerm lower-cases a search term and collapses inner whitespace,
// so that "  Gaming   Laptop " and "gaming laptop" share one session.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}

// KeywordStatus tracks the lifecycle of a saved search term in the UI.
type KeywordStatus string

const (
	KeywordIdle      KeywordStatus = "idle"
	KeywordRunning   KeywordStatus = "running"
	KeywordDone      KeywordStatus = "done"
	KeywordError     KeywordStatus = "error"
	KeywordCancelled KeywordStatus = "cancelled"
)

// KeywordEntry is a saved search term tracked by the presentation layer.
// It is correlated with sessions by term but has its own lifecycle.
type KeywordEntry struct {
	Term   string        `json:"term"`
	Status KeywordStatus `json:"status"`
	Count  int           `json:"count"`
}
