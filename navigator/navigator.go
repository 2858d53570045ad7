// Package navigator advances a tracked page through a site's result
// pages and builds the site's search URLs.
package navigator

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"pricescout/worker"
)

// SearchURL renders a search URL template for a term. Query-style
// templates get the term escaped; path-style templates (MercadoLibre's
// listado pages) get it hyphenated.
func SearchURL(template, term string) string {
	term = strings.TrimSpace(term)
	if strings.Contains(template, "?") {
		return fmt.Sprintf(template, url.QueryEscape(term))
	}
	return fmt.Sprintf(template, url.PathEscape(strings.Join(strings.Fields(term), "-")))
}

// NextPageURL computes the next page's URL by setting or replacing the
// pagination query parameter on the current location.
func NextPageURL(current, param string) (string, int, error) {
	parsed, err := url.Parse(current)
	if err != nil {
		return "", 0, fmt.Errorf("parse current location: %w", err)
	}

	q := parsed.Query()
	page := 1
	if n, err := strconv.Atoi(q.Get(param)); err == nil && n >= 1 {
		page = n
	}
	next := page + 1
	q.Set(param, strconv.Itoa(next))
	parsed.RawQuery = q.Encode()
	return parsed.String(), next, nil
}

// PageURL rewrites the location to point at an explicit page number,
// used when resuming a session in the middle of its page loop.
func PageURL(current, param string, page int) (string, error) {
	parsed, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse current location: %w", err)
	}
	q := parsed.Query()
	if page <= 1 {
		q.Del(param)
	} else {
		q.Set(param, strconv.Itoa(page))
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// Advance drives the page to its next result page by URL rewriting and
// returns the page number navigated to. The page's Navigate blocks until
// the navigation-complete signal plus the configured settle delay.
func Advance(ctx context.Context, page worker.Page, param string) (int, error) {
	current, err := page.Location(ctx)
	if err != nil {
		return 0, fmt.Errorf("read location: %w", err)
	}
	nextURL, nextPage, err := NextPageURL(current, param)
	if err != nil {
		return 0, err
	}
	if err := page.Navigate(ctx, nextURL); err != nil {
		return 0, err
	}
	return nextPage, nil
}
