// Package stats groups completed product records by fuzzy title
// similarity and compares prices across sites per group. It is a
// stateless batch computation over already-collected result sets; the
// grouping is approximate by nature and nothing in the scraping core
// depends on its output.
package stats

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"pricescout/models"
)

const (
	// groupThreshold is the minimum blended similarity for two titles to
	// land in one group.
	groupThreshold = 0.55
	// tokenMatchScore is the minimum Jaro-Winkler score for two distinct
	// tokens to count as the same word (catches plurals and typos).
	tokenMatchScore = 0.92
)

// SitePrice summarizes one site's prices inside a group.
type SitePrice struct {
	Site  models.Site `json:"site"`
	Count int         `json:"count"`
	Min   float64     `json:"min"`
	Max   float64     `json:"max"`
	Avg   float64     `json:"avg"`
}

// Group is a cluster of records judged to be the same product.
type Group struct {
	Title   string                 `json:"title"`
	Records []models.ProductRecord `json:"records"`
	Prices  []SitePrice            `json:"prices"`
}

// Report is the full grouping output for one result set.
type Report struct {
	Groups  []Group `json:"groups"`
	Grouped int     `json:"grouped"`
	Total   int     `json:"total"`
}

// Compute clusters records greedily: each record joins the first
// existing group whose representative title is similar enough, else
// founds its own. The first member's title represents the group.
func Compute(records []models.ProductRecord) Report {
	var groups []Group
	for _, rec := range records {
		placed := false
		for i := range groups {
			if Similarity(groups[i].Title, rec.Title) >= groupThreshold {
				groups[i].Records = append(groups[i].Records, rec)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, Group{Title: rec.Title, Records: []models.ProductRecord{rec}})
		}
	}

	grouped := 0
	for i := range groups {
		groups[i].Prices = sitePrices(groups[i].Records)
		if len(groups[i].Records) > 1 {
			grouped += len(groups[i].Records)
		}
	}

	// Larger groups first; they are the interesting comparisons.
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].Records) > len(groups[j].Records)
	})

	return Report{Groups: groups, Grouped: grouped, Total: len(records)}
}

// Similarity blends token overlap with coverage of the shorter title.
// Overlap alone punishes short-vs-long title pairs, which is the common
// case across these two sites, so coverage gets equal weight.
func Similarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	used := make([]bool, len(tb))
	for _, wa := range ta {
		for j, wb := range tb {
			if used[j] {
				continue
			}
			if wa == wb || matchr.JaroWinkler(wa, wb, true) >= tokenMatchScore {
				used[j] = true
				shared++
				break
			}
		}
	}

	union := len(ta) + len(tb) - shared
	jaccard := float64(shared) / float64(union)
	shorter := len(ta)
	if len(tb) < shorter {
		shorter = len(tb)
	}
	coverage := float64(shared) / float64(shorter)
	return (jaccard + coverage) / 2
}

func sitePrices(records []models.ProductRecord) []SitePrice {
	bySite := map[models.Site][]float64{}
	for _, rec := range records {
		if rec.NumericPrice == nil {
			continue
		}
		bySite[rec.Site] = append(bySite[rec.Site], *rec.NumericPrice)
	}

	var out []SitePrice
	for site, prices := range bySite {
		sp := SitePrice{Site: site, Count: len(prices), Min: prices[0], Max: prices[0]}
		sum := 0.0
		for _, p := range prices {
			if p < sp.Min {
				sp.Min = p
			}
			if p > sp.Max {
				sp.Max = p
			}
			sum += p
		}
		sp.Avg = sum / float64(len(prices))
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

func tokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()[]\"'")
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
