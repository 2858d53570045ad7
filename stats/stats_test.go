package stats

import (
	"testing"

	"pricescout/models"
)

func record(site models.Site, title string, price float64) models.ProductRecord {
	rec := models.ProductRecord{Site: site, Title: title}
	if price > 0 {
		rec.NumericPrice = &price
	}
	return rec
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{
			name: "same product across sites",
			a:    "Laptop Lenovo IdeaPad 3 15.6 8GB 256GB",
			b:    "Lenovo IdeaPad 3 Laptop",
			same: true,
		},
		{
			name: "near tokens count",
			a:    "Audifonos Sony WH-CH520",
			b:    "Audifono Sony WH-CH520 Negro",
			same: true,
		},
		{
			name: "different products",
			a:    "Laptop Lenovo IdeaPad 3",
			b:    "Refrigeradora Samsung 320L",
			same: false,
		},
		{
			name: "empty title",
			a:    "",
			b:    "Laptop Lenovo",
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if tt.same && got < groupThreshold {
				t.Errorf("Similarity(%q, %q) = %.2f, want >= %.2f", tt.a, tt.b, got, groupThreshold)
			}
			if !tt.same && got >= groupThreshold {
				t.Errorf("Similarity(%q, %q) = %.2f, want < %.2f", tt.a, tt.b, got, groupThreshold)
			}
		})
	}
}

func TestComputeGroupsAcrossSites(t *testing.T) {
	records := []models.ProductRecord{
		record(models.SiteFalabella, "Laptop Lenovo IdeaPad 3 15.6", 1299),
		record(models.SiteMercadoLibre, "Lenovo IdeaPad 3 Laptop 15.6", 1199),
		record(models.SiteMercadoLibre, "Laptop Lenovo IdeaPad 3", 1350),
		record(models.SiteFalabella, "Refrigeradora Samsung 320L", 1899),
	}

	report := Compute(records)
	if report.Total != 4 {
		t.Errorf("Total = %d, want 4", report.Total)
	}
	if len(report.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(report.Groups))
	}

	// Largest group first.
	laptops := report.Groups[0]
	if len(laptops.Records) != 3 {
		t.Fatalf("laptop group = %d records, want 3", len(laptops.Records))
	}
	if report.Grouped != 3 {
		t.Errorf("Grouped = %d, want 3 (singletons excluded)", report.Grouped)
	}

	if len(laptops.Prices) != 2 {
		t.Fatalf("price summaries = %d, want one per site", len(laptops.Prices))
	}
	falabella, mercado := laptops.Prices[0], laptops.Prices[1]
	if falabella.Site != models.SiteFalabella || mercado.Site != models.SiteMercadoLibre {
		t.Fatalf("price sites = %s, %s", falabella.Site, mercado.Site)
	}
	if falabella.Count != 1 || falabella.Min != 1299 || falabella.Max != 1299 {
		t.Errorf("falabella prices = %+v", falabella)
	}
	if mercado.Count != 2 || mercado.Min != 1199 || mercado.Max != 1350 {
		t.Errorf("mercadolibre prices = %+v", mercado)
	}
	wantAvg := (1199.0 + 1350.0) / 2
	if mercado.Avg != wantAvg {
		t.Errorf("mercadolibre avg = %v, want %v", mercado.Avg, wantAvg)
	}
}

func TestComputeIgnoresUnparsedPrices(t *testing.T) {
	records := []models.ProductRecord{
		record(models.SiteFalabella, "Mouse Logitech G203", 59.9),
		record(models.SiteFalabella, "Mouse Logitech G203 Lightsync", 0),
	}
	report := Compute(records)
	if len(report.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(report.Groups))
	}
	prices := report.Groups[0].Prices
	if len(prices) != 1 || prices[0].Count != 1 {
		t.Errorf("prices = %+v, want only the parseable record counted", prices)
	}
}

func TestComputeEmptyInput(t *testing.T) {
	report := Compute(nil)
	if report.Total != 0 || report.Grouped != 0 || len(report.Groups) != 0 {
		t.Errorf("Compute(nil) = %+v", report)
	}
}
