package parser

import (
	"testing"

	"pricescout/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		display string
		want    float64
		wantNil bool
	}{
		{name: "soles with thousands separator", display: "S/ 1,299.50", want: 1299.50},
		{name: "plain integer", display: "S/ 899", want: 899},
		{name: "decimal without symbol", display: "49.90", want: 49.90},
		{name: "embedded in text", display: "Antes: S/ 2,399.00", want: 2399},
		{name: "no digits", display: "Sin precio", wantNil: true},
		{name: "empty", display: "", wantNil: true},
		{name: "only punctuation", display: ".,", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.display)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("ParsePrice(%q) = %v, want nil", tt.display, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParsePrice(%q) = nil, want %v", tt.display, tt.want)
			}
			if *got != tt.want {
				t.Errorf("ParsePrice(%q) = %v, want %v", tt.display, *got, tt.want)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	brand := "Lenovo"
	blank := "   "
	tests := []struct {
		name  string
		title string
		brand *string
		want  string
	}{
		{name: "title wins", title: "Laptop IdeaPad 3", brand: &brand, want: "Laptop IdeaPad 3"},
		{name: "falls back to brand", title: "  ", brand: &brand, want: "Lenovo"},
		{name: "blank brand falls through", title: "", brand: &blank, want: "untitled"},
		{name: "nothing at all", title: "", brand: nil, want: "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTitle(tt.title, tt.brand); got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestOptionalText(t *testing.T) {
	if got := OptionalText("  \t "); got != nil {
		t.Errorf("OptionalText(blank) = %q, want nil", *got)
	}
	if got := OptionalText(" Falabella "); got == nil || *got != "Falabella" {
		t.Errorf("OptionalText trimmed = %v, want Falabella", got)
	}
}

func TestValidateRecord(t *testing.T) {
	price := 99.9
	negative := -1.0
	valid := models.ProductRecord{
		Site:         models.SiteFalabella,
		SearchTerm:   "laptop",
		Title:        "Laptop IdeaPad 3",
		NumericPrice: &price,
		URL:          "https://www.falabella.com.pe/falabella-pe/product/1",
	}

	tests := []struct {
		name    string
		mutate  func(*models.ProductRecord)
		wantErr bool
	}{
		{name: "valid record", mutate: func(*models.ProductRecord) {}},
		{name: "unknown site", mutate: func(r *models.ProductRecord) { r.Site = "amazon" }, wantErr: true},
		{name: "missing title", mutate: func(r *models.ProductRecord) { r.Title = " " }, wantErr: true},
		{name: "missing url", mutate: func(r *models.ProductRecord) { r.URL = "" }, wantErr: true},
		{name: "negative price", mutate: func(r *models.ProductRecord) { r.NumericPrice = &negative }, wantErr: true},
		{name: "nil price is fine", mutate: func(r *models.ProductRecord) { r.NumericPrice = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			tt.mutate(&rec)
			err := ValidateRecord(&rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateRecord(nil); err == nil {
		t.Error("ValidateRecord(nil) = nil, want error")
	}
}
