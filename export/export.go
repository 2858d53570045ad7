// Package export renders result sets as CSV or JSON, either streamed to
// an HTTP response or written to files under the output directory.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pricescout/models"
)

var csvHeader = []string{
	"site", "search_term", "captured_at", "position", "title",
	"display_price", "numeric_price", "url", "brand", "seller",
}

// WriteCSV streams records as CSV, header first.
func WriteCSV(w io.Writer, records []models.ProductRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteJSON streams records as a single indented JSON array.
func WriteJSON(w io.Writer, records []models.ProductRecord) error {
	if records == nil {
		records = []models.ProductRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Filename builds an output path like "<dir>/<term>-20060102-150405.csv".
func Filename(dir, term, ext string) string {
	slug := strings.ReplaceAll(models.NormalizeTerm(term), " ", "-")
	name := fmt.Sprintf("%s-%s.%s", slug, time.Now().Format("20060102-150405"), ext)
	return filepath.Join(dir, name)
}

// CSVWriter appends records to a CSV file. Used by the sweep pipeline,
// which emits page batches incrementally.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates the file (and its directory) and writes the header.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}
	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}
	return &CSVWriter{file: f, writer: writer}, nil
}

// Write appends a batch of records.
func (cw *CSVWriter) Write(records []models.ProductRecord) error {
	for _, rec := range records {
		if err := cw.writer.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter appends newline-delimited JSON records to a file.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

// NewJSONWriter creates the file (and its directory).
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}
	buffer := bufio.NewWriter(f)
	return &JSONWriter{file: f, writer: buffer, encoder: json.NewEncoder(buffer)}, nil
}

// Write appends a batch of records in JSONL format.
func (jw *JSONWriter) Write(records []models.ProductRecord) error {
	for _, rec := range records {
		if err := jw.encoder.Encode(rec); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

func csvRow(rec models.ProductRecord) []string {
	displayPrice, numericPrice, brand, seller := "", "", "", ""
	if rec.DisplayPrice != nil {
		displayPrice = *rec.DisplayPrice
	}
	if rec.NumericPrice != nil {
		numericPrice = strconv.FormatFloat(*rec.NumericPrice, 'f', -1, 64)
	}
	if rec.Brand != nil {
		brand = *rec.Brand
	}
	if rec.Seller != nil {
		seller = *rec.Seller
	}
	return []string{
		string(rec.Site),
		rec.SearchTerm,
		rec.CapturedAt.Format(time.RFC3339),
		strconv.Itoa(rec.Position),
		rec.Title,
		displayPrice,
		numericPrice,
		rec.URL,
		brand,
		seller,
	}
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
