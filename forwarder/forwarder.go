// Package forwarder ships finished result batches to the external
// collector endpoint. Delivery is fire-and-forget: a failure is logged
// and the batch is dropped, never blocking or failing the session that
// produced it.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"pricescout/models"
)

// Forwarder posts product batches to a collector URL.
type Forwarder struct {
	client *resty.Client
	url    string
}

// New builds a forwarder targeting url.
func New(url string, timeout time.Duration) *Forwarder {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Forwarder{client: client, url: url}
}

// Client exposes the underlying HTTP client so tests can swap its
// transport.
func (f *Forwarder) Client() *resty.Client { return f.client }

// Forward posts one batch as a bare record array. A single attempt is
// made: the collector is an optional local sink and the batch is already
// persisted in the store, so redelivery is not worth retry machinery
// here.
func (f *Forwarder) Forward(ctx context.Context, records []models.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(records).
		Post(f.url)
	if err != nil {
		slog.Warn("forward batch",
			slog.String("url", f.url),
			slog.Int("records", len(records)),
			slog.Any("error", err),
		)
		return fmt.Errorf("forward %d records: %w", len(records), err)
	}
	if resp.IsError() {
		slog.Warn("collector rejected batch",
			slog.String("url", f.url),
			slog.Int("status", resp.StatusCode()),
		)
		return fmt.Errorf("forward %d records: collector returned %d", len(records), resp.StatusCode())
	}

	slog.Debug("batch forwarded",
		slog.Int("records", len(records)),
		slog.Int("status", resp.StatusCode()),
	)
	return nil
}
