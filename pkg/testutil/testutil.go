// Package testutil provides testing utilities for nightfall
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nightfall/pkg/models"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// RatesTable returns a small exchange rate target keyed on currency pair and date.
func RatesTable() *models.Table {
	return &models.Table{
		Database: "RAW",
		Schema:   "EXCHANGE_RATES",
		Name:     "DAILY_RATES",
		Columns: []models.Column{
			{Name: "base_currency", Type: models.ColumnString},
			{Name: "target_currency", Type: models.ColumnString},
			{Name: "date", Type: models.ColumnDate},
			{Name: "rate", Type: models.ColumnFloat},
		},
		Keys:           []string{"base_currency", "target_currency", "date"},
		BoundaryColumn: "date",
	}
}

// PricesTable returns a price target whose watermarks are tracked per ticker.
func PricesTable() *models.Table {
	return &models.Table{
		Database: "RAW",
		Schema:   "MARKET_DATA",
		Name:     "DAILY_PRICES",
		Columns: []models.Column{
			{Name: "ticker", Type: models.ColumnString},
			{Name: "date", Type: models.ColumnDate},
			{Name: "close", Type: models.ColumnFloat},
		},
		Keys:           []string{"ticker", "date"},
		BoundaryColumn: "date",
		EntityColumn:   "ticker",
	}
}

// StubFetcher returns canned batches and records every request it serves.
// Rows produces the rows for one entity and range; a nil Rows yields empty
// batches. Err, when set, is returned for every call.
type StubFetcher struct {
	Columns  []string
	Rows     func(entity string, r models.Range) [][]any
	Err      func(entity string, r models.Range) error
	Entities []string

	mu    sync.Mutex
	calls []FetchCall
}

// FetchCall is one request served by a StubFetcher.
type FetchCall struct {
	Entity string
	Range  models.Range
}

// Fetch implements the source fetcher contract.
func (f *StubFetcher) Fetch(ctx context.Context, entity string, r models.Range) (*models.RowBatch, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FetchCall{Entity: entity, Range: r})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		if err := f.Err(entity, r); err != nil {
			return nil, err
		}
	}
	batch := models.NewRowBatch("stub", entity, r, f.Columns)
	if f.Rows != nil {
		batch.Rows = f.Rows(entity, r)
	}
	return batch, nil
}

// Calls returns the requests served so far.
func (f *StubFetcher) Calls() []FetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchCall(nil), f.calls...)
}

// EntityFetcher wraps a StubFetcher and exposes its Entities list.
type EntityFetcher struct {
	*StubFetcher
}

// Entities returns the configured entity list.
func (f EntityFetcher) Entities() []string {
	return f.StubFetcher.Entities
}

// DailyRows returns one row per day of r produced by row.
func DailyRows(r models.Range, row func(day time.Time) []any) [][]any {
	var rows [][]any
	for day := r.Start; day.Before(r.End); day = day.AddDate(0, 0, 1) {
		rows = append(rows, row(day))
	}
	return rows
}
