// Package models provides the data structures shared by the nightfall
// ingestion, transform and validation stages.
//
// A RowBatch is produced by a source fetcher for one half-open date Range and
// is consumed exactly once by the staging loader. Tables describe warehouse
// targets: their columns, natural keys and the boundary column that drives
// incremental watermarks.
package models

import (
	"fmt"
	"time"
)

// DateLayout is the canonical text form of a boundary date.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date into a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Range is a half-open interval of days [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewRange builds a Range from two instants, truncating both to days.
func NewRange(start, end time.Time) Range {
	return Range{Start: Day(start), End: Day(end)}
}

// Empty reports whether the range contains no days.
func (r Range) Empty() bool {
	return !r.Start.Before(r.End)
}

// Days returns the number of days in the range.
func (r Range) Days() int {
	if r.Empty() {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Last returns the last day contained in the range. Callers must check Empty first.
func (r Range) Last() time.Time {
	return r.End.AddDate(0, 0, -1)
}

// Split divides the range into consecutive, non-overlapping sub-ranges of at
// most maxDays days. Their union is exactly r. A non-positive maxDays yields r.
func (r Range) Split(maxDays int) []Range {
	if r.Empty() {
		return nil
	}
	if maxDays <= 0 {
		return []Range{r}
	}

	chunks := make([]Range, 0, r.Days()/maxDays+1)
	for start := r.Start; start.Before(r.End); {
		end := start.AddDate(0, 0, maxDays)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, Range{Start: start, End: end})
		start = end
	}
	return chunks
}

// String renders the range as [start, end).
func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// RowBatch is a set of rows fetched for one source, entity and range.
// Every row has one value per entry in Columns, in the same order.
type RowBatch struct {
	SourceID string   `json:"source_id"`
	Entity   string   `json:"entity,omitempty"`
	Range    Range    `json:"range"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"-"`
}

// NewRowBatch creates an empty batch with the given columns.
func NewRowBatch(sourceID, entity string, r Range, columns []string) *RowBatch {
	return &RowBatch{
		SourceID: sourceID,
		Entity:   entity,
		Range:    r,
		Columns:  columns,
	}
}

// Append adds a row. It returns an error when the row width does not match Columns.
func (b *RowBatch) Append(row ...any) error {
	if len(row) != len(b.Columns) {
		return fmt.Errorf("row has %d values, batch has %d columns", len(row), len(b.Columns))
	}
	b.Rows = append(b.Rows, row)
	return nil
}

// Len returns the number of rows.
func (b *RowBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Empty reports whether the batch holds no rows. A nil batch is empty.
func (b *RowBatch) Empty() bool {
	return b.Len() == 0
}

// Slice returns rows [from, to) as a batch sharing the same metadata.
func (b *RowBatch) Slice(from, to int) *RowBatch {
	return &RowBatch{
		SourceID: b.SourceID,
		Entity:   b.Entity,
		Range:    b.Range,
		Columns:  b.Columns,
		Rows:     b.Rows[from:to],
	}
}
