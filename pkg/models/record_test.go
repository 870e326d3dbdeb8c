package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestRangeSplit(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		maxDays int
		want    []string
	}{
		{"empty", "2024-01-05", "2024-01-05", 365, nil},
		{"inverted", "2024-01-06", "2024-01-05", 365, nil},
		{"single chunk", "2024-01-01", "2024-01-10", 365, []string{"[2024-01-01, 2024-01-10)"}},
		{"exact multiple", "2024-01-01", "2024-01-07", 3, []string{"[2024-01-01, 2024-01-04)", "[2024-01-04, 2024-01-07)"}},
		{"remainder", "2024-01-01", "2024-01-08", 3, []string{"[2024-01-01, 2024-01-04)", "[2024-01-04, 2024-01-07)", "[2024-01-07, 2024-01-08)"}},
		{"no limit", "2020-01-01", "2024-01-01", 0, []string{"[2020-01-01, 2024-01-01)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Range{Start: day(t, tt.start), End: day(t, tt.end)}
			var got []string
			for _, c := range r.Split(tt.maxDays) {
				got = append(got, c.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeSplitCoversExactlyOnce(t *testing.T) {
	r := Range{Start: day(t, "2020-01-01"), End: day(t, "2024-03-15")}
	chunks := r.Split(365)

	require.NotEmpty(t, chunks)
	assert.Equal(t, r.Start, chunks[0].Start)
	assert.Equal(t, r.End, chunks[len(chunks)-1].End)

	total := 0
	for i, c := range chunks {
		assert.LessOrEqual(t, c.Days(), 365)
		if i > 0 {
			assert.Equal(t, chunks[i-1].End, c.Start)
		}
		total += c.Days()
	}
	assert.Equal(t, r.Days(), total)
}

func TestRowBatch(t *testing.T) {
	b := NewRowBatch("fx", "", Range{}, []string{"a", "b"})
	assert.True(t, b.Empty())
	require.NoError(t, b.Append("x", 1))
	require.Error(t, b.Append("x"))
	assert.Equal(t, 1, b.Len())

	var nilBatch *RowBatch
	assert.True(t, nilBatch.Empty())
}

func TestTableValidate(t *testing.T) {
	table := &Table{
		Database: "RAW",
		Schema:   "EXCHANGE_RATES",
		Name:     "DAILY_RATES",
		Columns: []Column{
			{Name: "base_currency", Type: ColumnString},
			{Name: "target_currency", Type: ColumnString},
			{Name: "date", Type: ColumnDate},
			{Name: "rate", Type: ColumnFloat},
		},
		Keys:           []string{"base_currency", "target_currency", "date"},
		BoundaryColumn: "date",
	}
	require.NoError(t, table.Validate())
	assert.Equal(t, "RAW.EXCHANGE_RATES.DAILY_RATES", table.FQN())
	assert.Equal(t, []string{"rate"}, NonKeyColumns(table.ColumnNames(), table.Keys))

	table.Keys = append(table.Keys, "missing")
	assert.Error(t, table.Validate())
}
