package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
	"github.com/ajitpratap0/nightfall/pkg/warehouse/memory"
)

func TestWatermarkResolver(t *testing.T) {
	defaultStart := testutil.Date(2020, 1, 1)

	tests := []struct {
		name        string
		setup       func(wh *memory.Warehouse, table *models.Table)
		entity      string
		want        string
		fromDefault bool
	}{
		{
			name:        "missing table falls back to default",
			setup:       func(*memory.Warehouse, *models.Table) {},
			want:        "2020-01-01",
			fromDefault: true,
		},
		{
			name: "empty table falls back to default",
			setup: func(wh *memory.Warehouse, table *models.Table) {
				wh.CreateTable(table.FQN(), table.ColumnNames())
			},
			want:        "2020-01-01",
			fromDefault: true,
		},
		{
			name: "day after latest boundary",
			setup: func(wh *memory.Warehouse, table *models.Table) {
				wh.CreateTable(table.FQN(), table.ColumnNames(),
					[]any{"AAPL", testutil.Date(2024, 3, 14), 170.0},
					[]any{"AAPL", testutil.Date(2024, 3, 15), 172.6},
					[]any{"MSFT", testutil.Date(2024, 3, 20), 425.2},
				)
			},
			entity: "AAPL",
			want:   "2024-03-16",
		},
		{
			name: "entity without rows uses default",
			setup: func(wh *memory.Warehouse, table *models.Table) {
				wh.CreateTable(table.FQN(), table.ColumnNames(),
					[]any{"AAPL", testutil.Date(2024, 3, 15), 172.6},
				)
			},
			entity:      "GS",
			want:        "2020-01-01",
			fromDefault: true,
		},
		{
			name: "lookup failure is absorbed",
			setup: func(wh *memory.Warehouse, table *models.Table) {
				wh.CreateTable(table.FQN(), table.ColumnNames())
				wh.FailOn(memory.OpMaxBoundary, errors.New(errors.ErrorTypeConnection, "warehouse unreachable"))
			},
			entity:      "AAPL",
			want:        "2020-01-01",
			fromDefault: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := memory.New()
			table := testutil.PricesTable()
			tt.setup(wh, table)

			r := NewWatermarkResolver(wh, testutil.TestLogger(t))
			wm := r.Resolve(context.Background(), table, tt.entity, defaultStart)

			assert.Equal(t, tt.want, wm.Start.Format(models.DateLayout))
			assert.Equal(t, tt.fromDefault, wm.FromDefault)
		})
	}
}

func TestWatermarkIgnoresTimeOfDay(t *testing.T) {
	wh := memory.New()
	table := testutil.RatesTable()
	wh.CreateTable(table.FQN(), table.ColumnNames(),
		[]any{"EUR", "USD", testutil.Date(2024, 12, 31).Add(23 * time.Hour), 1.04},
	)

	wm := NewWatermarkResolver(wh, testutil.TestLogger(t)).
		Resolve(context.Background(), table, "", testutil.Date(2020, 1, 1))

	assert.Equal(t, testutil.Date(2025, 1, 1), wm.Start)
}
