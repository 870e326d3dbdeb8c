package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nightfall/pkg/models"
)

func pricesTable() *models.Table {
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

func d(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func stageAndMerge(t *testing.T, wh *Warehouse, table *models.Table, rows [][]any) {
	t.Helper()
	ctx := context.Background()
	s, err := wh.Session(ctx)
	require.NoError(t, err)
	defer s.Close()

	name, err := s.CreateStaging(ctx, table)
	require.NoError(t, err)
	require.NoError(t, s.InsertRows(ctx, name, table.ColumnNames(), rows))
	require.NoError(t, s.Merge(ctx, name, table, table.ColumnNames(), table.Keys))
	require.NoError(t, s.DropStaging(ctx, name))
}

func TestMergeUpsertsAndPreservesOtherRows(t *testing.T) {
	wh := New()
	table := pricesTable()
	require.NoError(t, wh.EnsureTable(context.Background(), table))

	stageAndMerge(t, wh, table, [][]any{
		{"AAPL", d(2), 185.6},
		{"MSFT", d(2), 370.9},
	})
	stageAndMerge(t, wh, table, [][]any{
		{"AAPL", d(2), 186.0},
		{"AAPL", d(3), 184.3},
	})

	rows := wh.Rows(table.FQN())
	require.Len(t, rows, 3)
	assert.Equal(t, 186.0, rows[0][2])
	assert.Equal(t, 370.9, rows[1][2])
	assert.Equal(t, d(3), rows[2][1])
	assert.IsType(t, time.Time{}, rows[2][3], "audit column set on insert")
	assert.Equal(t, 0, wh.ActiveStaging())
}

func TestMergeIsIdempotent(t *testing.T) {
	wh := New()
	table := pricesTable()
	require.NoError(t, wh.EnsureTable(context.Background(), table))

	batch := [][]any{{"GS", d(4), 383.1}, {"GS", d(5), 380.2}}
	stageAndMerge(t, wh, table, batch)
	first := wh.Rows(table.FQN())
	stageAndMerge(t, wh, table, batch)

	assert.Equal(t, first, wh.Rows(table.FQN()))
}

func TestMaxBoundaryPerEntity(t *testing.T) {
	wh := New()
	table := pricesTable()
	ctx := context.Background()
	require.NoError(t, wh.EnsureTable(ctx, table))
	stageAndMerge(t, wh, table, [][]any{
		{"AAPL", d(2), 1.0},
		{"AAPL", d(9), 1.0},
		{"JPM", d(5), 1.0},
	})

	got, ok, err := wh.MaxBoundary(ctx, table, "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, d(9), got)

	_, ok, err = wh.MaxBoundary(ctx, table, "SAP.DE")
	require.NoError(t, err)
	assert.False(t, ok)

	missing := pricesTable()
	missing.Name = "NOPE"
	_, _, err = wh.MaxBoundary(ctx, missing, "AAPL")
	assert.Error(t, err)
}

func TestReplaceSwapsRows(t *testing.T) {
	wh := New()
	table := pricesTable()
	ctx := context.Background()
	require.NoError(t, wh.EnsureTable(ctx, table))
	stageAndMerge(t, wh, table, [][]any{{"AAPL", d(2), 1.0}, {"MSFT", d(2), 2.0}})

	s, err := wh.Session(ctx)
	require.NoError(t, err)
	name, err := s.CreateStaging(ctx, table)
	require.NoError(t, err)
	require.NoError(t, s.InsertRows(ctx, name, []string{"ticker", "date"}, [][]any{{"NOVN.SW", d(3)}}))
	require.NoError(t, s.Replace(ctx, name, table, []string{"ticker", "date"}))
	require.NoError(t, s.DropStaging(ctx, name))
	require.NoError(t, s.Close())

	rows := wh.Rows(table.FQN())
	require.Len(t, rows, 1)
	assert.Equal(t, "NOVN.SW", rows[0][0])
	assert.Nil(t, rows[0][2])
}

func TestStagingIsSessionScoped(t *testing.T) {
	wh := New()
	table := pricesTable()
	ctx := context.Background()
	require.NoError(t, wh.EnsureTable(ctx, table))

	a, err := wh.Session(ctx)
	require.NoError(t, err)
	b, err := wh.Session(ctx)
	require.NoError(t, err)

	name, err := a.CreateStaging(ctx, table)
	require.NoError(t, err)
	assert.Error(t, b.InsertRows(ctx, name, []string{"ticker"}, [][]any{{"AAPL"}}))
	assert.Equal(t, 2, wh.Sessions())
	assert.Equal(t, 1, wh.ActiveStaging())
}

func TestFailOnAndRowCount(t *testing.T) {
	wh := New()
	ctx := context.Background()
	wh.CreateTable("ANALYTICS.MARTS.DIM_DATES", []string{"date"}, []any{d(1)}, []any{d(2)})

	n, err := wh.RowCount(ctx, "analytics.marts.dim_dates")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = wh.RowCount(ctx, "ANALYTICS.MARTS.MISSING")
	assert.Error(t, err)

	wh.FailOn(OpRowCount, fmt.Errorf("warehouse suspended"))
	_, err = wh.RowCount(ctx, "ANALYTICS.MARTS.DIM_DATES")
	assert.EqualError(t, err, "warehouse suspended")

	wh.FailOn(OpRowCount, nil)
	_, err = wh.RowCount(ctx, "ANALYTICS.MARTS.DIM_DATES")
	assert.NoError(t, err)

	_, err = wh.Execute(ctx, "SELECT 1")
	assert.Error(t, err)
}
