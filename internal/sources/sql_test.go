package sources

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
)

const ordersQuery = "SELECT id, customer, total, created_on FROM orders WHERE created_on >= $1 AND created_on < $2"

func TestSQLFetch(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	r := models.NewRange(testutil.Date(2024, 5, 1), testutil.Date(2024, 5, 3))
	mock.ExpectQuery(ordersQuery).
		WithArgs(r.Start, r.End).
		WillReturnRows(sqlmock.NewRows([]string{"ID", "Customer", "Total", "Created_On"}).
			AddRow(int64(1), []byte("acme"), 12.5, testutil.Date(2024, 5, 1)).
			AddRow(int64(2), "globex", nil, testutil.Date(2024, 5, 2)))
	mock.ExpectClose()

	f := NewSQLFetcher("orders", db, ordersQuery, testutil.TestLogger(t))
	batch, err := f.Fetch(context.Background(), "", r)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "customer", "total", "created_on"}, batch.Columns)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, []any{int64(1), "acme", 12.5, testutil.Date(2024, 5, 1)}, batch.Rows[0])
	assert.Nil(t, batch.Rows[1][2])

	require.NoError(t, f.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLFetchQueryError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(ordersQuery).WillReturnError(assert.AnError)

	f := NewSQLFetcher("orders", db, ordersQuery, testutil.TestLogger(t))
	_, err = f.Fetch(context.Background(), "", models.NewRange(testutil.Date(2024, 5, 1), testutil.Date(2024, 5, 3)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSQLDriverName(t *testing.T) {
	tests := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{driver: "postgres", want: "pgx"},
		{driver: "mysql", want: "mysql"},
		{driver: "sqlserver", want: "sqlserver"},
		{driver: "oracle", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := sqlDriverName(tt.driver)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsPermanent(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
