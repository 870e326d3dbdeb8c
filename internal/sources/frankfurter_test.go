package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
)

func frankfurterSource(baseURL string) config.SourceConfig {
	cfg := config.Default().Sources[0]
	cfg.Options.BaseURL = baseURL
	cfg.Options.Currencies = []string{"USD", "GBP"}
	return cfg
}

func TestFrankfurterFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2024-01-06..2024-01-09", r.URL.Path)
		assert.Equal(t, "EUR", r.URL.Query().Get("from"))
		assert.Equal(t, "USD,GBP", r.URL.Query().Get("to"))
		_, _ = w.Write([]byte(`{
			"amount": 1.0, "base": "EUR", "start_date": "2024-01-05", "end_date": "2024-01-09",
			"rates": {
				"2024-01-09": {"USD": 1.0946, "GBP": 0.8601},
				"2024-01-05": {"USD": 1.0921, "GBP": 0.8602},
				"2024-01-08": {"USD": 1.0940}
			}
		}`))
	}))
	defer srv.Close()

	f, err := New(frankfurterSource(srv.URL), testDeps(t))
	require.NoError(t, err)

	r := models.NewRange(testutil.Date(2024, 1, 6), testutil.Date(2024, 1, 10))
	batch, err := f.Fetch(context.Background(), "", r)
	require.NoError(t, err)

	assert.Equal(t, RateColumns, batch.Columns)
	require.Equal(t, 3, batch.Len(), "the preceding business day is outside the range")
	assert.Equal(t, []any{"EUR", "USD", testutil.Date(2024, 1, 8), 1.0940}, batch.Rows[0])
	assert.Equal(t, []any{"EUR", "USD", testutil.Date(2024, 1, 9), 1.0946}, batch.Rows[1])
	assert.Equal(t, []any{"EUR", "GBP", testutil.Date(2024, 1, 9), 0.8601}, batch.Rows[2])
}

func TestFrankfurterEmptyRange(t *testing.T) {
	f, err := New(frankfurterSource("http://127.0.0.1:1"), testDeps(t))
	require.NoError(t, err)

	batch, err := f.Fetch(context.Background(), "", models.Range{Start: testutil.Date(2024, 1, 6), End: testutil.Date(2024, 1, 6)})
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestFrankfurterMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rates": {"yesterday": {"USD": 1.1}}}`))
	}))
	defer srv.Close()

	f, err := New(frankfurterSource(srv.URL), testDeps(t))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "", models.NewRange(testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 2)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
	assert.False(t, errors.IsRetryable(err))
}
