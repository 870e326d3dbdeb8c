package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
)

// 2024-01-02 and 2024-01-03 14:30 UTC, then 2024-01-04 with a missing close.
const chartBody = `{"chart": {"result": [{
	"meta": {"symbol": "AAPL", "gmtoffset": -18000},
	"timestamp": [1704205800, 1704292200, 1704378600],
	"indicators": {
		"quote": [{
			"open": [187.15, 184.22, 182.15],
			"high": [188.44, 185.88, 183.09],
			"low": [183.89, 183.43, 180.88],
			"close": [185.64, 184.25, null],
			"volume": [82488700, 58414500, null]
		}],
		"adjclose": [{"adjclose": [184.73, null, null]}]
	}
}], "error": null}}`

func yahooSource(baseURL string) config.SourceConfig {
	cfg := config.Default().Sources[1]
	cfg.Options.BaseURL = baseURL
	cfg.Options.Tickers = []string{"AAPL", "HSBA.L"}
	return cfg
}

func TestYahooFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1704153600", r.URL.Query().Get("period1"))
		assert.Equal(t, "1704412800", r.URL.Query().Get("period2"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	f, err := New(yahooSource(srv.URL), testDeps(t))
	require.NoError(t, err)

	lister, ok := f.(ingest.EntityLister)
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL", "HSBA.L"}, lister.Entities())

	r := models.NewRange(testutil.Date(2024, 1, 2), testutil.Date(2024, 1, 5))
	batch, err := f.Fetch(context.Background(), "AAPL", r)
	require.NoError(t, err)

	assert.Equal(t, PriceColumns, batch.Columns)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, []any{"AAPL", testutil.Date(2024, 1, 2), 187.15, 188.44, 183.89, 185.64, 184.73, int64(82488700)}, batch.Rows[0])
	assert.Equal(t, 184.25, batch.Rows[1][6], "adj_close falls back to close")
}

func TestYahooNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	f, err := New(yahooSource(srv.URL), testDeps(t))
	require.NoError(t, err)

	batch, err := f.Fetch(context.Background(), "HSBA.L", models.NewRange(testutil.Date(2024, 1, 2), testutil.Date(2024, 1, 5)))
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestYahooAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart": {"result": null, "error": {"code": "Bad Request", "description": "Invalid input"}}}`))
	}))
	defer srv.Close()

	f, err := New(yahooSource(srv.URL), testDeps(t))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "AAPL", models.NewRange(testutil.Date(2024, 1, 2), testutil.Date(2024, 1, 5)))
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
}

func TestYahooServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, err := New(yahooSource(srv.URL), testDeps(t))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "AAPL", models.NewRange(testutil.Date(2024, 1, 2), testutil.Date(2024, 1, 5)))
	assert.True(t, errors.IsRetryable(err))
}
