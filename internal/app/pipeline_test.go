package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/pipeline"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
	"github.com/ajitpratap0/nightfall/pkg/warehouse/memory"
)

const ratesTable = "RAW.EXCHANGE_RATES.DAILY_RATES"

type PipelineSuite struct {
	testutil.IntegrationTestSuite
}

func TestPipelineSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(PipelineSuite))
}

// fxServer answers every rates request with two days of three currencies,
// or with 503 when unavailable is set. hits counts requests.
func fxServer(unavailable bool, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if unavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{
			"amount": 1.0, "base": "EUR", "start_date": "2020-01-01", "end_date": "2020-01-02",
			"rates": {
				"2020-01-01": {"USD": 1.1234, "GBP": 0.8508, "JPY": 121.94},
				"2020-01-02": {"USD": 1.1193, "GBP": 0.8508, "JPY": 121.67}
			}
		}`))
	}))
}

func fxSource(baseURL string) config.SourceConfig {
	fx := config.Default().Sources[0]
	fx.Name = "fx"
	fx.DefaultStart = "2020-01-01"
	fx.Options.BaseURL = baseURL
	fx.Options.BaseCurrency = "EUR"
	fx.Options.Currencies = []string{"USD", "GBP", "JPY"}
	return fx
}

func (s *PipelineSuite) config(sources ...config.SourceConfig) *config.Config {
	cfg := config.Default()
	cfg.Warehouse = config.WarehouseConfig{Driver: "memory"}
	cfg.Transform.Engine = "none"
	cfg.HTTP.RateLimit = 0
	cfg.Policies.API = config.RetryPolicy{
		Retries:    2,
		RetryDelay: time.Millisecond,
		Multiplier: 1,
		Timeout:    10 * time.Second,
	}
	cfg.Sources = sources
	s.Require().NoError(cfg.Validate())
	return cfg
}

// open wires an App on wh with the clock fixed at midday of 2020-01-03.
func (s *PipelineSuite) open(cfg *config.Config, wh *memory.Warehouse) *App {
	open := func(context.Context, config.WarehouseConfig, *zap.Logger) (warehouse.Warehouse, error) {
		return wh, nil
	}
	a, err := New(s.Context(), cfg, testutil.TestLogger(s.T()), Options{
		SkipValidation: true,
		Open:           open,
		Now:            func() time.Time { return time.Date(2020, 1, 3, 12, 0, 0, 0, time.UTC) },
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = a.Close() })
	return a
}

func (s *PipelineSuite) item(report *pipeline.RunReport, name string) models.ItemOutcome {
	ingestion := report.Stage(models.StageIngestion)
	s.Require().NotNil(ingestion)
	for _, it := range ingestion.Items {
		if it.Name == name {
			return it
		}
	}
	s.FailNow(fmt.Sprintf("no outcome for source %s", name))
	return models.ItemOutcome{}
}

func (s *PipelineSuite) TestExchangeRatesLoadThenNoOp() {
	var hits int32
	srv := fxServer(false, &hits)
	defer srv.Close()

	wh := memory.New()
	a := s.open(s.config(fxSource(srv.URL)), wh)

	first := a.Orchestrator.RunOnce(s.Context())
	s.Equal(models.StateCompleted, first.State)
	s.Equal(int64(6), first.RowsLoaded())
	s.Equal(models.StatusCompleted, s.item(first, "fx").Status)

	rows := wh.Rows(ratesTable)
	s.Require().Len(rows, 6)
	keys := make(map[string]bool, len(rows))
	for _, row := range rows {
		day, ok := row[2].(time.Time)
		s.Require().True(ok)
		s.True(day.Before(time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)))
		keys[fmt.Sprintf("%v|%v|%s", row[0], row[1], day.Format(models.DateLayout))] = true
	}
	s.Len(keys, 6, "rows are unique by base, target and date")
	s.Zero(wh.ActiveStaging())

	second := a.Orchestrator.RunOnce(s.Context())
	s.Equal(models.StateCompleted, second.State)
	s.Equal(models.StatusNoOp, s.item(second, "fx").Status)
	s.Zero(second.RowsLoaded())
	s.Len(wh.Rows(ratesTable), 6)
	s.Equal(int32(1), atomic.LoadInt32(&hits), "the second run does not fetch")
}

func (s *PipelineSuite) TestFailedSourceDoesNotBlockSibling() {
	var hits int32
	srv := fxServer(true, &hits)
	defer srv.Close()

	dir := s.Dir("exports")
	testutil.WriteCSV(s.T(), dir, "fraud_train.csv", []string{"id", "amt"},
		[]string{"1", "9.5"},
		[]string{"2", "12.25"},
	)
	tx := config.SourceConfig{
		Name:  "transactions",
		Kind:  config.KindCSV,
		Class: config.ClassLocal,
		Mode:  config.ModeReplace,
		Table: models.Table{
			Database: "RAW",
			Schema:   "TRANSACTIONS",
			Name:     "TX",
			Columns: []models.Column{
				{Name: "id", Type: models.ColumnInt},
				{Name: "amt", Type: models.ColumnFloat},
			},
		},
		Options: config.SourceOptions{Dir: dir},
	}

	wh := memory.New()
	a := s.open(s.config(fxSource(srv.URL), tx), wh)

	report := a.Orchestrator.RunOnce(s.Context())
	s.Equal(models.StateCompletedWithWarnings, report.State)

	fx := s.item(report, "fx")
	s.Equal(models.StatusFailed, fx.Status)
	s.Equal(3, fx.Attempts)
	s.Equal(int32(3), atomic.LoadInt32(&hits))

	s.Equal(models.StatusCompleted, s.item(report, "transactions").Status)
	s.Len(wh.Rows(txTable), 2)
	s.Empty(wh.Rows(ratesTable))
	s.Zero(wh.ActiveStaging())
}
