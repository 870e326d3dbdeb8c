package sources

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/pkg/clients"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

// PriceColumns are the columns produced by the market price fetcher.
var PriceColumns = []string{"ticker", "date", "open", "high", "low", "close", "adj_close", "volume"}

func init() {
	Register(config.KindYahoo, newYahoo)
}

// YahooFetcher reads daily OHLCV bars from the Yahoo Finance chart API. Each
// ticker is a separate entity with its own watermark.
type YahooFetcher struct {
	name    string
	baseURL string
	tickers []string
	http    *clients.HTTPClient
	logger  *zap.Logger
}

var _ ingest.EntityLister = (*YahooFetcher)(nil)

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func newYahoo(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error) {
	if err := requireHTTP(cfg, deps); err != nil {
		return nil, err
	}
	if len(cfg.Options.Tickers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "tickers are required")
	}
	baseURL := cfg.Options.BaseURL
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &YahooFetcher{
		name:    cfg.Name,
		baseURL: strings.TrimRight(baseURL, "/"),
		tickers: cfg.Options.Tickers,
		http:    deps.HTTP,
		logger:  deps.Logger,
	}, nil
}

// Entities returns the configured tickers.
func (f *YahooFetcher) Entities() []string {
	return f.tickers
}

// Fetch returns the daily bars of ticker within r. Bars without a close are
// skipped. A "no data" answer from the API is an empty batch.
func (f *YahooFetcher) Fetch(ctx context.Context, ticker string, r models.Range) (*models.RowBatch, error) {
	batch := models.NewRowBatch(f.name, ticker, r, PriceColumns)
	if r.Empty() {
		return batch, nil
	}
	if ticker == "" {
		return nil, errors.New(errors.ErrorTypeUsage, "yahoo fetch requires a ticker")
	}

	endpoint := f.baseURL + "/v8/finance/chart/" + url.PathEscape(ticker)
	params := url.Values{
		"period1":  {strconv.FormatInt(r.Start.Unix(), 10)},
		"period2":  {strconv.FormatInt(r.End.Unix(), 10)},
		"interval": {"1d"},
		"events":   {"history"},
	}

	var resp chartResponse
	if err := f.http.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "chart request failed").WithDetail("ticker", ticker)
	}
	if e := resp.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") || strings.Contains(strings.ToLower(e.Description), "no data") {
			f.logger.Info("no price data for range", zap.String("ticker", ticker), zap.Stringer("range", r))
			return batch, nil
		}
		return nil, errors.Newf(errors.ErrorTypeStructural, "chart API error %s: %s", e.Code, e.Description).
			WithDetail("ticker", ticker)
	}
	if len(resp.Chart.Result) == 0 {
		return batch, nil
	}

	res := resp.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return batch, nil
	}
	q := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	offset := time.Duration(res.Meta.GMTOffset) * time.Second
	for i, ts := range res.Timestamp {
		closePrice := at(q.Close, i)
		if closePrice == nil {
			continue
		}
		day := models.Day(time.Unix(ts, 0).Add(offset))
		if day.Before(r.Start) || !day.Before(r.End) {
			continue
		}

		adjClose := at(adj, i)
		if adjClose == nil {
			adjClose = closePrice
		}
		var volume any
		if v := at(q.Volume, i); v != nil {
			volume = int64(*v)
		}
		if err := appendRow(batch, ticker, day,
			value(at(q.Open, i)), value(at(q.High, i)), value(at(q.Low, i)),
			*closePrice, *adjClose, volume); err != nil {
			return nil, err
		}
	}

	f.logger.Debug("fetched prices",
		zap.String("ticker", ticker),
		zap.Stringer("range", r),
		zap.Int("rows", batch.Len()))
	return batch, nil
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func value(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
