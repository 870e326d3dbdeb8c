package sources

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/pkg/clients"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

// RateColumns are the columns produced by the exchange rate fetcher.
var RateColumns = []string{"base_currency", "target_currency", "date", "rate"}

func init() {
	Register(config.KindFrankfurter, newFrankfurter)
}

// FrankfurterFetcher reads daily reference rates from a Frankfurter
// compatible API.
type FrankfurterFetcher struct {
	name       string
	baseURL    string
	base       string
	currencies []string
	http       *clients.HTTPClient
	logger     *zap.Logger
}

type frankfurterResponse struct {
	Base  string                        `json:"base"`
	Rates map[string]map[string]float64 `json:"rates"`
}

func newFrankfurter(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error) {
	if err := requireHTTP(cfg, deps); err != nil {
		return nil, err
	}
	o := cfg.Options
	if o.BaseCurrency == "" || len(o.Currencies) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "base_currency and currencies are required")
	}
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = "https://api.frankfurter.app"
	}
	return &FrankfurterFetcher{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		base:       strings.ToUpper(o.BaseCurrency),
		currencies: o.Currencies,
		http:       deps.HTTP,
		logger:     deps.Logger,
	}, nil
}

// Fetch returns one row per currency and business day in r. The API answers
// a range starting on a holiday with the preceding business day; rows
// outside r are dropped.
func (f *FrankfurterFetcher) Fetch(ctx context.Context, entity string, r models.Range) (*models.RowBatch, error) {
	batch := models.NewRowBatch(f.name, entity, r, RateColumns)
	if r.Empty() {
		return batch, nil
	}

	endpoint := fmt.Sprintf("%s/%s..%s", f.baseURL, r.Start.Format(models.DateLayout), r.Last().Format(models.DateLayout))
	params := url.Values{
		"from": {f.base},
		"to":   {strings.Join(f.currencies, ",")},
	}

	var resp frankfurterResponse
	if err := f.http.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}

	days := make([]string, 0, len(resp.Rates))
	for day := range resp.Rates {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, raw := range days {
		day, err := models.ParseDay(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStructural, "unexpected date in rates response")
		}
		if day.Before(r.Start) || !day.Before(r.End) {
			continue
		}
		rates := resp.Rates[raw]
		for _, cur := range f.currencies {
			rate, ok := rates[strings.ToUpper(cur)]
			if !ok {
				continue
			}
			if err := appendRow(batch, f.base, strings.ToUpper(cur), day, rate); err != nil {
				return nil, err
			}
		}
	}

	f.logger.Debug("fetched exchange rates",
		zap.Stringer("range", r),
		zap.Int("days", len(days)),
		zap.Int("rows", batch.Len()))
	return batch, nil
}
