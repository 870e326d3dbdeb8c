package config

import (
	"time"

	"github.com/ajitpratap0/nightfall/pkg/logger"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

// Default returns the configuration used when no file is given: a Snowflake
// warehouse, the exchange rate, market price and card transaction sources,
// the dbt build and the reconciliation rules between staging and marts.
func Default() *Config {
	return &Config{
		Name: "nightfall",
		Warehouse: WarehouseConfig{
			Driver:          "snowflake",
			Role:            "INGESTION_ROLE",
			Warehouse:       "INGESTION_WH",
			Database:        "RAW",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Staging: StagingConfig{
			BatchSize: 10000,
		},
		Policies: PoliciesConfig{
			API: RetryPolicy{
				Retries:    3,
				RetryDelay: 60 * time.Second,
				Multiplier: 1,
				Timeout:    30 * time.Minute,
			},
			Local: RetryPolicy{
				Retries:    1,
				RetryDelay: 30 * time.Second,
				Multiplier: 1,
				Timeout:    30 * time.Minute,
			},
			Transform: RetryPolicy{
				Retries:    1,
				RetryDelay: 30 * time.Second,
				Multiplier: 1,
				Timeout:    30 * time.Minute,
			},
			Test: RetryPolicy{
				Timeout: 10 * time.Minute,
			},
		},
		Pipeline: PipelineConfig{
			Timeout: 2 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 6 * * *",
			Timezone: "UTC",
		},
		HTTP: HTTPConfig{
			RequestTimeout: 60 * time.Second,
			RateLimit:      5,
			RateBurst:      5,
			UserAgent:      "nightfall/1.0",
		},
		Sources: []SourceConfig{
			exchangeRatesSource(),
			marketPricesSource(),
			transactionsSource(),
		},
		Transform: TransformConfig{
			Engine:      "dbt",
			Binary:      "dbt",
			ProjectDir:  "dbt",
			ProfilesDir: "dbt",
			Target:      "dev",
			EnvFile:     ".env",
			Steps: []TransformStep{
				{Name: "dbt-run-staging", Kind: StepBuild, Args: []string{"run", "--select", "staging"}},
				{Name: "dbt-snapshot", Kind: StepSnapshot, Args: []string{"snapshot"}, Timeout: 10 * time.Minute},
				{Name: "dbt-run-marts", Kind: StepBuild, Args: []string{"run", "--select", "marts"}},
				{Name: "dbt-test", Kind: StepTest, Args: []string{"test"}},
			},
		},
		Validation: ValidationConfig{
			Role:      "TRANSFORM_ROLE",
			Warehouse: "TRANSFORM_WH",
			Database:  "ANALYTICS",
			Tables: []string{
				"RAW.TRANSACTIONS.CREDIT_CARD_TRANSACTIONS",
				"RAW.MARKET_DATA.DAILY_PRICES",
				"RAW.EXCHANGE_RATES.DAILY_RATES",
				"ANALYTICS.STAGING.STG_TRANSACTIONS",
				"ANALYTICS.STAGING.STG_MARKET_PRICES",
				"ANALYTICS.STAGING.STG_EXCHANGE_RATES",
				"ANALYTICS.MARTS.FACT_TRANSACTIONS",
				"ANALYTICS.MARTS.FACT_DAILY_PRICES",
				"ANALYTICS.MARTS.FACT_EXCHANGE_RATES",
				"ANALYTICS.MARTS.DIM_DATES",
				"ANALYTICS.MARTS.DIM_CUSTOMERS",
				"ANALYTICS.MARTS.DIM_MERCHANTS",
				"ANALYTICS.MARTS.DIM_SECURITIES",
				"ANALYTICS.MARTS.DIM_CURRENCIES",
			},
			Rules: []models.ReconciliationRule{
				{
					Name:   "Transactions: staging dedup matches fact",
					Source: "ANALYTICS.STAGING.STG_TRANSACTIONS",
					Target: "ANALYTICS.MARTS.FACT_TRANSACTIONS",
				},
				{
					Name:   "Market prices: staging matches fact",
					Source: "ANALYTICS.STAGING.STG_MARKET_PRICES",
					Target: "ANALYTICS.MARTS.FACT_DAILY_PRICES",
				},
				{
					Name:   "Exchange rates: staging matches fact",
					Source: "ANALYTICS.STAGING.STG_EXCHANGE_RATES",
					Target: "ANALYTICS.MARTS.FACT_EXCHANGE_RATES",
				},
			},
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			Tracing: TracingConfig{
				ServiceName: "nightfall",
				Exporter:    "stdout",
			},
		},
	}
}

func exchangeRatesSource() SourceConfig {
	return SourceConfig{
		Name:         "exchange_rates",
		Kind:         KindFrankfurter,
		Class:        ClassAPI,
		Mode:         ModeMerge,
		DefaultStart: "2020-01-01",
		ChunkDays:    365,
		Table: models.Table{
			Database: "RAW",
			Schema:   "EXCHANGE_RATES",
			Name:     "DAILY_RATES",
			Columns: []models.Column{
				{Name: "base_currency", Type: models.ColumnString},
				{Name: "target_currency", Type: models.ColumnString},
				{Name: "date", Type: models.ColumnDate},
				{Name: "rate", Type: models.ColumnFloat},
			},
			Keys:           []string{"base_currency", "target_currency", "date"},
			BoundaryColumn: "date",
		},
		Options: SourceOptions{
			BaseURL:      "https://api.frankfurter.app",
			BaseCurrency: "EUR",
			Currencies:   []string{"USD", "GBP", "CHF", "JPY", "CAD", "AUD"},
		},
	}
}

func marketPricesSource() SourceConfig {
	return SourceConfig{
		Name:         "market_prices",
		Kind:         KindYahoo,
		Class:        ClassAPI,
		Mode:         ModeMerge,
		DefaultStart: "2020-01-01",
		ChunkDays:    365,
		Table: models.Table{
			Database: "RAW",
			Schema:   "MARKET_DATA",
			Name:     "DAILY_PRICES",
			Columns: []models.Column{
				{Name: "ticker", Type: models.ColumnString},
				{Name: "date", Type: models.ColumnDate},
				{Name: "open", Type: models.ColumnFloat},
				{Name: "high", Type: models.ColumnFloat},
				{Name: "low", Type: models.ColumnFloat},
				{Name: "close", Type: models.ColumnFloat},
				{Name: "adj_close", Type: models.ColumnFloat},
				{Name: "volume", Type: models.ColumnInt},
			},
			Keys:           []string{"ticker", "date"},
			BoundaryColumn: "date",
			EntityColumn:   "ticker",
		},
		Options: SourceOptions{
			BaseURL: "https://query1.finance.yahoo.com",
			Tickers: []string{"AAPL", "MSFT", "JPM", "GS", "HSBA.L", "BNP.PA", "SAP.DE", "NOVN.SW"},
		},
	}
}

func transactionsSource() SourceConfig {
	return SourceConfig{
		Name:  "transactions",
		Kind:  KindCSV,
		Class: ClassLocal,
		Mode:  ModeReplace,
		Table: models.Table{
			Database: "RAW",
			Schema:   "TRANSACTIONS",
			Name:     "CREDIT_CARD_TRANSACTIONS",
			Columns: []models.Column{
				{Name: "trans_date_trans_time", Type: models.ColumnTimestamp},
				{Name: "cc_num", Type: models.ColumnInt},
				{Name: "merchant", Type: models.ColumnString},
				{Name: "category", Type: models.ColumnString},
				{Name: "amt", Type: models.ColumnFloat},
				{Name: "first", Type: models.ColumnString},
				{Name: "last", Type: models.ColumnString},
				{Name: "gender", Type: models.ColumnString},
				{Name: "street", Type: models.ColumnString},
				{Name: "city", Type: models.ColumnString},
				{Name: "state", Type: models.ColumnString},
				{Name: "zip", Type: models.ColumnString},
				{Name: "lat", Type: models.ColumnFloat},
				{Name: "long", Type: models.ColumnFloat},
				{Name: "city_pop", Type: models.ColumnInt},
				{Name: "job", Type: models.ColumnString},
				{Name: "dob", Type: models.ColumnDate},
				{Name: "trans_num", Type: models.ColumnString},
				{Name: "unix_time", Type: models.ColumnInt},
				{Name: "merch_lat", Type: models.ColumnFloat},
				{Name: "merch_long", Type: models.ColumnFloat},
				{Name: "is_fraud", Type: models.ColumnInt},
			},
		},
		Options: SourceOptions{
			Dir:         "data",
			Patterns:    []string{"fraud", "train", "test"},
			DropColumns: []string{"unnamed: 0"},
		},
	}
}
