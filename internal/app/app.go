// Package app assembles a runnable pipeline from a Config: warehouse
// connections, fetchers, ingestion tasks, the transform engine and the
// reconciliation validator.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/internal/pipeline"
	"github.com/ajitpratap0/nightfall/internal/sources"
	"github.com/ajitpratap0/nightfall/internal/transform"
	"github.com/ajitpratap0/nightfall/internal/validation"
	"github.com/ajitpratap0/nightfall/pkg/clients"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
	"github.com/ajitpratap0/nightfall/pkg/warehouse/memory"
	"github.com/ajitpratap0/nightfall/pkg/warehouse/sqlwh"
)

// OpenFunc opens a warehouse connection.
type OpenFunc func(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (warehouse.Warehouse, error)

// Options narrows what an App runs.
type Options struct {
	// Sources restricts ingestion to the named sources; empty means every
	// enabled source
	Sources []string
	// SkipTransform and SkipValidation drop the later stages
	SkipTransform  bool
	SkipValidation bool
	// Open overrides how warehouses are opened
	Open OpenFunc
	// Now overrides the clock that sets fetch range ends and run timestamps
	Now func() time.Time
}

// App owns every resource of a configured pipeline.
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Validator    *validation.Validator

	wh       warehouse.Warehouse
	whVal    warehouse.Warehouse
	http     *clients.HTTPClient
	fetchers []ingest.Fetcher
	logger   *zap.Logger
}

// Open connects a warehouse for cfg. The memory driver returns a fresh
// in-process warehouse.
func Open(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (warehouse.Warehouse, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}
	wh, err := sqlwh.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return wh, nil
}

// New wires an App. Resources opened before a failure are released.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	open := opts.Open
	if open == nil {
		open = Open
	}

	selected, err := selectSources(cfg, opts.Sources)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.wh, err = open(ctx, cfg.Warehouse, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to open warehouse")
	}

	if !opts.SkipValidation {
		a.whVal, err = a.validationWarehouse(ctx, open)
		if err != nil {
			return nil, err
		}
		a.Validator = validation.NewValidator(a.whVal, cfg.Validation, logger)
	}

	tasks, err := a.buildTasks(selected, opts.Now)
	if err != nil {
		return nil, err
	}

	popts := pipeline.Options{
		Policies: cfg.Policies,
		Timeout:  cfg.Pipeline.Timeout,
		Tasks:    tasks,
		Logger:   logger,
		Now:      opts.Now,
	}
	if !opts.SkipTransform && cfg.Transform.Engine == "dbt" {
		popts.Engine = transform.NewDBT(cfg.Transform, logger)
		popts.Steps = cfg.Transform.Steps
	}
	if a.Validator != nil {
		popts.Validator = a.Validator
	}
	a.Orchestrator = pipeline.New(popts)

	logger.Info("pipeline assembled",
		zap.String("name", cfg.Name),
		zap.String("warehouse", cfg.Warehouse.Driver),
		zap.Int("sources", len(tasks)),
		zap.Int("transform_steps", len(popts.Steps)),
		zap.Bool("validation", a.Validator != nil))
	return a, nil
}

// validationWarehouse opens the connection used for reconciliation counts.
// The memory driver shares the ingestion warehouse so counts see loaded rows.
func (a *App) validationWarehouse(ctx context.Context, open OpenFunc) (warehouse.Warehouse, error) {
	if a.Config.Warehouse.Driver == "memory" {
		return a.wh, nil
	}
	v := a.Config.Validation
	wh, err := open(ctx, a.Config.Warehouse.With(v.Role, v.Warehouse, v.Database), a.logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to open validation warehouse")
	}
	return wh, nil
}

func (a *App) buildTasks(selected []config.SourceConfig, now func() time.Time) ([]pipeline.SourceTask, error) {
	cfg := a.Config
	httpCfg := clients.DefaultHTTPConfig()
	if cfg.HTTP.RequestTimeout > 0 {
		httpCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	}
	httpCfg.RateLimit = cfg.HTTP.RateLimit
	if cfg.HTTP.RateBurst > 0 {
		httpCfg.RateBurst = cfg.HTTP.RateBurst
	}
	if cfg.HTTP.UserAgent != "" {
		httpCfg.UserAgent = cfg.HTTP.UserAgent
	}
	a.http = clients.NewHTTPClient(httpCfg, a.logger)
	deps := sources.Deps{HTTP: a.http, Logger: a.logger}

	loader := ingest.NewStagingLoader(cfg.Staging.BatchSize, a.logger)
	taskDeps := ingest.TaskDeps{
		Warehouse: a.wh,
		Resolver:  ingest.NewWatermarkResolver(a.wh, a.logger),
		Merger:    ingest.NewMergeEngine(a.wh, loader, a.logger),
		Logger:    a.logger,
		Now:       now,
	}

	tasks := make([]pipeline.SourceTask, 0, len(selected))
	for _, sc := range selected {
		f, err := sources.New(sc, deps)
		if err != nil {
			return nil, errors.Wrap(err, errors.TypeOf(err), fmt.Sprintf("source %s", sc.Name))
		}
		a.fetchers = append(a.fetchers, f)
		tasks = append(tasks, ingest.NewTask(sc, f, taskDeps))
	}
	return tasks, nil
}

func selectSources(cfg *config.Config, names []string) ([]config.SourceConfig, error) {
	if len(names) == 0 {
		return cfg.EnabledSources(), nil
	}
	out := make([]config.SourceConfig, 0, len(names))
	for _, name := range names {
		sc, ok := cfg.Source(name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeUsage, "unknown source %q", name)
		}
		out = append(out, sc)
	}
	return out, nil
}

// Warehouse returns the ingestion warehouse.
func (a *App) Warehouse() warehouse.Warehouse {
	return a.wh
}

// Close releases fetchers and warehouse connections.
func (a *App) Close() error {
	var errs []error
	for _, f := range a.fetchers {
		if err := sources.Close(f); err != nil {
			errs = append(errs, err)
		}
	}
	a.fetchers = nil

	if a.http != nil {
		stats := a.http.GetStats()
		a.logger.Info("http client released",
			zap.Int64("requests", stats.TotalRequests),
			zap.Int64("failed_requests", stats.FailedRequests))
		a.http = nil
	}

	if a.whVal != nil && a.whVal != a.wh {
		if err := a.whVal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.whVal = nil
	if a.wh != nil {
		if err := a.wh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.wh = nil
	return errors.Join(errs...)
}
