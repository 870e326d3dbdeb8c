package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/logger"
	"github.com/ajitpratap0/nightfall/pkg/metrics"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// Fetcher retrieves the rows of one entity for a date range. Implementations
// must not touch the warehouse.
type Fetcher interface {
	Fetch(ctx context.Context, entity string, r models.Range) (*models.RowBatch, error)
}

// EntityLister is implemented by fetchers that multiplex several entities
// (for example one per ticker), each with its own watermark.
type EntityLister interface {
	Entities() []string
}

// TaskReport summarizes one run of a source task.
type TaskReport struct {
	Source      string
	Rows        int64
	Chunks      int
	EmptyChunks int
	Entities    int
	// NoOp is true when no entity had new data to request.
	NoOp bool
}

// Task ingests one configured source into its target table.
type Task struct {
	cfg      config.SourceConfig
	fetcher  Fetcher
	wh       warehouse.Warehouse
	resolver *WatermarkResolver
	merger   *MergeEngine
	logger   *zap.Logger
	now      func() time.Time
}

// TaskDeps holds the collaborators shared by every task of a run.
type TaskDeps struct {
	Warehouse warehouse.Warehouse
	Resolver  *WatermarkResolver
	Merger    *MergeEngine
	Logger    *zap.Logger
	// Now returns the run's reference time; fetch ranges end at its day (exclusive).
	Now func() time.Time
}

// NewTask creates a task for cfg.
func NewTask(cfg config.SourceConfig, fetcher Fetcher, deps TaskDeps) *Task {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Task{
		cfg:      cfg,
		fetcher:  fetcher,
		wh:       deps.Warehouse,
		resolver: deps.Resolver,
		merger:   deps.Merger,
		logger:   deps.Logger.With(zap.String("component", "source_task"), zap.String("source", cfg.Name)),
		now:      now,
	}
}

// Name returns the source name.
func (t *Task) Name() string {
	return t.cfg.Name
}

// Class returns the source class used to pick a retry policy.
func (t *Task) Class() string {
	return t.cfg.Class
}

// Run ingests every entity of the source. Entities are processed
// independently; when some fail the others still load and Run returns an
// aggregated error. Re-running after a failure is safe because merges are
// idempotent and watermarks advance only with committed data.
func (t *Task) Run(ctx context.Context) (*TaskReport, error) {
	ctx = logger.ContextWith(ctx, logger.SourceKey, t.cfg.Name)
	report := &TaskReport{Source: t.cfg.Name}
	table := &t.cfg.Table

	if err := t.wh.EnsureTable(ctx, table); err != nil {
		return report, err
	}

	if t.cfg.Mode == config.ModeReplace {
		return report, t.replace(ctx, table, report)
	}

	start, err := t.cfg.StartDate()
	if err != nil {
		return report, errors.Wrap(err, errors.ErrorTypeConfig, "invalid default start")
	}
	end := models.Day(t.now())

	entities := []string{""}
	if lister, ok := t.fetcher.(EntityLister); ok {
		entities = lister.Entities()
	}
	report.Entities = len(entities)

	var errs []error
	noop := 0
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeTimeout, "source task interrupted"))
			break
		}
		skipped, err := t.runEntity(ctx, table, entity, start, end, report)
		if err != nil {
			t.logger.Error("entity ingestion failed", zap.String("entity", entity), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if skipped {
			noop++
		}
	}
	report.NoOp = len(errs) == 0 && noop == len(entities)

	t.logger.Info("source ingestion finished",
		zap.Int64("rows", report.Rows),
		zap.Int("chunks", report.Chunks),
		zap.Int("empty_chunks", report.EmptyChunks),
		zap.Int("failed_entities", len(errs)),
		zap.Bool("no_op", report.NoOp))

	if len(errs) > 0 {
		return report, errors.Wrap(errors.Join(errs...), errors.TypeOf(errs[0]),
			fmt.Sprintf("%d of %d entities failed", len(errs), len(entities)))
	}
	return report, nil
}

// runEntity ingests [watermark, end) for one entity. skipped is true when the
// watermark had already reached end.
func (t *Task) runEntity(ctx context.Context, table *models.Table, entity string, defaultStart, end time.Time, report *TaskReport) (bool, error) {
	log := t.logger
	if entity != "" {
		log = log.With(zap.String("entity", entity))
	}

	wm := t.resolver.Resolve(ctx, table, entity, defaultStart)
	window := models.Range{Start: wm.Start, End: end}
	if window.Empty() {
		log.Info("no new data to fetch", zap.String("start", wm.Start.Format(models.DateLayout)))
		return true, nil
	}

	for _, chunk := range window.Split(t.cfg.ChunkDays) {
		batch, err := t.fetcher.Fetch(ctx, entity, chunk)
		if err != nil {
			metrics.FetchChunks.WithLabelValues(t.cfg.Name, "error").Inc()
			return false, errors.Wrap(err, errors.TypeOf(err), "fetch failed").
				WithDetail("entity", entity).
				WithDetail("range", chunk.String())
		}
		report.Chunks++

		if batch.Empty() {
			metrics.FetchChunks.WithLabelValues(t.cfg.Name, "empty").Inc()
			report.EmptyChunks++
			log.Info("chunk returned no rows", zap.Stringer("range", chunk))
			continue
		}
		metrics.FetchChunks.WithLabelValues(t.cfg.Name, "rows").Inc()

		result, err := t.merger.Upsert(ctx, table, table.Keys, batch)
		if err != nil {
			return false, errors.Wrap(err, errors.TypeOf(err), "merge failed").
				WithDetail("entity", entity).
				WithDetail("range", chunk.String())
		}
		report.Rows += result.RowsProcessed
		metrics.RowsMerged.WithLabelValues(t.cfg.Name, table.FQN()).Add(float64(result.RowsProcessed))
		log.Info("chunk merged", zap.Stringer("range", chunk), zap.Int64("rows", result.RowsProcessed))
	}
	return false, nil
}

// replace performs a full refresh: everything the fetcher returns replaces
// the target's rows in one transaction.
func (t *Task) replace(ctx context.Context, table *models.Table, report *TaskReport) error {
	window := models.Range{End: models.Day(t.now())}
	if start, err := t.cfg.StartDate(); err == nil {
		window.Start = start
	}

	batch, err := t.fetcher.Fetch(ctx, "", window)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "fetch failed")
	}
	report.Chunks = 1
	report.Entities = 1

	if batch.Empty() {
		report.NoOp = true
		report.EmptyChunks = 1
		t.logger.Warn("full refresh returned no rows, target left unchanged", zap.String("table", table.FQN()))
		return nil
	}

	result, err := t.merger.Replace(ctx, table, batch)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "full refresh failed")
	}
	report.Rows = result.RowsProcessed
	metrics.RowsMerged.WithLabelValues(t.cfg.Name, table.FQN()).Add(float64(result.RowsProcessed))
	t.logger.Info("full refresh complete", zap.String("table", table.FQN()), zap.Int64("rows", result.RowsProcessed))
	return nil
}
