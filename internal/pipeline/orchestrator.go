// Package pipeline orchestrates a nightly run: concurrent source ingestion,
// sequential transform steps, reconciliation and a summary that is always
// emitted, whatever happened before it.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/internal/transform"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/logger"
	"github.com/ajitpratap0/nightfall/pkg/metrics"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/observability"
)

// SourceTask ingests one source.
type SourceTask interface {
	Name() string
	Class() string
	Run(ctx context.Context) (*ingest.TaskReport, error)
}

// Validator reconciles row counts after the transform stage.
type Validator interface {
	Run(ctx context.Context) *models.ReconciliationReport
}

// Options configures an Orchestrator.
type Options struct {
	Policies config.PoliciesConfig
	// Timeout bounds the whole run; zero means no limit
	Timeout time.Duration
	Tasks   []SourceTask
	// Engine runs Steps in order; a nil Engine skips the transform stage
	Engine    transform.Engine
	Steps     []transform.Step
	Validator Validator
	Logger    *zap.Logger
	// Now is the clock used for run timestamps
	Now func() time.Time
}

// Orchestrator runs the pipeline stages in order.
type Orchestrator struct {
	opts   Options
	retry  *RetryExecutor
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		opts:   opts,
		retry:  NewRetryExecutor(opts.Logger),
		logger: opts.Logger.With(zap.String("component", "orchestrator")),
		now:    now,
	}
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// TryRunOnce starts a run unless one is already in progress. ok is false
// when the call was skipped.
func (o *Orchestrator) TryRunOnce(ctx context.Context) (report *RunReport, ok bool) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, false
	}
	o.running = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()
	return o.RunOnce(ctx), true
}

// RunOnce executes ingestion, transform and validation, then finalizes the
// run summary. The summary is produced on every path, including when an
// earlier stage fails, the run times out or a stage panics.
//
// When every source fails, transform and validation are skipped. When the
// transform fails, validation still runs so the summary reports current counts.
func (o *Orchestrator) RunOnce(ctx context.Context) (report *RunReport) {
	runID := uuid.NewString()
	report = newRunReport(runID, o.now())

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	ctx = logger.ContextWith(ctx, logger.RunIDKey, runID)
	log := logger.FromContext(ctx, o.logger)

	ctx, span := observability.StartSpan(ctx, "pipeline.run", attribute.String("run_id", runID))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline stage panicked", zap.Any("panic", p), zap.Stack("stack"))
			report.abort(fmt.Sprintf("panic: %v", p))
		}
		o.finalize(report, log)
		span.SetAttribute("state", string(report.State))
	}()

	log.Info("pipeline run started", zap.Int("sources", len(o.opts.Tasks)))

	ingestion := o.runIngestion(ctx, log)
	report.record(ingestion)
	if ingestion.Status == models.StatusFailed {
		report.record(skipped(models.StageTransform, "ingestion failed"))
		report.record(skipped(models.StageValidation, "ingestion failed"))
		return report
	}

	report.record(o.runTransform(ctx, log))
	report.record(o.runValidation(ctx, report, log))
	return report
}

// runIngestion runs every source concurrently. A failing source never
// cancels its siblings.
func (o *Orchestrator) runIngestion(ctx context.Context, log *zap.Logger) models.StageOutcome {
	ctx = logger.ContextWith(ctx, logger.StageKey, string(models.StageIngestion))
	ctx, span := observability.StartSpan(ctx, "pipeline.ingestion")
	defer span.End()

	timer := metrics.NewTimer(string(models.StageIngestion))
	outcome := models.StageOutcome{Stage: models.StageIngestion}
	if len(o.opts.Tasks) == 0 {
		outcome.Status = models.StatusSkipped
		outcome.Reason = "no sources enabled"
		outcome.Duration = timer.Stop()
		log.Warn("no sources enabled, skipping ingestion")
		return outcome
	}

	items := make([]models.ItemOutcome, len(o.opts.Tasks))
	var g errgroup.Group
	g.SetLimit(len(o.opts.Tasks))
	for i, task := range o.opts.Tasks {
		i, task := i, task
		g.Go(func() error {
			items[i] = o.runSource(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	outcome.Items = items
	succeeded := 0
	for _, it := range items {
		if it.Status.Succeeded() {
			succeeded++
		}
	}
	switch {
	case succeeded == 0:
		outcome.Status = models.StatusFailed
		outcome.Reason = "every source failed"
	case succeeded < len(items):
		outcome.Status = models.StatusCompleted
		outcome.Reason = fmt.Sprintf("%d of %d sources failed", len(items)-succeeded, len(items))
	default:
		outcome.Status = models.StatusCompleted
	}
	outcome.Duration = timer.Stop()
	metrics.StageDuration.WithLabelValues(timer.Name(), string(outcome.Status)).Observe(outcome.Duration.Seconds())

	log.Info("ingestion finished",
		zap.String("status", string(outcome.Status)),
		zap.Int("succeeded", succeeded),
		zap.Int("sources", len(items)),
		zap.Duration("duration", outcome.Duration))
	return outcome
}

func (o *Orchestrator) runSource(ctx context.Context, task SourceTask) (item models.ItemOutcome) {
	item = models.ItemOutcome{Name: task.Name()}
	ctx, span := observability.StartSpan(ctx, "source."+task.Name(), attribute.String("source", task.Name()))
	defer span.End()

	// A panicking source must not take down its siblings.
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("source task panicked",
				zap.String("source", task.Name()),
				zap.Any("panic", p),
				zap.Stack("stack"))
			item.Status = models.StatusFailed
			item.Reason = fmt.Sprintf("panic: %v", p)
		}
	}()

	policy, err := o.opts.Policies.ForClass(task.Class())
	if err != nil {
		item.Status = models.StatusFailed
		item.Reason = err.Error()
		span.RecordError(err)
		return item
	}

	var last *ingest.TaskReport
	res, err := o.retry.Run(ctx, task.Name(), policy, func(ctx context.Context) error {
		report, err := task.Run(ctx)
		if report != nil {
			last = report
		}
		return err
	})
	item.Attempts = res.Attempts
	item.Duration = res.Duration
	if last != nil {
		item.Rows = last.Rows
	}

	switch {
	case err != nil:
		item.Status = models.StatusFailed
		item.Reason = err.Error()
		span.RecordError(err)
	case last != nil && last.NoOp:
		item.Status = models.StatusNoOp
	default:
		item.Status = models.StatusCompleted
	}
	span.SetAttribute("rows", item.Rows)
	return item
}

// runTransform runs the steps in order and stops at the first failure.
func (o *Orchestrator) runTransform(ctx context.Context, log *zap.Logger) models.StageOutcome {
	if o.opts.Engine == nil || len(o.opts.Steps) == 0 {
		log.Info("no transform configured, skipping transform")
		return skipped(models.StageTransform, "no transform configured")
	}

	ctx = logger.ContextWith(ctx, logger.StageKey, string(models.StageTransform))
	ctx, span := observability.StartSpan(ctx, "pipeline.transform")
	defer span.End()

	timer := metrics.NewTimer(string(models.StageTransform))
	outcome := models.StageOutcome{Stage: models.StageTransform, Status: models.StatusCompleted}

	for i, step := range o.opts.Steps {
		if outcome.Status == models.StatusFailed {
			outcome.Items = append(outcome.Items, models.ItemOutcome{
				Name:   step.Name,
				Status: models.StatusSkipped,
				Reason: "an earlier step failed",
			})
			continue
		}

		log.Info("running transform step",
			zap.String("step", step.Name),
			zap.Int("index", i+1),
			zap.Int("steps", len(o.opts.Steps)))

		policy := o.opts.Policies.ForStep(step)
		res, err := o.retry.Run(ctx, step.Name, policy, func(ctx context.Context) error {
			_, err := o.opts.Engine.Run(ctx, step)
			return err
		})

		item := models.ItemOutcome{
			Name:     step.Name,
			Status:   models.StatusCompleted,
			Attempts: res.Attempts,
			Duration: res.Duration,
		}
		if err != nil {
			item.Status = models.StatusFailed
			item.Reason = err.Error()
			outcome.Status = models.StatusFailed
			outcome.Reason = fmt.Sprintf("step %s failed", step.Name)
			span.RecordError(err)
		}
		outcome.Items = append(outcome.Items, item)
	}

	outcome.Duration = timer.Stop()
	metrics.StageDuration.WithLabelValues(timer.Name(), string(outcome.Status)).Observe(outcome.Duration.Seconds())
	log.Info("transform finished",
		zap.String("status", string(outcome.Status)),
		zap.Duration("duration", outcome.Duration))
	return outcome
}

func (o *Orchestrator) runValidation(ctx context.Context, report *RunReport, log *zap.Logger) models.StageOutcome {
	if o.opts.Validator == nil {
		return skipped(models.StageValidation, "no validator configured")
	}

	ctx = logger.ContextWith(ctx, logger.StageKey, string(models.StageValidation))
	ctx, span := observability.StartSpan(ctx, "pipeline.validation")
	defer span.End()

	timer := metrics.NewTimer(string(models.StageValidation))
	rec := o.opts.Validator.Run(ctx)
	report.Reconciliation = rec

	outcome := models.StageOutcome{Stage: models.StageValidation, Status: models.StatusCompleted}
	if rec == nil || !rec.Passed {
		outcome.Status = models.StatusFailed
		outcome.Reason = "reconciliation checks failed"
		for _, r := range reconciliationFailures(rec) {
			outcome.Items = append(outcome.Items, models.ItemOutcome{
				Name:   r.Name,
				Status: models.StatusFailed,
				Reason: fmt.Sprintf("source=%d target=%d", r.SourceCount, r.TargetCount),
			})
		}
		span.RecordError(errors.New(errors.ErrorTypeDegraded, outcome.Reason))
	}
	outcome.Duration = timer.Stop()
	metrics.StageDuration.WithLabelValues(timer.Name(), string(outcome.Status)).Observe(outcome.Duration.Seconds())
	log.Info("validation finished", zap.String("status", string(outcome.Status)))
	return outcome
}

func reconciliationFailures(rec *models.ReconciliationReport) []models.RuleResult {
	if rec == nil {
		return nil
	}
	var failed []models.RuleResult
	for _, r := range rec.Rules {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func skipped(stage models.Stage, reason string) models.StageOutcome {
	return models.StageOutcome{Stage: stage, Status: models.StatusSkipped, Reason: reason}
}
