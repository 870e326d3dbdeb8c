package pipeline

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/metrics"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

// RunReport accumulates the outcome of every stage of one run.
type RunReport struct {
	RunID          string                       `json:"run_id"`
	Started        time.Time                    `json:"started"`
	Finished       time.Time                    `json:"finished"`
	Duration       time.Duration                `json:"duration"`
	Stages         []models.StageOutcome        `json:"stages"`
	Reconciliation *models.ReconciliationReport `json:"reconciliation,omitempty"`
	State          models.TerminalState         `json:"state"`
	// Aborted holds the reason a stage stopped abnormally, such as a panic
	Aborted string `json:"aborted,omitempty"`
}

func newRunReport(runID string, started time.Time) *RunReport {
	return &RunReport{RunID: runID, Started: started}
}

func (r *RunReport) record(o models.StageOutcome) {
	r.Stages = append(r.Stages, o)
}

func (r *RunReport) abort(reason string) {
	r.Aborted = reason
}

// Stage returns the outcome recorded for stage, or nil.
func (r *RunReport) Stage(stage models.Stage) *models.StageOutcome {
	for i := range r.Stages {
		if r.Stages[i].Stage == stage {
			return &r.Stages[i]
		}
	}
	return nil
}

// RowsLoaded returns the rows written by every source.
func (r *RunReport) RowsLoaded() int64 {
	s := r.Stage(models.StageIngestion)
	if s == nil {
		return 0
	}
	var total int64
	for _, it := range s.Items {
		total += it.Rows
	}
	return total
}

// Succeeded reports whether the run finished without failing.
func (r *RunReport) Succeeded() bool {
	return r.State != models.StateFailed
}

// terminalState derives the final state from the recorded stages. Missing
// stages only happen after an abort, which fails the run.
func (r *RunReport) terminalState() models.TerminalState {
	if r.Aborted != "" {
		return models.StateFailed
	}
	ingestion := r.Stage(models.StageIngestion)
	transform := r.Stage(models.StageTransform)
	validation := r.Stage(models.StageValidation)
	if ingestion == nil || transform == nil || validation == nil {
		return models.StateFailed
	}
	if ingestion.Status == models.StatusFailed || transform.Status == models.StatusFailed {
		return models.StateFailed
	}
	if len(ingestion.Failed()) > 0 || validation.Status == models.StatusFailed {
		return models.StateCompletedWithWarnings
	}
	return models.StateCompleted
}

// finalize closes the report and emits the summary. It runs exactly once per
// run, from a deferred call in RunOnce.
func (o *Orchestrator) finalize(r *RunReport, log *zap.Logger) {
	r.Finished = o.now()
	r.Duration = r.Finished.Sub(r.Started)
	r.State = r.terminalState()
	r.record(models.StageOutcome{Stage: models.StageSummary, Status: models.StatusCompleted})

	metrics.PipelineRuns.WithLabelValues(string(r.State)).Inc()
	metrics.LastRunTimestamp.Set(float64(r.Finished.Unix()))

	log = log.With(zap.String("stage", string(models.StageSummary)))
	log.Info("pipeline summary",
		zap.Duration("duration", r.Duration),
		zap.Int64("rows_loaded", r.RowsLoaded()))

	for _, s := range r.Stages {
		if s.Stage == models.StageSummary {
			continue
		}
		fields := []zap.Field{
			zap.String("stage_name", string(s.Stage)),
			zap.String("status", string(s.Status)),
			zap.Duration("duration", s.Duration),
		}
		if s.Reason != "" {
			fields = append(fields, zap.String("reason", s.Reason))
		}
		log.Info("stage outcome", fields...)
		for _, it := range s.Items {
			log.Info("stage item",
				zap.String("stage_name", string(s.Stage)),
				zap.String("item", it.Name),
				zap.String("status", string(it.Status)),
				zap.Int("attempts", it.Attempts),
				zap.Int64("rows", it.Rows),
				zap.String("reason", it.Reason))
		}
	}

	if rec := r.Reconciliation; rec != nil {
		tables := make([]string, 0, len(rec.Counts))
		for table := range rec.Counts {
			tables = append(tables, table)
		}
		sort.Strings(tables)
		for _, table := range tables {
			log.Info("table rows", zap.String("table", table), zap.Int64("rows", rec.Counts[table]))
		}
		if rec.Passed {
			log.Info("reconciliation: all checks passed")
		} else {
			log.Warn("reconciliation: some checks failed")
		}
	}

	if r.Aborted != "" {
		log.Error("pipeline aborted", zap.String("reason", r.Aborted))
	}
	switch r.State {
	case models.StateFailed:
		log.Error("pipeline finished", zap.String("state", string(r.State)))
	case models.StateCompletedWithWarnings:
		log.Warn("pipeline finished", zap.String("state", string(r.State)))
	default:
		log.Info("pipeline finished", zap.String("state", string(r.State)))
	}
}
