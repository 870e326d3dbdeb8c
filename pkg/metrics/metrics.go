// Package metrics provides Prometheus instrumentation for nightfall runs.
//
// # Overview
//
// Every collector is registered with the default registry through promauto,
// so the schedule command only has to expose promhttp.Handler(). Labels are
// kept low-cardinality: source names, table names, stage names and terminal
// states all come from configuration.
//
// # Basic Usage
//
//	metrics.RowsMerged.WithLabelValues("exchange_rates", "RAW.EXCHANGE_RATES.DAILY_RATES").Add(1200)
//
//	timer := metrics.NewTimer("ingestion")
//	runIngestion()
//	metrics.StageDuration.WithLabelValues("ingestion", "completed").Observe(timer.Stop().Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsMerged counts rows written into targets.
	// Labels: source, table
	RowsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightfall_rows_merged_total",
			Help: "Total number of rows merged or replaced into warehouse targets",
		},
		[]string{"source", "table"},
	)

	// FetchChunks counts fetch requests by outcome (rows, empty, error).
	// Labels: source, outcome
	FetchChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightfall_fetch_chunks_total",
			Help: "Number of source fetch chunks by outcome",
		},
		[]string{"source", "outcome"},
	)

	// TaskAttempts counts attempts of retried tasks by outcome.
	// Labels: task (source or transform step), outcome (success, retry, exhausted)
	TaskAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightfall_task_attempts_total",
			Help: "Number of task attempts by outcome",
		},
		[]string{"task", "outcome"},
	)

	// StageDuration tracks how long each stage took.
	// Labels: stage, status
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "nightfall_stage_duration_seconds",
			Help: "Pipeline stage duration in seconds",
			Buckets: []float64{
				1,    // trivial no-op runs
				10,   // small incremental loads
				60,   // typical nightly ingestion
				300,  // transform builds
				900,  // heavy rebuilds
				1800, // class timeout
				3600,
				7200, // pipeline timeout
			},
		},
		[]string{"stage", "status"},
	)

	// PipelineRuns counts finished runs by terminal state.
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightfall_pipeline_runs_total",
			Help: "Number of pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	// LastRunTimestamp is the unix time the last run finished.
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightfall_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last finished pipeline run",
		},
	)

	// TableRows is the last observed row count of a table (-1 when unknown).
	TableRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nightfall_table_rows",
			Help: "Row count observed during reconciliation",
		},
		[]string{"table"},
	)

	// ReconciliationPassed is 1 when a rule passed on the last run, 0 otherwise.
	ReconciliationPassed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nightfall_reconciliation_passed",
			Help: "Whether a reconciliation rule passed on the last run",
		},
		[]string{"rule"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the name given at creation.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// BoolGauge converts a pass/fail flag to a gauge value.
func BoolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
