package models

import "time"

// Stage names a pipeline stage.
type Stage string

const (
	StageIngestion  Stage = "ingestion"
	StageTransform  Stage = "transform"
	StageValidation Stage = "validation"
	StageSummary    Stage = "summary"
)

// StageStatus is the outcome of a stage or of one item within it.
type StageStatus string

const (
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
	// StatusNoOp marks a source that had no new data to fetch.
	StatusNoOp StageStatus = "no_op"
)

// Succeeded reports whether the status counts as success.
func (s StageStatus) Succeeded() bool {
	return s == StatusCompleted || s == StatusNoOp
}

// TerminalState is the final state of a pipeline run.
type TerminalState string

const (
	StateCompleted             TerminalState = "completed"
	StateCompletedWithWarnings TerminalState = "completed_with_warnings"
	StateFailed                TerminalState = "failed"
)

// ItemOutcome records the result of one source or transform step.
type ItemOutcome struct {
	Name     string        `json:"name"`
	Status   StageStatus   `json:"status"`
	Attempts int           `json:"attempts"`
	Rows     int64         `json:"rows"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StageOutcome records the result of a whole stage.
type StageOutcome struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Items    []ItemOutcome `json:"items,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed returns the items that did not succeed.
func (o StageOutcome) Failed() []ItemOutcome {
	var failed []ItemOutcome
	for _, it := range o.Items {
		if it.Status == StatusFailed {
			failed = append(failed, it)
		}
	}
	return failed
}

// UnknownCount marks a row count that could not be obtained.
const UnknownCount int64 = -1

// ReconciliationRule pairs two tables whose row counts must agree.
type ReconciliationRule struct {
	Name   string `yaml:"name" json:"name"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// RuleResult is the evaluation of one reconciliation rule.
type RuleResult struct {
	Name        string `json:"name"`
	SourceTable string `json:"source_table"`
	TargetTable string `json:"target_table"`
	SourceCount int64  `json:"source_count"`
	TargetCount int64  `json:"target_count"`
	Passed      bool   `json:"passed"`
}

// ReconciliationReport holds every count gathered and every rule result.
type ReconciliationReport struct {
	Counts map[string]int64 `json:"counts"`
	Rules  []RuleResult     `json:"rules"`
	Passed bool             `json:"passed"`
}
