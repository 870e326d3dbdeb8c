// Package validation reconciles row counts across the raw, staging and mart
// layers after a pipeline run.
package validation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/metrics"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// DefaultTimeout bounds a whole validation pass.
const DefaultTimeout = 2 * time.Minute

// Validator counts rows and evaluates reconciliation rules.
type Validator struct {
	wh      warehouse.Warehouse
	tables  []string
	rules   []models.ReconciliationRule
	timeout time.Duration
	logger  *zap.Logger
}

// NewValidator creates a validator over wh, which should be opened with the
// transform role so every layer is readable.
func NewValidator(wh warehouse.Warehouse, cfg config.ValidationConfig, logger *zap.Logger) *Validator {
	return &Validator{
		wh:      wh,
		tables:  tablesToCount(cfg),
		rules:   cfg.Rules,
		timeout: DefaultTimeout,
		logger:  logger.With(zap.String("component", "validator")),
	}
}

// tablesToCount lists the configured tables followed by any rule table not
// already listed.
func tablesToCount(cfg config.ValidationConfig) []string {
	seen := make(map[string]bool)
	var tables []string
	add := func(t string) {
		if !seen[strings.ToUpper(t)] {
			seen[strings.ToUpper(t)] = true
			tables = append(tables, t)
		}
	}
	for _, t := range cfg.Tables {
		add(t)
	}
	for _, r := range cfg.Rules {
		add(r.Source)
		add(r.Target)
	}
	return tables
}

// Tables returns the tables counted on each run.
func (v *Validator) Tables() []string {
	return v.tables
}

// Run counts every table and evaluates every rule. A table whose count
// cannot be read is recorded as models.UnknownCount, which fails any rule
// that references it. Run never returns an error; failures live in the report.
func (v *Validator) Run(ctx context.Context) *models.ReconciliationReport {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	report := &models.ReconciliationReport{
		Counts: make(map[string]int64, len(v.tables)),
		Passed: true,
	}

	for _, table := range v.tables {
		count, err := v.wh.RowCount(ctx, table)
		if err != nil {
			v.logger.Warn("could not count table", zap.String("table", table), zap.Error(err))
			count = models.UnknownCount
		}
		report.Counts[strings.ToUpper(table)] = count
		metrics.TableRows.WithLabelValues(table).Set(float64(count))
	}

	v.logger.Info("row count validation")
	for _, table := range v.tables {
		v.logger.Info("table row count",
			zap.String("layer", layer(table)),
			zap.String("table", table),
			zap.Int64("rows", report.Counts[strings.ToUpper(table)]))
	}

	v.logger.Info("reconciliation checks")
	for _, rule := range v.rules {
		res := Evaluate(rule, report.Counts)
		report.Rules = append(report.Rules, res)
		if !res.Passed {
			report.Passed = false
		}
		metrics.ReconciliationPassed.WithLabelValues(rule.Name).Set(metrics.BoolGauge(res.Passed))

		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		v.logger.Info(status+" | "+rule.Name,
			zap.String("rule", rule.Name),
			zap.Bool("passed", res.Passed),
			zap.Int64("source", res.SourceCount),
			zap.Int64("target", res.TargetCount))
	}

	return report
}

// Count returns the count recorded for table, or models.UnknownCount.
func Count(counts map[string]int64, table string) int64 {
	if c, ok := counts[strings.ToUpper(table)]; ok {
		return c
	}
	return models.UnknownCount
}

// Evaluate applies rule to counts. A rule passes when both counts are known
// and equal.
func Evaluate(rule models.ReconciliationRule, counts map[string]int64) models.RuleResult {
	src := Count(counts, rule.Source)
	tgt := Count(counts, rule.Target)
	return models.RuleResult{
		Name:        rule.Name,
		SourceTable: rule.Source,
		TargetTable: rule.Target,
		SourceCount: src,
		TargetCount: tgt,
		Passed:      src == tgt && src >= 0,
	}
}

func layer(table string) string {
	if i := strings.IndexByte(table, '.'); i > 0 {
		return strings.ToUpper(table[:i])
	}
	return ""
}
