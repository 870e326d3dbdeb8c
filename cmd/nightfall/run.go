package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/app"
	"github.com/ajitpratap0/nightfall/internal/pipeline"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/observability"
)

func (c *cli) runCmd() *cobra.Command {
	var asJSON bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Long: `Run ingestion, transform and validation once and print the run summary.

The command exits non-zero only when the run fails; a run that completes with
warnings (a failed source or a reconciliation mismatch) exits zero.

Example:
  nightfall run --config nightfall.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd, app.Options{}, timeout, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Override the configured pipeline timeout")
	return cmd
}

func (c *cli) ingestCmd() *cobra.Command {
	var asJSON bool
	var names []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the ingestion stage only",
		Long: `Ingest every enabled source, or only those named with --source, without
running the transform or validation stages.

Example:
  nightfall ingest --source exchange_rates --source market_prices`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.Options{Sources: names, SkipTransform: true, SkipValidation: true}
			return c.runPipeline(cmd, opts, 0, asJSON)
		},
	}
	cmd.Flags().StringSliceVarP(&names, "source", "s", nil, "Source to ingest (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Reconcile warehouse row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := c.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			defer shutdownTracing(log)

			a, err := app.New(ctx, cfg, log, app.Options{SkipTransform: true})
			if err != nil {
				return err
			}
			defer a.Close()

			rec := a.Validator.Run(ctx)
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
					return err
				}
			} else {
				printReconciliation(cmd.OutOrStdout(), rec)
			}
			if !rec.Passed {
				return fmt.Errorf("reconciliation failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the reconciliation report as JSON")
	return cmd
}

// runPipeline builds the app for opts, runs it once and renders the report.
func (c *cli) runPipeline(cmd *cobra.Command, opts app.Options, timeout time.Duration, asJSON bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer shutdownTracing(log)

	if timeout > 0 {
		cfg.Pipeline.Timeout = timeout
	}

	a, err := app.New(ctx, cfg, log, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to release resources", zap.Error(err))
		}
	}()

	report := a.Orchestrator.RunOnce(ctx)
	if asJSON {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}

	if report.State == models.StateFailed {
		return fmt.Errorf("pipeline run %s failed", report.RunID)
	}
	return nil
}

func shutdownTracing(log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.Shutdown(ctx); err != nil {
		log.Warn("failed to flush traces", zap.Error(err))
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printReport(out io.Writer, r *pipeline.RunReport) {
	fmt.Fprintf(out, "Run %s: %s in %s\n", r.RunID, r.State, r.Duration.Round(time.Millisecond))
	if r.Aborted != "" {
		fmt.Fprintf(out, "  aborted: %s\n", r.Aborted)
	}
	for _, s := range r.Stages {
		fmt.Fprintf(out, "  %-11s %s", s.Stage, s.Status)
		if s.Reason != "" {
			fmt.Fprintf(out, " (%s)", s.Reason)
		}
		fmt.Fprintln(out)
		for _, it := range s.Items {
			fmt.Fprintf(out, "    - %s: %s attempts=%d rows=%d", it.Name, it.Status, it.Attempts, it.Rows)
			if it.Reason != "" {
				fmt.Fprintf(out, " reason=%q", it.Reason)
			}
			fmt.Fprintln(out)
		}
	}
	fmt.Fprintf(out, "  rows loaded: %d\n", r.RowsLoaded())
	if r.Reconciliation != nil {
		printReconciliation(out, r.Reconciliation)
	}
}

func printReconciliation(out io.Writer, rec *models.ReconciliationReport) {
	tables := make([]string, 0, len(rec.Counts))
	for t := range rec.Counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	fmt.Fprintln(out, "  table counts:")
	for _, t := range tables {
		fmt.Fprintf(out, "    %s: %d\n", t, rec.Counts[t])
	}
	status := "PASSED"
	if !rec.Passed {
		status = "FAILED"
	}
	fmt.Fprintf(out, "  reconciliation: %s\n", status)
	for _, rule := range rec.Rules {
		mark := "ok"
		if !rule.Passed {
			mark = "MISMATCH"
		}
		fmt.Fprintf(out, "    - %s: %d vs %d %s\n", rule.Name, rule.SourceCount, rule.TargetCount, mark)
	}
}
