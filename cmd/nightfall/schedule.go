package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/app"
	"github.com/ajitpratap0/nightfall/internal/pipeline"
	"github.com/ajitpratap0/nightfall/pkg/config"
)

func (c *cli) scheduleCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on its cron schedule",
		Long: `Stay resident and trigger a run on the configured cron expression, serving
Prometheus metrics on observability.metrics_addr. A tick that fires while the
previous run is still in progress is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := c.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			defer shutdownTracing(log)

			a, err := app.New(ctx, cfg, log, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			return schedule(ctx, cfg, a.Orchestrator, log, runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Trigger a run immediately on start")
	return cmd
}

// newSchedule parses the cron expression in its configured location.
func newSchedule(cfg config.ScheduleConfig) (cron.Schedule, *time.Location, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, nil, fmt.Errorf("invalid schedule timezone %q: %w", cfg.Timezone, err)
		}
	}
	sched, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
	}
	return sched, loc, nil
}

// trigger starts a run unless one is already in flight.
func trigger(ctx context.Context, o *pipeline.Orchestrator, log *zap.Logger) {
	report, ok := o.TryRunOnce(ctx)
	if !ok {
		log.Warn("previous run still in progress, skipping trigger")
		return
	}
	log.Info("scheduled run finished",
		zap.String("run_id", report.RunID),
		zap.String("state", string(report.State)),
		zap.Duration("duration", report.Duration))
}

func schedule(ctx context.Context, cfg *config.Config, o *pipeline.Orchestrator, log *zap.Logger, runNow bool) error {
	sched, loc, err := newSchedule(cfg.Schedule)
	if err != nil {
		return err
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", addr))
	}

	var inflight sync.WaitGroup
	run := func() {
		inflight.Add(1)
		defer inflight.Done()
		trigger(ctx, o, log)
	}

	c := cron.NewWithLocation(loc)
	c.Schedule(sched, cron.FuncJob(run))
	c.Start()

	log.Info("scheduler started",
		zap.String("cron", cfg.Schedule.Cron),
		zap.String("timezone", loc.String()),
		zap.Time("next_run", sched.Next(time.Now().In(loc))))

	if runNow {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			trigger(ctx, o, log)
		}()
	}

	<-ctx.Done()
	log.Info("scheduler stopping")
	c.Stop()
	if o.Running() {
		log.Info("waiting for the in-flight run to finish")
	}
	inflight.Wait()
	return nil
}
