package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"inbound-forecaster/pkg/scheduler"
)

func scheduleCmd() *cobra.Command {
	var (
		cronSpec    string
		timezone    string
		timeout     time.Duration
		metricsAddr string
		runNow      bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Rerun the forecast on a cron schedule and serve /metrics and /health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("cron") {
				cfg.Schedule.Cron = cronSpec
			}
			if fs.Changed("timezone") {
				cfg.Schedule.Timezone = timezone
			}
			if fs.Changed("timeout") {
				cfg.Schedule.Timeout = timeout.String()
			}
			if fs.Changed("metrics-addr") {
				cfg.Schedule.MetricsAddr = metricsAddr
			}
			if fs.Changed("run-now") {
				cfg.Schedule.RunOnStart = runNow
			}
			if cfg.Output.CSV == "" && cfg.Output.DSN == "" && cfg.Output.RedisURL == "" {
				return fmt.Errorf("schedule needs at least one of --out-csv, --out-dsn or --redis-url")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := scheduler.New(cfg.Schedule.Cron, cfg.Schedule.Timezone, cfg.ScheduleTimeout(),
				func(ctx context.Context) error {
					_, err := a.runOnce(ctx)
					return err
				})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return scheduler.Serve(gctx, cfg.Schedule.MetricsAddr, scheduler.NewHandler(a.registry, s))
			})
			g.Go(func() error {
				return s.Run(gctx, cfg.Schedule.RunOnStart)
			})
			err = g.Wait()
			klog.InfoS("Scheduler exited", "runs", s.Status().Runs)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cronSpec, "cron", "30 5 * * *", "Five-field cron schedule")
	f.StringVar(&timezone, "timezone", "Asia/Tokyo", "Time zone the schedule is evaluated in")
	f.DurationVar(&timeout, "timeout", 30*time.Minute, "Abort a run after this long")
	f.StringVar(&metricsAddr, "metrics-addr", ":9102", "Listen address for /metrics and /health")
	f.BoolVar(&runNow, "run-now", false, "Run once immediately on start")
	f.IntVar(&opts.futureDays, "future-days", 0, "Forecast this many days after the last history date")
	addOutputFlags(f)

	return cmd
}
