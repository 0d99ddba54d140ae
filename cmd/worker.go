package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dagsched/internal/adminhttp"
	"dagsched/internal/banner"
	"dagsched/internal/config"
	"dagsched/internal/fetcher"
	"dagsched/internal/metrics"
	"dagsched/internal/subworker"
	"dagsched/internal/workerproc"
)

func newWorkerCmd() *cobra.Command {
	cfg := config.NewDefaultWorkerConfig()
	var noBanner bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker process",
		Long:  `Connects to a scheduler's gateway, executes assigned tasks through a pool of subworker processes, and serves peer data fetches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !noBanner {
				banner.PrintSmall()
			}
			return runWorker(cmd.Context(), cfg)
		},
	}

	cfg.AddFlags(cmd)
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "Disable ASCII banner on startup")
	return cmd
}

func runWorker(ctx context.Context, cfg *config.WorkerConfig) error {
	logger := newLogger(cfg.LogLevel, cfg.JSONLogs)
	ctx, cancel := setupSignals(ctx, logger)
	defer cancel()

	if cfg.SubworkerCmd == "" {
		return fmt.Errorf("worker: --subworker-cmd is required")
	}

	reg := metrics.NewRegistry()
	pool := newSubworkerPool(cfg)

	proc := workerproc.New(workerproc.Config{
		SchedulerAddr:    cfg.SchedulerAddr,
		ListenAddr:       cfg.ListenAddr,
		NCPUs:            cfg.NCPUs,
		FetchConcurrency: cfg.FetchPoolSize,
		Backoff: fetcher.BackoffConfig{
			InitialWait: cfg.FetchInitialWait,
			MaxWait:     cfg.FetchMaxWait,
			Factor:      2.0,
			MaxAttempts: cfg.FetchMaxRetries,
		},
	}, pool, logger, reg)

	admin := adminhttp.New(cfg.Metrics, reg, logger)
	admin.RegisterCheck("scheduler-conn", func() error { return nil })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return admin.Serve(gctx) })
	}

	logger.WithField("scheduler", cfg.SchedulerAddr).WithField("ncpus", cfg.NCPUs).Info("worker starting")

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("worker exited with error", err)
		return err
	}
	return nil
}

func newSubworkerPool(cfg *config.WorkerConfig) *subworker.Pool {
	n := cfg.NCPUs
	if n < 1 {
		n = config.GetOptimalWorkerCount()
	}
	results := make(chan subworker.Result, n*4)
	handles := make([]subworker.Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = subworker.NewExecHandle(i, cfg.SubworkerCmd, cfg.SubworkerArgs, results)
	}
	return subworker.NewPoolWithResults(handles, results)
}
