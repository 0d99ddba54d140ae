package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dagsched/internal/adminhttp"
	"dagsched/internal/banner"
	"dagsched/internal/bridge"
	"dagsched/internal/config"
	"dagsched/internal/core"
	"dagsched/internal/gateway"
	"dagsched/internal/metrics"
	"dagsched/internal/placement"
)

func newSchedulerCmd() *cobra.Command {
	cfg := config.NewDefaultSchedulerConfig()
	var noBanner bool

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduler core and gateway",
		Long:  `Runs the scheduler's core state machine and the TCP gateway that workers and clients connect to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !noBanner {
				banner.Print()
			}
			return runScheduler(cmd.Context(), cfg)
		},
	}

	cfg.AddFlags(cmd)
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "Disable ASCII banner on startup")
	return cmd
}

func runScheduler(ctx context.Context, cfg *config.SchedulerConfig) error {
	logger := newLogger(cfg.LogLevel, cfg.JSONLogs)
	ctx, cancel := setupSignals(ctx, logger)
	defer cancel()

	reg := metrics.NewRegistry()

	policy, err := newPlacementPolicy(cfg)
	if err != nil {
		return err
	}

	sched := core.NewScheduler(policy, cfg.TickInterval, cfg.BridgeBufferSize, cfg.BridgeBufferSize, logger, reg)
	br := bridge.New(sched, reg)
	gw := gateway.New(cfg.ListenAddr, br, logger, reg)

	admin := adminhttp.New(cfg.Metrics, reg, logger)
	admin.RegisterCheck("gateway", func() error { return nil })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return gw.Serve(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return admin.Serve(gctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				br.SampleMetrics()
			}
		}
	})

	logger.WithField("addr", cfg.ListenAddr).WithField("placement", string(cfg.Placement)).Info("scheduler starting")

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("scheduler exited with error", err)
		return err
	}
	return nil
}

func newPlacementPolicy(cfg *config.SchedulerConfig) (placement.Policy, error) {
	switch cfg.Placement {
	case config.PlacementWorkStealing:
		return placement.NewWorkStealing(cfg.CostLoadWeight, cfg.CostRemoteBytesWeight), nil
	case config.PlacementRandom:
		return placement.NewRandom(), nil
	default:
		return nil, fmt.Errorf("unknown placement policy %q (want %q or %q)", cfg.Placement, config.PlacementWorkStealing, config.PlacementRandom)
	}
}
