// Package cmd provides the command-line interface for dagsched.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dagsched/internal/dslog"
)

var rootCmd = &cobra.Command{
	Use:   "dagsched",
	Short: "dagsched is a distributed task scheduler",
	Long:  `dagsched schedules and executes a DAG of tasks across a cluster of workers, with peer-to-peer data transfer and work-stealing placement.`,
}

// Execute runs the root command, exiting the process with a non-zero status
// on any error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newHealthCheckCmd())
	rootCmd.AddCommand(newSchedulerCmd())
	rootCmd.AddCommand(newWorkerCmd())
}

// setupSignals wraps ctx so that SIGINT/SIGTERM cancel it, logging the
// signal once via logger.
func setupSignals(ctx context.Context, logger dslog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info("received termination signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newLogger(level string, jsonLogs bool) dslog.Logger {
	lvl := dslog.ParseLevel(level)
	if jsonLogs {
		return dslog.NewJSON(lvl)
	}
	return dslog.New(lvl)
}
