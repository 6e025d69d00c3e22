package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dqlfmt/internal/workspace"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var metricsAddr string

// watchCmd keeps files formatted as they change
var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Watch paths and format embedded DQL on every save",
	Long: `Watches the given directories (default: the current directory) and
rewrites changed files in place. Runs until interrupted.

With --metrics-addr (or watch.metrics_addr in the config file), Prometheus
metrics are served on http://<addr>/metrics.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	watchCmd.Flags().BoolVar(&noCache, "no-cache", false, "Do not use the formatter cache")
}

func runWatch(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	roots := args
	if len(roots) == 0 {
		roots = []string{"."}
	}
	addr := metricsAddr
	if addr == "" {
		addr = cfg.Watch.MetricsAddr
	}

	tc, err := newToolchain(ctx, cfg, !noCache)
	if err != nil {
		return err
	}
	defer tc.Close()

	runner := workspace.NewRunner(tc.engine, cfg.Files, workspace.ModeWrite, nil)
	runner.Recorder = tc.metrics
	w, err := workspace.NewWatcher(runner, roots, cfg.GetWatchDebounce())
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	w.OnResult = func(res workspace.Result) {
		switch {
		case res.Err != nil:
			fmt.Fprintf(errOut, "dqlfmt: %v\n", res.Err)
		case res.Changed:
			fmt.Fprintf(out, "formatted %s\n", res.Path)
		}
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()
	fmt.Fprintf(out, "Watching %v (Ctrl+C to stop)\n", roots)

	g, gctx := errgroup.WithContext(ctx)
	if addr != "" {
		g.Go(func() error {
			return tc.metrics.Serve(gctx, addr)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	stats := w.Stats()
	fmt.Fprintf(out, "\nStopped: %d events, %d files formatted, %d errors\n",
		stats.Events, stats.Formatted, stats.Errors)
	return nil
}
