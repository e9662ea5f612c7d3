package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clickstream/clickstream-etl/internal/config"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		dir    string
		settle time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Transform raw objects as they are written to a local directory",
		Long: `Watch the raw directory and run the per-object transform for every new
object, like an object-created notification would. Objects present
before the watch starts are left alone; use bulk for those.

A file is processed once it has gone --settle without writes, so copies
made in place are read whole. Each object is processed at most once per
run: rewriting it after it was processed has no effect.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, logger, err := g.openApp(ctx, cmd.ErrOrStderr(), func(cfg *config.Config) {
				if dir != "" {
					cfg.Trigger.WatchDir = dir
				}
				if cmd.Flags().Changed("settle") {
					cfg.Trigger.Settle = settle
				}
			})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			w, err := a.Watcher()
			if err != nil {
				return err
			}
			err = w.Run(ctx)
			logger.Info("watch stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (default: trigger.watch_dir)")
	cmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "quiet period after the last write before a file is processed")
	return cmd
}
