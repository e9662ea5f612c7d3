package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clickstream/clickstream-etl/internal/config"
)

func newGenerateCmd(g *globalFlags) *cobra.Command {
	var (
		sink       string
		batchSize  int
		delay      time.Duration
		maxBatches int
		seed       int64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Send synthetic clickstream events to the buffer",
		Long: `Generate batches of synthetic events and submit them to the configured
sink until interrupted (SIGINT/SIGTERM) or --max-batches is reached.

Examples:
  # Deliver into the local raw directory
  clickstream generate --sink storage --max-batches 10

  # Send to Firehose every two seconds
  clickstream generate --sink firehose --delay 2s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, _, err := g.openApp(ctx, cmd.ErrOrStderr(), func(cfg *config.Config) {
				f := cmd.Flags()
				if f.Changed("sink") {
					cfg.Generator.Sink = sink
				}
				if f.Changed("batch-size") {
					cfg.Generator.BatchSize = batchSize
				}
				if f.Changed("delay") {
					cfg.Generator.Delay = delay
				}
				if f.Changed("max-batches") {
					cfg.Generator.MaxBatches = maxBatches
				}
				if f.Changed("seed") {
					cfg.Generator.Seed = seed
				}
			})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			gen, err := a.Generator(ctx)
			if err != nil {
				return err
			}
			totals, err := gen.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batches=%d sent=%d failed=%d\n", totals.Batches, totals.Sent, totals.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&sink, "sink", "", "buffer to submit to: firehose, kafka, nats, storage")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "events per batch (max 500)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between batches")
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "stop after this many batches (0 runs until interrupted)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for reproducible events (0 is random)")
	return cmd
}
