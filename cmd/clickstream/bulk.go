package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clickstream/clickstream-etl/internal/config"
)

func newBulkCmd(g *globalFlags) *cobra.Command {
	var (
		jobName     string
		prefix      string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Transform the whole raw dataset once",
		Long: `Read every raw object under the source prefix, de-duplicate events by
event_id (the last occurrence wins) and append one partition file per day.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, _, err := g.openApp(ctx, cmd.ErrOrStderr(), func(cfg *config.Config) {
				f := cmd.Flags()
				if f.Changed("job-name") {
					cfg.Bulk.JobName = jobName
				}
				if f.Changed("prefix") {
					cfg.Bulk.SourcePrefix = prefix
				}
				if f.Changed("concurrency") {
					cfg.Bulk.ReadConcurrency = concurrency
				}
			})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			summary, err := a.BulkRunner().Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "objects=%d lines=%d skipped=%d records=%d duplicates=%d written=%d\n",
				summary.Objects, summary.Lines, summary.Skipped, summary.Records, summary.Duplicates, summary.Written)
			for _, p := range summary.Partitions {
				fmt.Fprintf(out, "%s\t%d\t%s\n", p.Key.Path(), p.RowCount, p.ObjectPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jobName, "job-name", "", "job name recorded as the partition source")
	cmd.Flags().StringVar(&prefix, "prefix", "", "raw key prefix to read")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel object reads")
	return cmd
}
