package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clickstream/clickstream-etl/internal/manifest"
)

func newPartitionsCmd(g *globalFlags) *cobra.Command {
	var (
		filter  manifest.PartitionFilter
		eventID string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "List partition files registered in the catalog",
		Long: `List the catalog's partition files for the configured table, optionally
filtered by date, source, or files that may contain an event_id.

Examples:
  clickstream partitions --year 2024 --month 1
  clickstream partitions --event-id 6f1c0c8e-5b7e-4c55-a0f1-1b3b7c1d2e3f`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, _, err := g.openApp(ctx, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			cfg := a.Config()
			filter.Database = cfg.Catalog.Database
			filter.Table = cfg.Catalog.Table
			for _, v := range []*string{&filter.Month, &filter.Day} {
				*v = padDatePart(*v)
			}

			var records []*manifest.PartitionRecord
			if eventID != "" {
				records, err = a.Appender().Locate(ctx, filter, eventID)
			} else {
				records, err = a.Catalog().ListPartitions(ctx, filter)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return printPartitions(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&filter.Year, "year", "", "partition year (YYYY)")
	cmd.Flags().StringVar(&filter.Month, "month", "", "partition month (1-12 or MM)")
	cmd.Flags().StringVar(&filter.Day, "day", "", "partition day (1-31 or DD)")
	cmd.Flags().StringVar(&filter.Source, "source", "", "raw object key or bulk job name")
	cmd.Flags().StringVar(&eventID, "event-id", "", "only files whose bloom filter may contain this event_id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// padDatePart turns "1" into "01"; anything non-numeric is kept as is.
func padDatePart(v string) string {
	if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 100 {
		return fmt.Sprintf("%02d", n)
	}
	return v
}

func printPartitions(w io.Writer, records []*manifest.PartitionRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tROWS\tREVENUE\tSOURCE\tCREATED\tOBJECT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\t%s\t%s\n",
			r.Key.Path(), r.RowCount, r.TotalRevenue, r.Source,
			r.CreatedAt.UTC().Format(time.RFC3339), r.ObjectPath)
	}
	return tw.Flush()
}
