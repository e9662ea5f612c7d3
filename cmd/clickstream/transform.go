package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/clickstream/clickstream-etl/internal/runner/batch"
)

func newTransformCmd(g *globalFlags) *cobra.Command {
	var bucket string

	cmd := &cobra.Command{
		Use:   "transform <key>...",
		Short: "Transform raw objects one at a time",
		Long: `Run the per-object transform on the given raw object keys, in order.
Each object's records are appended as one partition file. The first
failure stops the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := g.openApp(ctx, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			refs := make([]batch.ObjectRef, len(args))
			for i, key := range args {
				refs[i] = batch.ObjectRef{Bucket: bucket, Key: key}
			}

			resp, err := a.BatchRunner().Process(ctx, refs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "read keys from this S3 bucket instead of the configured raw storage")
	return cmd
}
