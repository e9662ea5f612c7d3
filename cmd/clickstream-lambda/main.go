// Package main is the per-object transform as an AWS Lambda function,
// invoked by S3 object-created notifications on the raw bucket.
//
// Configuration comes from the environment: TRANSFORMED_BUCKET (required),
// RAW_BUCKET, and the CLICKSTREAM_* variables. Returning an error lets the
// platform retry the notification.
//
// The catalog is a SQLite file under /tmp. It lives only as long as the
// execution environment, so partition registrations made here are not
// visible to `clickstream partitions`; the partition files and their
// sidecars in the transformed bucket are the durable record. Rebuild a
// catalog from them with a bulk run if one is needed.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/clickstream/clickstream-etl/internal/app"
	"github.com/clickstream/clickstream-etl/internal/config"
	"github.com/clickstream/clickstream-etl/internal/observability"
)

// lambdaDataDir is the only writable location in the Lambda sandbox.
const lambdaDataDir = "/tmp/clickstream"

func loadConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = lambdaDataDir
	config.LoadFromEnv(cfg)
	return cfg
}

func main() {
	cfg := loadConfig()
	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.TransformedStorage.Type != config.StorageS3 {
		logger.Error("TRANSFORMED_BUCKET is not set")
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		logger.Error("failed to initialize", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Close(ctx)

	lambda.Start(a.BatchRunner().HandleS3Event)
}
