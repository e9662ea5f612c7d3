// Package app wires configuration into the clickstream pipeline components
// and owns their shared resources.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/clickstream/clickstream-etl/internal/buffer"
	"github.com/clickstream/clickstream-etl/internal/config"
	"github.com/clickstream/clickstream-etl/internal/dataset"
	"github.com/clickstream/clickstream-etl/internal/generator"
	"github.com/clickstream/clickstream-etl/internal/manifest"
	"github.com/clickstream/clickstream-etl/internal/observability"
	"github.com/clickstream/clickstream-etl/internal/runner/batch"
	"github.com/clickstream/clickstream-etl/internal/runner/bulk"
	"github.com/clickstream/clickstream-etl/internal/server"
	"github.com/clickstream/clickstream-etl/internal/storage"
	"github.com/clickstream/clickstream-etl/internal/trigger"
)

// App holds the resources shared by the pipeline components.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	raw         storage.ObjectStorage
	transformed storage.ObjectStorage
	catalog     manifest.Catalog
	appender    *dataset.Appender
	shutdown    *server.ShutdownManager

	// s3ByBucket caches raw storages for buckets named in notifications
	mu         sync.Mutex
	s3ByBucket map[string]storage.ObjectStorage
}

// New resolves and validates cfg, then opens storage and the catalog.
// metrics may be nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		clock:      clockwork.NewRealClock(),
		shutdown:   server.NewShutdownManager(server.DefaultShutdownConfig(), logger),
		s3ByBucket: make(map[string]storage.ObjectStorage),
	}
	if err := a.initSharedResources(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// initSharedResources opens both storages, the catalog and the appender.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	a.raw, err = openStorage(ctx, a.cfg.RawStorage)
	if err != nil {
		return fmt.Errorf("failed to initialize raw storage: %w", err)
	}
	if a.cfg.RawStorage.Type == config.StorageS3 {
		a.s3ByBucket[a.cfg.RawStorage.S3.Bucket] = a.raw
	}

	a.transformed, err = openStorage(ctx, a.cfg.TransformedStorage)
	if err != nil {
		return fmt.Errorf("failed to initialize transformed storage: %w", err)
	}
	a.logger.Info("storage initialized",
		"raw", a.cfg.RawStorage.Type,
		"transformed", a.cfg.TransformedStorage.Type,
	)

	catalog, err := manifest.NewCatalog(a.cfg.Catalog.Path, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	a.catalog = catalog
	a.shutdown.RegisterCloser("catalog", catalog)
	a.logger.Info("catalog initialized", "path", a.cfg.Catalog.Path)

	a.appender = dataset.NewAppender(a.transformed, a.catalog, dataset.Config{
		Database: a.cfg.Catalog.Database,
		Table:    a.cfg.Catalog.Table,
		Location: location(a.cfg.TransformedStorage),
		Prefix:   a.cfg.TransformedStorage.Prefix,
		WorkDir:  a.cfg.Batch.WorkDir,
	}, a.logger, a.metrics)
	return nil
}

func openStorage(ctx context.Context, sc config.StorageConfig) (storage.ObjectStorage, error) {
	switch sc.Type {
	case config.StorageLocal:
		return storage.NewLocalStorage(sc.Path)
	case config.StorageS3:
		return storage.NewS3Storage(ctx, sc.S3.Bucket, s3Config(sc.S3))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sc.Type)
	}
}

// s3Config leaves Region empty when unset so the AWS default chain
// (AWS_REGION inside Lambda) decides.
func s3Config(c config.S3Config) storage.S3Config {
	return storage.S3Config{
		Region:       c.Region,
		Endpoint:     c.Endpoint,
		UsePathStyle: c.UsePathStyle,
	}
}

// location renders the table root reported to the catalog.
func location(sc config.StorageConfig) string {
	if sc.Type == config.StorageS3 {
		return "s3://" + strings.TrimSuffix(sc.S3.Bucket+"/"+sc.Prefix, "/") + "/"
	}
	return sc.Path
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Appender returns the dataset appender.
func (a *App) Appender() *dataset.Appender { return a.appender }

// Catalog returns the partition catalog.
func (a *App) Catalog() manifest.Catalog { return a.catalog }

// RawStorage returns the configured raw storage.
func (a *App) RawStorage() storage.ObjectStorage { return a.raw }

// resolveRaw returns the storage for a bucket named in an object
// notification, opening and caching an S3 client per bucket.
func (a *App) resolveRaw(ctx context.Context, bucket string) (storage.ObjectStorage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.s3ByBucket[bucket]; ok {
		return s, nil
	}
	s3Cfg := a.cfg.RawStorage.S3
	s3Cfg.Bucket = bucket
	s, err := storage.NewS3Storage(ctx, bucket, s3Config(s3Cfg))
	if err != nil {
		return nil, err
	}
	a.s3ByBucket[bucket] = s
	return s, nil
}

// BatchRunner returns a per-object runner reading the configured raw
// storage, or the bucket an S3 notification names.
func (a *App) BatchRunner() *batch.Runner {
	return a.batchRunner(a.raw)
}

func (a *App) batchRunner(raw storage.ObjectStorage) *batch.Runner {
	return batch.NewRunner(batch.Options{
		Raw:      raw,
		Resolve:  a.resolveRaw,
		Appender: a.appender,
		Clock:    a.clock,
		Logger:   a.logger.With("component", "batch"),
		Metrics:  a.metrics,
	})
}

// BulkRunner returns the whole-dataset runner. The source prefix defaults
// to the raw storage prefix.
func (a *App) BulkRunner() *bulk.Runner {
	prefix := a.cfg.Bulk.SourcePrefix
	if prefix == "" {
		prefix = a.cfg.RawStorage.Prefix
	}
	return bulk.NewRunner(bulk.Options{
		Raw:          a.raw,
		SourcePrefix: prefix,
		JobName:      a.cfg.Bulk.JobName,
		Concurrency:  a.cfg.Bulk.ReadConcurrency,
		Appender:     a.appender,
		Logger:       a.logger.With("component", "bulk"),
		Metrics:      a.metrics,
	})
}

// Watcher returns a local trigger over the configured watch directory,
// feeding a batch runner that reads from the same directory.
func (a *App) Watcher() (*trigger.Watcher, error) {
	store, err := storage.NewLocalStorage(a.cfg.Trigger.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open watch directory: %w", err)
	}
	return trigger.NewWatcher(store, a.batchRunner(store), trigger.Options{
		Attempts:   a.cfg.Trigger.Attempts,
		RetryDelay: a.cfg.Trigger.RetryDelay,
		Settle:     a.cfg.Trigger.Settle,
		Clock:      a.clock,
		Logger:     a.logger.With("component", "trigger"),
	}), nil
}

// Sink opens the configured generator sink and registers it for shutdown.
func (a *App) Sink(ctx context.Context) (buffer.Sink, error) {
	gc := a.cfg.Generator
	var (
		sink buffer.Sink
		err  error
	)
	switch gc.Sink {
	case config.SinkFirehose:
		sink, err = buffer.NewFirehoseSink(ctx, gc.DeliveryStream, gc.Region)
	case config.SinkKafka:
		sink = buffer.NewKafkaSink(gc.Kafka.Brokers, gc.Kafka.Topic)
	case config.SinkNATS:
		nc := buffer.DefaultNATSConfig()
		nc.URL = gc.NATS.URL
		nc.Subject = gc.NATS.Subject
		nc.Stream = gc.NATS.Stream
		nc.MaxAge = gc.NATS.MaxAge
		sink, err = buffer.NewNATSSink(ctx, nc, a.logger)
	case config.SinkStorage:
		sink = buffer.NewStorageSink(a.raw, a.cfg.RawStorage.Prefix, gc.DeliveryStream, a.clock)
	default:
		err = fmt.Errorf("unsupported sink: %s", gc.Sink)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s sink: %w", gc.Sink, err)
	}
	a.shutdown.RegisterCloser(gc.Sink+" sink", sink)
	a.logger.Info("sink opened", "sink", gc.Sink)
	return sink, nil
}

// Generator returns a generator submitting to the configured sink.
func (a *App) Generator(ctx context.Context) (*generator.Generator, error) {
	sink, err := a.Sink(ctx)
	if err != nil {
		return nil, err
	}
	gc := a.cfg.Generator
	return generator.New(sink, generator.Config{
		BatchSize:  gc.BatchSize,
		Delay:      gc.Delay,
		MaxBatches: gc.MaxBatches,
		Seed:       gc.Seed,
	}, a.clock, a.logger.With("component", "generator"), a.metrics), nil
}

// ServeMetrics starts the metrics endpoint when metrics.addr is set.
func (a *App) ServeMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	server.NewMetricsServer(a.cfg.Metrics.Addr, a.shutdown, a.logger).Start()
}

// Close releases every resource the app opened.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx, "app closed")
}
