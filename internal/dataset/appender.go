// Package dataset appends normalized events to the transformed clickstream
// dataset: one partition file per call, uploaded under its Hive-style
// year=/month=/day= prefix and registered in the catalog.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/manifest"
	"github.com/clickstream/clickstream-etl/internal/observability"
	"github.com/clickstream/clickstream-etl/internal/partition"
	"github.com/clickstream/clickstream-etl/internal/storage"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// Format is recorded in the catalog for every table written here.
const Format = "sqlite+snappy"

// PartitionKeys is the partition layout of the transformed table.
var PartitionKeys = []string{types.FieldYear, types.FieldMonth, types.FieldDay}

// Config describes the destination table.
type Config struct {
	Database string
	Table    string
	// Location is the table root as reported to the catalog, e.g.
	// s3://bucket/prefix or a local directory.
	Location string
	// Prefix is prepended to every object path.
	Prefix string
	// WorkDir holds partition files while they are built.
	WorkDir string
}

// AppendResult describes one appended partition file.
type AppendResult struct {
	PartitionID  string
	Key          types.PartitionKey
	ObjectPath   string
	MetadataPath string
	RowCount     int64
}

// Appender writes partition files to object storage and the catalog.
type Appender struct {
	store   storage.ObjectStorage
	catalog manifest.Catalog
	builder partition.PartitionBuilder
	metaGen *partition.MetadataGenerator
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	registered bool
}

// NewAppender creates an appender. logger and metrics may be nil.
func NewAppender(store storage.ObjectStorage, catalog manifest.Catalog, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Appender {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Appender{
		store:   store,
		catalog: catalog,
		builder: partition.NewBuilder(cfg.WorkDir),
		metaGen: partition.NewMetadataGenerator(),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Table returns the catalog definition of the destination table.
func (a *Appender) Table() manifest.TableDef {
	return manifest.TableDef{
		Database:      a.cfg.Database,
		Table:         a.cfg.Table,
		Location:      a.cfg.Location,
		Format:        Format,
		PartitionKeys: PartitionKeys,
		Schema:        partition.DefaultSchema(),
	}
}

// ensureTable registers the table once per appender.
func (a *Appender) ensureTable(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.registered {
		return nil
	}
	if err := a.catalog.RegisterTable(ctx, a.Table()); err != nil {
		return err
	}
	a.registered = true
	return nil
}

// ObjectPath returns where a partition file with the given name is stored.
func (a *Appender) ObjectPath(key types.PartitionKey, fileName string) string {
	return path.Join(a.cfg.Prefix, key.Path(), fileName)
}

// Append writes events as a single new partition file under key. Existing
// files are never replaced. source is recorded in the catalog.
func (a *Appender) Append(ctx context.Context, key types.PartitionKey, events []types.NormalizedEvent, source string) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, perrors.NewValidationError(perrors.CodeEmptyBatch, "no events to append")
	}
	if err := key.Validate(); err != nil {
		return nil, perrors.Wrap(perrors.ErrCategoryValidation, perrors.CodeInvalidPartitionKey, "append", err)
	}
	if err := a.ensureTable(ctx); err != nil {
		return nil, err
	}

	info, err := a.builder.Build(ctx, events, key)
	if err != nil {
		return nil, perrors.NewInternalError("build partition file", err)
	}
	defer os.Remove(info.SQLitePath)

	if _, err := a.metaGen.GenerateAndWrite(info, events); err != nil {
		return nil, perrors.NewInternalError("write partition sidecar", err)
	}
	defer os.Remove(info.MetadataPath)

	objectPath := a.ObjectPath(key, info.FileName())
	metadataPath := partition.GenerateMetadataPath(objectPath)

	if err := a.store.Upload(ctx, info.SQLitePath, objectPath); err != nil {
		return nil, perrors.NewStorageError(perrors.CodeUploadFailed,
			fmt.Sprintf("upload %s", objectPath), err)
	}
	if err := a.store.Upload(ctx, info.MetadataPath, metadataPath); err != nil {
		a.discard(ctx, objectPath)
		return nil, perrors.NewStorageError(perrors.CodeUploadFailed,
			fmt.Sprintf("upload %s", metadataPath), err)
	}

	reg := manifest.Registration{
		Database:     a.cfg.Database,
		Table:        a.cfg.Table,
		ObjectPath:   objectPath,
		MetadataPath: metadataPath,
		Source:       source,
	}
	if err := a.catalog.RegisterPartition(ctx, info, reg); err != nil {
		// Unregistered files are invisible to readers; remove them so a
		// retry does not leave orphans behind.
		a.discard(ctx, objectPath, metadataPath)
		return nil, err
	}

	a.metrics.PartitionsAppended.Inc()
	a.metrics.RecordsWritten.Add(float64(info.RowCount))
	a.logger.Info("partition appended",
		"partition_id", info.PartitionID,
		"partition", key.Path(),
		"rows", info.RowCount,
		"bytes", info.SizeBytes,
		"source", source,
	)

	return &AppendResult{
		PartitionID:  info.PartitionID,
		Key:          key,
		ObjectPath:   objectPath,
		MetadataPath: metadataPath,
		RowCount:     info.RowCount,
	}, nil
}

func (a *Appender) discard(ctx context.Context, objectPaths ...string) {
	for _, p := range objectPaths {
		if err := a.store.Delete(ctx, p); err != nil {
			a.logger.Warn("failed to remove orphaned object", "path", p, "error", err)
		}
	}
}

// Locate returns the partitions matching filter whose event_id bloom filter
// may contain eventID. False positives are possible; misses are not.
func (a *Appender) Locate(ctx context.Context, filter manifest.PartitionFilter, eventID string) ([]*manifest.PartitionRecord, error) {
	if filter.Database == "" {
		filter.Database = a.cfg.Database
	}
	if filter.Table == "" {
		filter.Table = a.cfg.Table
	}

	records, err := a.catalog.ListPartitions(ctx, filter)
	if err != nil {
		return nil, err
	}

	var matches []*manifest.PartitionRecord
	for _, rec := range records {
		data, err := a.store.Get(ctx, rec.MetadataPath)
		if errors.Is(err, storage.ErrObjectNotFound) {
			// Without a sidecar the file cannot be ruled out
			matches = append(matches, rec)
			continue
		}
		if err != nil {
			return nil, perrors.NewStorageError(perrors.CodeDownloadFailed,
				fmt.Sprintf("read %s", rec.MetadataPath), err)
		}
		sidecar, err := partition.FromJSON(data)
		if err != nil {
			return nil, perrors.NewParseError(perrors.CodeInvalidJSON, rec.MetadataPath, err)
		}
		if sidecar.MightContain(types.FieldEventID, eventID) {
			matches = append(matches, rec)
		}
	}
	return matches, nil
}
