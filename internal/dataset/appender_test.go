package dataset

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/manifest"
	"github.com/clickstream/clickstream-etl/internal/observability"
	"github.com/clickstream/clickstream-etl/internal/partition"
	"github.com/clickstream/clickstream-etl/internal/storage"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

type fixture struct {
	store    *storage.LocalStorage
	catalog  *manifest.SQLiteCatalog
	appender *Appender
	metrics  *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewLocalStorage(filepath.Join(dir, "transformed"))
	require.NoError(t, err)
	catalog, err := manifest.NewCatalog(filepath.Join(dir, "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	metrics := observability.NewMetricsForTesting()
	appender := NewAppender(store, catalog, Config{
		Database: "clickstream_db",
		Table:    "clickstream_events",
		Location: store.BasePath(),
		Prefix:   "clickstream_events",
		WorkDir:  filepath.Join(dir, "work"),
	}, nil, metrics)

	return &fixture{store: store, catalog: catalog, appender: appender, metrics: metrics}
}

func events(ids ...string) []types.NormalizedEvent {
	out := make([]types.NormalizedEvent, len(ids))
	for i, id := range ids {
		out[i] = types.NormalizedEvent{
			EventID:        id,
			EventType:      "page_view",
			EventTimestamp: "2024-01-15T10:30:00Z",
			UserID:         "user_1",
			Quantity:       1,
			Calendar: &types.Calendar{
				Year: "2024", Month: "01", Day: "15", Hour: "10",
				DayOfWeek: "Monday", Date: "2024-01-15",
			},
		}
	}
	return out
}

var jan15 = types.PartitionKey{Year: "2024", Month: "01", Day: "15"}

func TestAppender_Append(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.appender.Append(ctx, jan15, events("a", "b", "c"), "raw/a.json")
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.RowCount)
	assert.Equal(t, "clickstream_events/year=2024/month=01/day=15/"+res.PartitionID+".sqlite", res.ObjectPath)
	assert.Equal(t, partition.GenerateMetadataPath(res.ObjectPath), res.MetadataPath)

	// The uploaded file is a readable partition
	db, err := sql.Open("sqlite3", filepath.Join(f.store.BasePath(), filepath.FromSlash(res.ObjectPath)))
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM clickstream_events").Scan(&count))
	assert.Equal(t, 3, count)

	rec, err := f.catalog.GetPartition(ctx, res.PartitionID)
	require.NoError(t, err)
	assert.Equal(t, jan15, rec.Key)
	assert.Equal(t, "raw/a.json", rec.Source)
	assert.Equal(t, res.ObjectPath, rec.ObjectPath)

	table, err := f.catalog.GetTable(ctx, "clickstream_db", "clickstream_events")
	require.NoError(t, err)
	assert.Equal(t, Format, table.Format)
	assert.Equal(t, PartitionKeys, table.PartitionKeys)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PartitionsAppended))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.RecordsWritten))
}

func TestAppender_AppendNeverReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.appender.Append(ctx, jan15, events("a"), "raw/a.json")
	require.NoError(t, err)
	second, err := f.appender.Append(ctx, jan15, events("a"), "raw/a.json")
	require.NoError(t, err)
	assert.NotEqual(t, first.ObjectPath, second.ObjectPath)

	objects, err := f.store.ListObjects(ctx, "clickstream_events/year=2024/month=01/day=15/")
	require.NoError(t, err)
	assert.Len(t, objects, 4) // two partition files plus two sidecars

	records, err := f.catalog.ListPartitions(ctx, manifest.PartitionFilter{Day: "15"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestAppender_DefaultPartition(t *testing.T) {
	f := newFixture(t)

	res, err := f.appender.Append(context.Background(), types.DefaultPartitionKey(),
		[]types.NormalizedEvent{{EventID: "x", EventTimestamp: "garbage"}}, "bulk")
	require.NoError(t, err)
	assert.Contains(t, res.ObjectPath, "year=__HIVE_DEFAULT_PARTITION__/month=__HIVE_DEFAULT_PARTITION__/")
}

func TestAppender_EmptyBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.appender.Append(context.Background(), jan15, nil, "raw/a.json")
	require.Error(t, err)
	assert.Equal(t, perrors.CodeEmptyBatch, perrors.GetCode(err))
}

type failingCatalog struct {
	manifest.Catalog
}

func (failingCatalog) RegisterTable(context.Context, manifest.TableDef) error { return nil }

func (failingCatalog) RegisterPartition(context.Context, *partition.PartitionInfo, manifest.Registration) error {
	return perrors.NewCatalogError(perrors.CodeRegisterFailed, "catalog down", errors.New("boom"))
}

func TestAppender_RegistrationFailureRemovesObjects(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	appender := NewAppender(store, failingCatalog{}, Config{
		Database: "db", Table: "t", Prefix: "t", WorkDir: t.TempDir(),
	}, nil, nil)

	_, err = appender.Append(context.Background(), jan15, events("a"), "raw/a.json")
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))

	objects, err := store.ListObjects(context.Background(), "t/")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestAppender_Locate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.appender.Append(ctx, jan15, events("evt-1", "evt-2"), "raw/a.json")
	require.NoError(t, err)
	_, err = f.appender.Append(ctx, types.PartitionKey{Year: "2024", Month: "01", Day: "16"}, events("evt-3"), "raw/b.json")
	require.NoError(t, err)

	matches, err := f.appender.Locate(ctx, manifest.PartitionFilter{}, "evt-2")
	require.NoError(t, err)

	found := false
	for _, m := range matches {
		if m.PartitionID == first.PartitionID {
			found = true
		}
	}
	assert.True(t, found, "Locate must return the partition holding evt-2")

	matches, err = f.appender.Locate(ctx, manifest.PartitionFilter{Day: "16"}, "evt-1")
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, "16", m.Key.Day)
	}
}
