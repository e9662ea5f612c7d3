package manifest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/partition"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "catalog.db"), nil)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func testTable() TableDef {
	return TableDef{
		Database:      "clickstream_db",
		Table:         "clickstream_events",
		Location:      "s3://transformed/clickstream_events",
		Format:        "sqlite+snappy",
		PartitionKeys: []string{"year", "month", "day"},
		Schema:        partition.DefaultSchema(),
	}
}

func testInfo(id string, key types.PartitionKey, rows int64) *partition.PartitionInfo {
	return &partition.PartitionInfo{
		PartitionID:   id,
		Key:           key,
		RowCount:      rows,
		SizeBytes:     rows * 100,
		TotalRevenue:  42.5,
		SchemaVersion: 1,
		CreatedAt:     time.Unix(1705312200, 0),
		MinMaxStats: map[string]partition.MinMax{
			types.FieldEventTimestamp: {Min: "2024-01-15T08:00:00Z", Max: "2024-01-15T10:30:00Z"},
		},
	}
}

func testRegistration(key types.PartitionKey, id, source string) Registration {
	path := fmt.Sprintf("clickstream_events/%s/%s.sqlite", key.Path(), id)
	return Registration{
		Database:     "clickstream_db",
		Table:        "clickstream_events",
		ObjectPath:   path,
		MetadataPath: partition.GenerateMetadataPath(path),
		Source:       source,
	}
}

func TestCatalog_RegisterTable(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	def := testTable()

	if err := catalog.RegisterTable(ctx, def); err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}
	// Registering again is an update
	if err := catalog.RegisterTable(ctx, def); err != nil {
		t.Fatalf("second RegisterTable failed: %v", err)
	}

	got, err := catalog.GetTable(ctx, def.Database, def.Table)
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if got.Location != def.Location || got.Format != def.Format {
		t.Errorf("unexpected table %+v", got)
	}
	if len(got.PartitionKeys) != 3 || got.PartitionKeys[2] != "day" {
		t.Errorf("unexpected partition keys %v", got.PartitionKeys)
	}
	if len(got.Schema.Columns) != len(def.Schema.Columns) {
		t.Errorf("schema has %d columns, want %d", len(got.Schema.Columns), len(def.Schema.Columns))
	}
}

func TestCatalog_RegisterTableMismatch(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	if err := catalog.RegisterTable(ctx, testTable()); err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}

	moved := testTable()
	moved.Location = "s3://elsewhere/clickstream_events"
	err := catalog.RegisterTable(ctx, moved)
	if err == nil {
		t.Fatal("expected error for a moved table")
	}
	if perrors.GetCode(err) != perrors.CodeTableMismatch {
		t.Errorf("expected TABLE_MISMATCH, got %v", err)
	}

	rekeyed := testTable()
	rekeyed.PartitionKeys = []string{"date"}
	if err := catalog.RegisterTable(ctx, rekeyed); err == nil {
		t.Error("expected error for changed partition keys")
	}
}

func TestCatalog_GetTableNotFound(t *testing.T) {
	catalog := newTestCatalog(t)

	_, err := catalog.GetTable(context.Background(), "nope", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_RegisterAndGetPartition(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	if err := catalog.RegisterTable(ctx, testTable()); err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}

	key := types.PartitionKey{Year: "2024", Month: "01", Day: "15"}
	info := testInfo("20240115-0001", key, 1000)
	reg := testRegistration(key, info.PartitionID, "raw/year=2024/month=01/day=15/a.json.gz")

	if err := catalog.RegisterPartition(ctx, info, reg); err != nil {
		t.Fatalf("RegisterPartition failed: %v", err)
	}

	record, err := catalog.GetPartition(ctx, info.PartitionID)
	if err != nil {
		t.Fatalf("GetPartition failed: %v", err)
	}

	if record.Key != key {
		t.Errorf("key mismatch: got %+v, want %+v", record.Key, key)
	}
	if record.RowCount != 1000 {
		t.Errorf("row_count mismatch: got %d, want 1000", record.RowCount)
	}
	if record.ObjectPath != reg.ObjectPath || record.MetadataPath != reg.MetadataPath {
		t.Errorf("unexpected paths %s, %s", record.ObjectPath, record.MetadataPath)
	}
	if record.Source != reg.Source {
		t.Errorf("source mismatch: got %s", record.Source)
	}
	if record.MinEventTimestamp == nil || *record.MinEventTimestamp != "2024-01-15T08:00:00Z" {
		t.Errorf("unexpected min_event_timestamp %v", record.MinEventTimestamp)
	}
	if record.TotalRevenue != 42.5 {
		t.Errorf("total_revenue mismatch: got %v", record.TotalRevenue)
	}
	if !record.CreatedAt.Equal(info.CreatedAt) {
		t.Errorf("created_at mismatch: got %v", record.CreatedAt)
	}
}

func TestCatalog_RegisterPartitionUnknownTable(t *testing.T) {
	catalog := newTestCatalog(t)
	key := types.PartitionKey{Year: "2024", Month: "01", Day: "15"}
	info := testInfo("orphan", key, 1)

	err := catalog.RegisterPartition(context.Background(), info, testRegistration(key, "orphan", "x"))
	if err == nil {
		t.Fatal("expected error registering into an unknown table")
	}
	if !perrors.IsRetryable(err) {
		t.Errorf("catalog registration errors should be retryable: %v", err)
	}
}

func TestCatalog_DuplicatePartitionID(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	if err := catalog.RegisterTable(ctx, testTable()); err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}

	key := types.PartitionKey{Year: "2024", Month: "01", Day: "15"}
	info := testInfo("dup", key, 5)
	if err := catalog.RegisterPartition(ctx, info, testRegistration(key, "dup", "a")); err != nil {
		t.Fatalf("RegisterPartition failed: %v", err)
	}
	if err := catalog.RegisterPartition(ctx, info, testRegistration(key, "dup", "a")); err == nil {
		t.Error("expected error for duplicate partition id")
	}
}

func TestCatalog_ListPartitions(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	if err := catalog.RegisterTable(ctx, testTable()); err != nil {
		t.Fatalf("RegisterTable failed: %v", err)
	}

	jan15 := types.PartitionKey{Year: "2024", Month: "01", Day: "15"}
	jan16 := types.PartitionKey{Year: "2024", Month: "01", Day: "16"}
	def := types.DefaultPartitionKey()

	entries := []struct {
		id  string
		key types.PartitionKey
	}{
		{"p1", jan15},
		{"p2", jan16},
		{"p3", jan15},
		{"p4", def},
	}
	for _, e := range entries {
		info := testInfo(e.id, e.key, 10)
		if err := catalog.RegisterPartition(ctx, info, testRegistration(e.key, e.id, "bulk-job")); err != nil {
			t.Fatalf("RegisterPartition(%s) failed: %v", e.id, err)
		}
	}

	all, err := catalog.ListPartitions(ctx, PartitionFilter{Database: "clickstream_db", Table: "clickstream_events"})
	if err != nil {
		t.Fatalf("ListPartitions failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 partitions, got %d", len(all))
	}
	// Same created_at, so ordering falls back to partition_id
	if all[0].PartitionID != "p1" || all[3].PartitionID != "p4" {
		t.Errorf("unexpected order: %s..%s", all[0].PartitionID, all[3].PartitionID)
	}

	day, err := catalog.ListPartitions(ctx, PartitionFilter{Year: "2024", Month: "01", Day: "15"})
	if err != nil {
		t.Fatalf("ListPartitions failed: %v", err)
	}
	if len(day) != 2 {
		t.Errorf("expected 2 partitions for 2024-01-15, got %d", len(day))
	}

	defaults, err := catalog.ListPartitions(ctx, PartitionFilter{Year: types.DefaultPartitionValue})
	if err != nil {
		t.Fatalf("ListPartitions failed: %v", err)
	}
	if len(defaults) != 1 || !defaults[0].Key.IsDefault() {
		t.Errorf("expected the default partition, got %+v", defaults)
	}

	none, err := catalog.ListPartitions(ctx, PartitionFilter{Source: "raw/other.json"})
	if err != nil {
		t.Fatalf("ListPartitions failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no partitions for unknown source, got %d", len(none))
	}
}

func TestCatalog_GetPartitionNotFound(t *testing.T) {
	catalog := newTestCatalog(t)

	_, err := catalog.GetPartition(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
