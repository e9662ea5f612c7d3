// Package partition writes the immutable partition files of the transformed
// clickstream dataset and decides which year/month/day partition a batch of
// events belongs to.
package partition

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/clickstream/clickstream-etl/pkg/types"
)

const (
	// TableName is the table holding events inside a partition file.
	TableName = "clickstream_events"

	// RecordColumn holds the snappy-compressed JSON form of each event.
	RecordColumn = "record"

	// FileExtension is the suffix of partition files.
	FileExtension = ".sqlite"
)

// PartitionBuilder creates partition files from normalized events.
type PartitionBuilder interface {
	// Build creates a partition with the default schema.
	Build(ctx context.Context, events []types.NormalizedEvent, key types.PartitionKey) (*PartitionInfo, error)
}

// PartitionInfo describes a built partition file.
type PartitionInfo struct {
	PartitionID   string
	Key           types.PartitionKey
	SQLitePath    string
	MetadataPath  string
	RowCount      int64
	SizeBytes     int64
	MinMaxStats   map[string]MinMax
	TotalRevenue  float64
	EventTypes    map[string]int64
	SchemaVersion int
	CreatedAt     time.Time
}

// FileName returns the object name of the partition file.
func (p *PartitionInfo) FileName() string {
	return p.PartitionID + FileExtension
}

// MinMax holds min/max values for a column.
type MinMax struct {
	Min interface{}
	Max interface{}
}

// Builder implements PartitionBuilder on SQLite.
type Builder struct {
	outputDir string
}

// NewBuilder creates a builder writing files into outputDir.
func NewBuilder(outputDir string) *Builder {
	return &Builder{outputDir: outputDir}
}

// Build creates a partition using DefaultSchema.
func (b *Builder) Build(ctx context.Context, events []types.NormalizedEvent, key types.PartitionKey) (*PartitionInfo, error) {
	return b.build(ctx, events, key, DefaultSchema())
}

// build creates a partition with an explicit schema. Each schema
// column is filled from the event's mapping form; RecordColumn receives the
// compressed JSON of the whole event.
func (b *Builder) build(ctx context.Context, events []types.NormalizedEvent, key types.PartitionKey, schema types.Schema) (*PartitionInfo, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("partition: cannot build partition with no events")
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("partition: schema has no columns")
	}

	partitionID := fmt.Sprintf("%s-%s", key.String(), uuid.New().String())
	createdAt := time.Now()

	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("partition: failed to create output directory: %w", err)
	}

	sqlitePath := filepath.Clean(filepath.Join(b.outputDir, partitionID+FileExtension))

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL(schema)); err != nil {
		return nil, fmt.Errorf("partition: failed to create %s table: %w", TableName, err)
	}
	for _, idx := range schema.Indexes {
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s(%s)", idx.Name, TableName, strings.Join(idx.Columns, ", "))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("partition: failed to create index %s: %w", idx.Name, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(schema))
	if err != nil {
		return nil, fmt.Errorf("partition: failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	stats := NewStatsTracker()
	for i, ev := range events {
		args, err := rowValues(schema, ev)
		if err != nil {
			return nil, fmt.Errorf("partition: event %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("partition: failed to insert event %d: %w", i, err)
		}
		stats.Update(ev)
	}

	metaSQL := `CREATE TABLE _partition_meta (
		partition_id TEXT NOT NULL,
		year TEXT NOT NULL,
		month TEXT NOT NULL,
		day TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		row_count INTEGER NOT NULL
	)`
	if _, err := tx.ExecContext(ctx, metaSQL); err != nil {
		return nil, fmt.Errorf("partition: failed to create meta table: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _partition_meta VALUES (?, ?, ?, ?, ?, ?)`,
		partitionID, key.Year, key.Month, key.Day, schema.Version, len(events),
	); err != nil {
		return nil, fmt.Errorf("partition: failed to write meta row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("partition: failed to commit: %w", err)
	}

	// Checkpoint WAL and switch to DELETE mode so the file is self-contained
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("partition: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode to DELETE: %w", err)
	}

	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("partition: failed to close database: %w", err)
	}

	fileInfo, err := os.Stat(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to stat SQLite file: %w", err)
	}

	return &PartitionInfo{
		PartitionID:   partitionID,
		Key:           key,
		SQLitePath:    sqlitePath,
		RowCount:      int64(len(events)),
		SizeBytes:     fileInfo.Size(),
		MinMaxStats:   stats.GetMinMaxStats(),
		TotalRevenue:  stats.TotalRevenue(),
		EventTypes:    stats.EventTypeCounts(),
		SchemaVersion: schema.Version,
		CreatedAt:     createdAt,
	}, nil
}

func createTableSQL(schema types.Schema) string {
	defs := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		def := col.Name + " " + col.Type
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", TableName, strings.Join(defs, ",\n\t"))
}

func insertSQL(schema types.Schema) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(schema.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		TableName, strings.Join(schema.ColumnNames(), ", "), placeholders)
}

func rowValues(schema types.Schema, ev types.NormalizedEvent) ([]interface{}, error) {
	fields := ev.Fields()
	args := make([]interface{}, len(schema.Columns))
	for i, col := range schema.Columns {
		if col.Name == RecordColumn {
			data, err := json.Marshal(fields)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal record: %w", err)
			}
			args[i] = snappy.Encode(nil, data)
			continue
		}
		v, ok := fields[col.Name]
		if !ok {
			if !col.Nullable {
				return nil, fmt.Errorf("column %q is required", col.Name)
			}
			v = nil
		}
		args[i] = v
	}
	return args, nil
}

// DecodeRecord reverses the RecordColumn encoding.
func DecodeRecord(blob []byte) (map[string]interface{}, error) {
	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("partition: snappy decode failed: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("partition: invalid record JSON: %w", err)
	}
	return m, nil
}

// DefaultSchema returns the schema of the clickstream_events table.
func DefaultSchema() types.Schema {
	return types.Schema{
		Version: 1,
		Columns: []types.ColumnDef{
			{Name: types.FieldEventID, Type: types.ColumnText},
			{Name: types.FieldEventType, Type: types.ColumnText},
			{Name: types.FieldEventTimestamp, Type: types.ColumnText},
			{Name: types.FieldUserID, Type: types.ColumnText},
			{Name: types.FieldSessionID, Type: types.ColumnText},
			{Name: types.FieldPageURL, Type: types.ColumnText},
			{Name: types.FieldProductID, Type: types.ColumnText},
			{Name: types.FieldProductName, Type: types.ColumnText},
			{Name: types.FieldProductCategory, Type: types.ColumnText},
			{Name: types.FieldProductPrice, Type: types.ColumnReal},
			{Name: types.FieldQuantity, Type: types.ColumnInteger},
			{Name: types.FieldDeviceType, Type: types.ColumnText},
			{Name: types.FieldBrowser, Type: types.ColumnText},
			{Name: types.FieldCountry, Type: types.ColumnText},
			{Name: types.FieldCity, Type: types.ColumnText},
			{Name: types.FieldYear, Type: types.ColumnText, Nullable: true},
			{Name: types.FieldMonth, Type: types.ColumnText, Nullable: true},
			{Name: types.FieldDay, Type: types.ColumnText, Nullable: true},
			{Name: types.FieldHour, Type: types.ColumnText, Nullable: true},
			{Name: types.FieldDayOfWeek, Type: types.ColumnText, Nullable: true},
			{Name: types.FieldDate, Type: types.ColumnText, Nullable: true},
			{Name: types.FieldRevenue, Type: types.ColumnReal},
			{Name: RecordColumn, Type: types.ColumnBlob},
		},
		Indexes: []types.IndexDef{
			{Name: "idx_events_event_id", Columns: []string{types.FieldEventID}},
			{Name: "idx_events_user_time", Columns: []string{types.FieldUserID, types.FieldEventTimestamp}},
			{Name: "idx_events_type", Columns: []string{types.FieldEventType}},
		},
	}
}
