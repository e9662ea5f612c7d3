package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/partition"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// ErrNotFound is returned when a table or partition is not registered.
var ErrNotFound = errors.New("manifest: not found")

// Catalog tracks tables and their partition files.
type Catalog interface {
	// RegisterTable creates the table entry or updates its schema version.
	// A different location or partition layout is rejected.
	RegisterTable(ctx context.Context, def TableDef) error

	// GetTable returns a registered table.
	GetTable(ctx context.Context, database, table string) (*TableDef, error)

	// RegisterPartition records one appended partition file.
	RegisterPartition(ctx context.Context, info *partition.PartitionInfo, reg Registration) error

	// GetPartition retrieves a single partition by ID.
	GetPartition(ctx context.Context, partitionID string) (*PartitionRecord, error)

	// ListPartitions returns partitions matching the filter, oldest first.
	ListPartitions(ctx context.Context, filter PartitionFilter) ([]*PartitionRecord, error)

	// Close closes the catalog database connections.
	Close() error
}

// TableDef describes a registered table.
type TableDef struct {
	Database      string
	Table         string
	Location      string
	Format        string
	PartitionKeys []string
	Schema        types.Schema
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Registration names where a partition file was written and what produced it.
type Registration struct {
	Database     string
	Table        string
	ObjectPath   string
	MetadataPath string
	// Source is the raw object key (batch runner) or job name (bulk runner).
	Source string
}

// PartitionRecord represents a partition file in the catalog.
type PartitionRecord struct {
	PartitionID       string
	Database          string
	Table             string
	Key               types.PartitionKey
	ObjectPath        string
	MetadataPath      string
	Source            string
	MinEventTimestamp *string
	MaxEventTimestamp *string
	RowCount          int64
	SizeBytes         int64
	TotalRevenue      float64
	SchemaVersion     int
	CreatedAt         time.Time
}

// PartitionFilter restricts ListPartitions. Empty fields match everything.
type PartitionFilter struct {
	Database string
	Table    string
	Year     string
	Month    string
	Day      string
	Source   string
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Write-only lock
	logger *slog.Logger

	insertPartitionStmt *sql.Stmt
}

// partitionCountWarnThreshold triggers a warning when a single day
// accumulates many small files.
const partitionCountWarnThreshold = 1000

const partitionColumns = `partition_id, database_name, table_name, year, month, day,
	object_path, metadata_path, source, min_event_timestamp, max_event_timestamp,
	row_count, size_bytes, total_revenue, schema_version, created_at`

// NewCatalog opens (creating if needed) the catalog at dbPath.
func NewCatalog(dbPath string, logger *slog.Logger) (*SQLiteCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}

	// Schema first so the read pool opens an existing file
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	insertStmt, err := db.Prepare(`INSERT INTO partitions (` + partitionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare insert statement: %w", err)
	}
	catalog.insertPartitionStmt = insertStmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// RegisterTable creates or updates a table registration.
func (c *SQLiteCatalog) RegisterTable(ctx context.Context, def TableDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keysJSON, err := json.Marshal(def.PartitionKeys)
	if err != nil {
		return perrors.NewCatalogError(perrors.CodeRegisterFailed, "encode partition keys", err)
	}
	schemaJSON, err := json.Marshal(def.Schema)
	if err != nil {
		return perrors.NewCatalogError(perrors.CodeRegisterFailed, "encode schema", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return perrors.NewCatalogError(perrors.CodeRegisterFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	var location, existingKeys string
	err = tx.QueryRowContext(ctx,
		`SELECT location, partition_keys FROM tables WHERE database_name = ? AND table_name = ?`,
		def.Database, def.Table,
	).Scan(&location, &existingKeys)

	now := time.Now().Unix()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tables (database_name, table_name, location, format, partition_keys, schema_version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			def.Database, def.Table, def.Location, def.Format, string(keysJSON), def.Schema.Version, now, now)
		if err != nil {
			return perrors.NewCatalogError(perrors.CodeRegisterFailed, "insert table", err)
		}
	case err != nil:
		return perrors.NewCatalogError(perrors.CodeRegisterFailed, "read table", err)
	default:
		if location != def.Location || existingKeys != string(keysJSON) {
			return perrors.New(perrors.ErrCategoryCatalog, perrors.CodeTableMismatch,
				fmt.Sprintf("table %s.%s is registered at %s with keys %s", def.Database, def.Table, location, existingKeys))
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tables SET format = ?, schema_version = ?, updated_at = ? WHERE database_name = ? AND table_name = ?`,
			def.Format, def.Schema.Version, now, def.Database, def.Table)
		if err != nil {
			return perrors.NewCatalogError(perrors.CodeRegisterFailed, "update table", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO schema_versions (database_name, table_name, version, schema_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		def.Database, def.Table, def.Schema.Version, string(schemaJSON), now)
	if err != nil {
		return perrors.NewCatalogError(perrors.CodeRegisterFailed, "record schema version", err)
	}

	if err := tx.Commit(); err != nil {
		return perrors.NewCatalogError(perrors.CodeRegisterFailed, "commit table", err)
	}
	return nil
}

// GetTable returns a registered table with its current schema.
func (c *SQLiteCatalog) GetTable(ctx context.Context, database, table string) (*TableDef, error) {
	var def TableDef
	var keysJSON, schemaJSON string
	var createdAt, updatedAt int64

	err := c.readDB.QueryRowContext(ctx, `
		SELECT t.database_name, t.table_name, t.location, t.format, t.partition_keys,
		       t.created_at, t.updated_at, s.schema_json
		FROM tables t
		JOIN schema_versions s
		  ON s.database_name = t.database_name AND s.table_name = t.table_name AND s.version = t.schema_version
		WHERE t.database_name = ? AND t.table_name = ?`,
		database, table,
	).Scan(&def.Database, &def.Table, &def.Location, &def.Format, &keysJSON, &createdAt, &updatedAt, &schemaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: table %s.%s", ErrNotFound, database, table)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read table: %w", err)
	}

	if err := json.Unmarshal([]byte(keysJSON), &def.PartitionKeys); err != nil {
		return nil, fmt.Errorf("manifest: bad partition keys for %s.%s: %w", database, table, err)
	}
	if err := json.Unmarshal([]byte(schemaJSON), &def.Schema); err != nil {
		return nil, fmt.Errorf("manifest: bad schema for %s.%s: %w", database, table, err)
	}
	def.CreatedAt = time.Unix(createdAt, 0)
	def.UpdatedAt = time.Unix(updatedAt, 0)
	return &def, nil
}

// RegisterPartition adds a partition file to the catalog.
func (c *SQLiteCatalog) RegisterPartition(ctx context.Context, info *partition.PartitionInfo, reg Registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var minTS, maxTS *string
	if mm, ok := info.MinMaxStats[types.FieldEventTimestamp]; ok {
		if v, ok := mm.Min.(string); ok {
			minTS = &v
		}
		if v, ok := mm.Max.(string); ok {
			maxTS = &v
		}
	}

	_, err := c.insertPartitionStmt.ExecContext(ctx,
		info.PartitionID, reg.Database, reg.Table,
		info.Key.Year, info.Key.Month, info.Key.Day,
		reg.ObjectPath, reg.MetadataPath, reg.Source,
		minTS, maxTS,
		info.RowCount, info.SizeBytes, info.TotalRevenue,
		info.SchemaVersion, info.CreatedAt.Unix(),
	)
	if err != nil {
		return perrors.NewCatalogError(perrors.CodeRegisterFailed,
			fmt.Sprintf("insert partition %s", info.PartitionID), err)
	}

	c.warnOnFileCount(ctx, reg, info.Key)
	return nil
}

// warnOnFileCount logs when one day holds many partition files.
// Must be called with the write lock held.
func (c *SQLiteCatalog) warnOnFileCount(ctx context.Context, reg Registration, key types.PartitionKey) {
	var count int64
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM partitions
		WHERE database_name = ? AND table_name = ? AND year = ? AND month = ? AND day = ?`,
		reg.Database, reg.Table, key.Year, key.Month, key.Day,
	).Scan(&count)
	if err != nil {
		return // best-effort; don't fail the write path
	}
	if count > 0 && count%partitionCountWarnThreshold == 0 {
		c.logger.Warn("many partition files for one day",
			"table", reg.Database+"."+reg.Table,
			"partition", key.Path(),
			"files", count,
		)
	}
}

// GetPartition retrieves a single partition by ID.
func (c *SQLiteCatalog) GetPartition(ctx context.Context, partitionID string) (*PartitionRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT `+partitionColumns+` FROM partitions WHERE partition_id = ?`, partitionID)
	rec, err := scanPartition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: partition %s", ErrNotFound, partitionID)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read partition: %w", err)
	}
	return rec, nil
}

// ListPartitions returns partitions matching the filter.
func (c *SQLiteCatalog) ListPartitions(ctx context.Context, filter PartitionFilter) ([]*PartitionRecord, error) {
	var conds []string
	var args []interface{}
	add := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	add("database_name", filter.Database)
	add("table_name", filter.Table)
	add("year", filter.Year)
	add("month", filter.Month)
	add("day", filter.Day)
	add("source", filter.Source)

	query := `SELECT ` + partitionColumns + ` FROM partitions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, partition_id"

	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list partitions: %w", err)
	}
	defer rows.Close()

	var records []*PartitionRecord
	for rows.Next() {
		rec, err := scanPartition(rows)
		if err != nil {
			return nil, fmt.Errorf("manifest: failed to scan partition: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: failed to list partitions: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPartition(s rowScanner) (*PartitionRecord, error) {
	var rec PartitionRecord
	var minTS, maxTS sql.NullString
	var createdAt int64

	err := s.Scan(
		&rec.PartitionID, &rec.Database, &rec.Table,
		&rec.Key.Year, &rec.Key.Month, &rec.Key.Day,
		&rec.ObjectPath, &rec.MetadataPath, &rec.Source,
		&minTS, &maxTS,
		&rec.RowCount, &rec.SizeBytes, &rec.TotalRevenue,
		&rec.SchemaVersion, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if minTS.Valid {
		rec.MinEventTimestamp = &minTS.String
	}
	if maxTS.Valid {
		rec.MaxEventTimestamp = &maxTS.String
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertPartitionStmt != nil {
		c.insertPartitionStmt.Close()
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
