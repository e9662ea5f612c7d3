// Package manifest provides the catalog of the transformed clickstream
// dataset: table registrations and one row per appended partition file.
package manifest

// The catalog is a SQLite database (catalog.db) and is the source of truth
// for which partition files make up a table.

// CreateTablesTableSQL creates the table registry.
// One row per (database, table) with its location and partition layout.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    database_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    location TEXT NOT NULL,
    format TEXT NOT NULL,
    partition_keys TEXT NOT NULL,
    schema_version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (database_name, table_name)
)`

// CreateSchemaVersionsTableSQL records every schema version a table has used.
const CreateSchemaVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    database_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    version INTEGER NOT NULL,
    schema_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (database_name, table_name, version)
)`

// CreatePartitionsTableSQL creates the partitions table. Appends never
// replace rows, so several files may share a year/month/day.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS partitions (
    partition_id TEXT PRIMARY KEY,
    database_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    year TEXT NOT NULL,
    month TEXT NOT NULL,
    day TEXT NOT NULL,
    object_path TEXT NOT NULL,
    metadata_path TEXT NOT NULL,
    source TEXT NOT NULL,
    min_event_timestamp TEXT,
    max_event_timestamp TEXT,
    row_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    total_revenue REAL NOT NULL DEFAULT 0,
    schema_version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (database_name, table_name) REFERENCES tables(database_name, table_name)
)`

// CreatePartitionsIndexesSQL creates indexes for partition listing.
var CreatePartitionsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_partitions_date ON partitions(database_name, table_name, year, month, day)`,
	`CREATE INDEX IF NOT EXISTS idx_partitions_created ON partitions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_partitions_source ON partitions(source)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateTablesTableSQL,
		CreateSchemaVersionsTableSQL,
		CreatePartitionsTableSQL,
	}
	return append(statements, CreatePartitionsIndexesSQL...)
}
