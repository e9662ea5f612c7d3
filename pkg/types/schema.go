package types

// SQLite column types used by partition tables.
const (
	ColumnText    = "TEXT"
	ColumnInteger = "INTEGER"
	ColumnReal    = "REAL"
	ColumnBlob    = "BLOB"
)

// Schema defines the structure of a partition table.
type Schema struct {
	// Version tracks schema evolution for backward compatibility
	Version int `json:"version"`

	// Columns defines the columns in the schema, in storage order
	Columns []ColumnDef `json:"columns"`

	// Indexes defines the indexes to create on the partition
	Indexes []IndexDef `json:"indexes"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the SQLite type: TEXT, INTEGER, BLOB, REAL
	Type string `json:"type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`
}

// IndexDef defines an index on the partition.
type IndexDef struct {
	// Name is the index name
	Name string `json:"name"`

	// Columns lists the columns included in the index
	Columns []string `json:"columns"`
}

// ColumnNames returns the column names in storage order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
