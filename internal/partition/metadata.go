package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clickstream/clickstream-etl/internal/bloom"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// MetadataExtension is the suffix of sidecar files.
const MetadataExtension = ".meta.json"

// MetadataSidecar is the .meta.json file written next to each partition.
type MetadataSidecar struct {
	PartitionID   string                   `json:"partition_id"`
	Year          string                   `json:"year"`
	Month         string                   `json:"month"`
	Day           string                   `json:"day"`
	SchemaVersion int                      `json:"schema_version"`
	Stats         PartitionStats           `json:"stats"`
	BloomFilters  map[string]*bloom.Filter `json:"bloom_filters"`
	CreatedAt     int64                    `json:"created_at"`
}

// PartitionStats holds partition-level statistics.
type PartitionStats struct {
	RowCount          int64            `json:"row_count"`
	SizeBytes         int64            `json:"size_bytes"`
	MinEventTimestamp *string          `json:"min_event_timestamp,omitempty"`
	MaxEventTimestamp *string          `json:"max_event_timestamp,omitempty"`
	MinUserID         *string          `json:"min_user_id,omitempty"`
	MaxUserID         *string          `json:"max_user_id,omitempty"`
	TotalRevenue      float64          `json:"total_revenue"`
	EventTypes        map[string]int64 `json:"event_types"`
}

// MetadataGenerator generates metadata sidecars for partitions.
type MetadataGenerator struct {
	targetFPR float64
}

// NewMetadataGenerator creates a generator with a 1% bloom false positive rate.
func NewMetadataGenerator() *MetadataGenerator {
	return &MetadataGenerator{targetFPR: 0.01}
}

// bloomColumns are the columns that get a bloom filter.
var bloomColumns = []string{types.FieldEventID, types.FieldUserID}

// Generate creates a sidecar for the given partition and its events.
func (g *MetadataGenerator) Generate(info *PartitionInfo, events []types.NormalizedEvent) (*MetadataSidecar, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("metadata: no events for partition %s", info.PartitionID)
	}

	filters := make(map[string]*bloom.Filter, len(bloomColumns))
	for _, col := range bloomColumns {
		f := bloom.New(len(events), g.targetFPR)
		for _, ev := range events {
			f.Add(columnString(ev, col))
		}
		filters[col] = f
	}

	stats := PartitionStats{
		RowCount:     info.RowCount,
		SizeBytes:    info.SizeBytes,
		TotalRevenue: info.TotalRevenue,
		EventTypes:   info.EventTypes,
	}
	if mm, ok := info.MinMaxStats[types.FieldEventTimestamp]; ok {
		stats.MinEventTimestamp = stringPtr(mm.Min)
		stats.MaxEventTimestamp = stringPtr(mm.Max)
	}
	if mm, ok := info.MinMaxStats[types.FieldUserID]; ok {
		stats.MinUserID = stringPtr(mm.Min)
		stats.MaxUserID = stringPtr(mm.Max)
	}

	return &MetadataSidecar{
		PartitionID:   info.PartitionID,
		Year:          info.Key.Year,
		Month:         info.Key.Month,
		Day:           info.Key.Day,
		SchemaVersion: info.SchemaVersion,
		Stats:         stats,
		BloomFilters:  filters,
		CreatedAt:     info.CreatedAt.Unix(),
	}, nil
}

// GenerateAndWrite generates the sidecar and writes it next to the
// partition file, recording its path in info.MetadataPath.
func (g *MetadataGenerator) GenerateAndWrite(info *PartitionInfo, events []types.NormalizedEvent) (*MetadataSidecar, error) {
	sidecar, err := g.Generate(info, events)
	if err != nil {
		return nil, err
	}

	path := GenerateMetadataPath(info.SQLitePath)
	if err := sidecar.WriteToFile(path); err != nil {
		return nil, err
	}
	info.MetadataPath = path
	return sidecar, nil
}

// MightContain reports whether the column's bloom filter may hold value.
// Columns without a filter always report true.
func (s *MetadataSidecar) MightContain(column, value string) bool {
	f, ok := s.BloomFilters[column]
	if !ok || f == nil {
		return true
	}
	return f.MayContain(value)
}

// WriteToFile writes the sidecar as indented JSON.
func (s *MetadataSidecar) WriteToFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("metadata: failed to write sidecar file: %w", err)
	}
	return nil
}

// FromJSON deserializes a metadata sidecar from JSON bytes.
func FromJSON(data []byte) (*MetadataSidecar, error) {
	var sidecar MetadataSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("metadata: failed to unmarshal sidecar: %w", err)
	}
	return &sidecar, nil
}

// CreatedAtTime returns the creation time as time.Time.
func (s *MetadataSidecar) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

// GenerateMetadataPath returns the sidecar path for a partition file path
// or object path.
func GenerateMetadataPath(sqlitePath string) string {
	dir, base := filepath.Split(sqlitePath)
	return dir + strings.TrimSuffix(base, filepath.Ext(base)) + MetadataExtension
}

func columnString(ev types.NormalizedEvent, col string) string {
	switch col {
	case types.FieldEventID:
		return ev.EventID
	case types.FieldUserID:
		return ev.UserID
	default:
		return fmt.Sprint(ev.Fields()[col])
	}
}

func stringPtr(v interface{}) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}
