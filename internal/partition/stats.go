package partition

import (
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// StatsTracker accumulates partition statistics while events are written.
type StatsTracker struct {
	rowCount int64

	// Min/max for event_timestamp, over events with a parsed timestamp
	minTimestamp *string
	maxTimestamp *string

	// Min/max for user_id (lexicographic)
	minUserID *string
	maxUserID *string

	revenue    float64
	eventTypes map[string]int64
}

// NewStatsTracker creates a new statistics tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{eventTypes: make(map[string]int64)}
}

// Update folds one event into the statistics.
func (s *StatsTracker) Update(ev types.NormalizedEvent) {
	s.rowCount++
	s.revenue += ev.Revenue
	s.eventTypes[ev.EventType]++

	if ev.Calendar != nil {
		updateMinMax(&s.minTimestamp, &s.maxTimestamp, ev.EventTimestamp)
	}
	if ev.UserID != "" {
		updateMinMax(&s.minUserID, &s.maxUserID, ev.UserID)
	}
}

func updateMinMax(lo, hi **string, v string) {
	if *lo == nil || v < **lo {
		x := v
		*lo = &x
	}
	if *hi == nil || v > **hi {
		x := v
		*hi = &x
	}
}

// GetMinMaxStats returns the computed min/max statistics keyed by column.
func (s *StatsTracker) GetMinMaxStats() map[string]MinMax {
	stats := make(map[string]MinMax)
	if s.minTimestamp != nil {
		stats[types.FieldEventTimestamp] = MinMax{Min: *s.minTimestamp, Max: *s.maxTimestamp}
	}
	if s.minUserID != nil {
		stats[types.FieldUserID] = MinMax{Min: *s.minUserID, Max: *s.maxUserID}
	}
	return stats
}

// RowCount returns the number of events tracked.
func (s *StatsTracker) RowCount() int64 {
	return s.rowCount
}

// TotalRevenue returns the summed revenue.
func (s *StatsTracker) TotalRevenue() float64 {
	return s.revenue
}

// EventTypeCounts returns a copy of the per-event-type counts.
func (s *StatsTracker) EventTypeCounts() map[string]int64 {
	out := make(map[string]int64, len(s.eventTypes))
	for k, v := range s.eventTypes {
		out[k] = v
	}
	return out
}
