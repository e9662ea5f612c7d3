package partition

import (
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/clickstream/clickstream-etl/pkg/types"
)

// Strategy derives a partition key for one raw object and its events.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Resolve returns the key, or ok=false to defer to the next strategy.
	Resolve(objectKey string, events []types.NormalizedEvent) (key types.PartitionKey, ok bool)
}

// PathMarkers reads year=/month=/day= segments from the object key.
// All three markers must be present and numeric.
type PathMarkers struct{}

func (PathMarkers) Name() string { return "path_markers" }

func (PathMarkers) Resolve(objectKey string, _ []types.NormalizedEvent) (types.PartitionKey, bool) {
	var key types.PartitionKey
	for _, part := range strings.Split(objectKey, "/") {
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch name {
		case "year":
			key.Year = value
		case "month":
			key.Month = value
		case "day":
			key.Day = value
		}
	}
	if key.Year == "" || key.Month == "" || key.Day == "" {
		return types.PartitionKey{}, false
	}
	if err := key.Validate(); err != nil {
		return types.PartitionKey{}, false
	}
	return key, true
}

// FirstRecord uses the calendar of the first event.
type FirstRecord struct{}

func (FirstRecord) Name() string { return "first_record" }

func (FirstRecord) Resolve(_ string, events []types.NormalizedEvent) (types.PartitionKey, bool) {
	if len(events) == 0 {
		return types.PartitionKey{}, false
	}
	return events[0].PartitionKey()
}

// ProcessingTime uses the current UTC date. It always succeeds.
type ProcessingTime struct {
	Clock clockwork.Clock
}

func (ProcessingTime) Name() string { return "processing_time" }

func (p ProcessingTime) Resolve(string, []types.NormalizedEvent) (types.PartitionKey, bool) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	now := clock.Now().UTC()
	return types.PartitionKey{
		Year:  now.Format("2006"),
		Month: now.Format("01"),
		Day:   now.Format("02"),
	}, true
}

// Router evaluates strategies in order and returns the first success.
type Router struct {
	strategies []Strategy
}

// NewRouter creates a router over the given strategies.
func NewRouter(strategies ...Strategy) *Router {
	return &Router{strategies: strategies}
}

// DefaultRouter returns path markers, then first record, then processing time.
func DefaultRouter(clock clockwork.Clock) *Router {
	return NewRouter(PathMarkers{}, FirstRecord{}, ProcessingTime{Clock: clock})
}

// Route returns the partition key and the name of the strategy that produced
// it. When no strategy succeeds the default partition is returned with an
// empty strategy name.
func (r *Router) Route(objectKey string, events []types.NormalizedEvent) (types.PartitionKey, string) {
	for _, s := range r.strategies {
		if key, ok := s.Resolve(objectKey, events); ok {
			return key, s.Name()
		}
	}
	return types.DefaultPartitionKey(), ""
}

// GroupByCalendar splits events by their own year/month/day, preserving
// input order within each group. Events without a calendar go to the
// default partition. Keys are returned in first-seen order.
func GroupByCalendar(events []types.NormalizedEvent) ([]types.PartitionKey, map[types.PartitionKey][]types.NormalizedEvent) {
	groups := make(map[types.PartitionKey][]types.NormalizedEvent)
	var order []types.PartitionKey
	for _, ev := range events {
		key, ok := ev.PartitionKey()
		if !ok {
			key = types.DefaultPartitionKey()
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}
	return order, groups
}
