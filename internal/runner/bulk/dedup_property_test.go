package bulk

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/clickstream/clickstream-etl/pkg/types"
)

// Every event_id appears exactly once and carries the last input record.
func TestProperty_DeduplicateKeepsLastOccurrence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("one record per event_id, last one wins", prop.ForAll(
		func(ids []string) bool {
			events := make([]types.NormalizedEvent, len(ids))
			last := make(map[string]int, len(ids))
			for i, id := range ids {
				// Quantity tags each record with its input position
				events[i] = types.NormalizedEvent{EventID: id, Quantity: i}
				last[id] = i
			}

			out := Deduplicate(events)
			if len(out) != len(last) {
				return false
			}
			seen := make(map[string]bool, len(out))
			for _, ev := range out {
				if seen[ev.EventID] {
					return false
				}
				seen[ev.EventID] = true
				if ev.Quantity != last[ev.EventID] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.OneConstOf("", "e1", "e2", "e3", "e4", "e5"), reflect.TypeOf("")),
	))

	properties.TestingRun(t)
}
