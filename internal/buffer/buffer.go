// Package buffer submits batches of encoded clickstream records to a
// streaming buffer. Records are opaque byte slices, usually one JSON
// document followed by a newline.
package buffer

import (
	"context"
)

// MaxBatchRecords is the largest batch a single Firehose PutRecordBatch
// call accepts. Sinks split larger batches.
const MaxBatchRecords = 500

// BatchResult reports how many records of a batch were accepted.
type BatchResult struct {
	Accepted int
	Failed   int
}

// Add accumulates another result.
func (r BatchResult) Add(other BatchResult) BatchResult {
	return BatchResult{Accepted: r.Accepted + other.Accepted, Failed: r.Failed + other.Failed}
}

// Sink is a streaming buffer.
type Sink interface {
	// PutRecordBatch submits records. A nil error with Failed > 0 is a
	// partial failure. A non-nil error means the batch was not submitted.
	PutRecordBatch(ctx context.Context, records [][]byte) (BatchResult, error)

	// Close releases the sink's connections.
	Close() error
}

// chunks splits records into slices of at most size entries.
func chunks(records [][]byte, size int) [][][]byte {
	if size < 1 {
		size = MaxBatchRecords
	}
	var out [][][]byte
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}
