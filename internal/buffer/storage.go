package buffer

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/storage"
)

// StorageSink emulates a delivery stream that lands in object storage:
// every batch becomes one gzip-compressed object of concatenated records
// under <prefix>/year=YYYY/month=MM/day=DD/.
type StorageSink struct {
	store  storage.ObjectStorage
	prefix string
	stream string
	clock  clockwork.Clock
}

// NewStorageSink creates a sink writing into store. stream names the
// objects; clock may be nil.
func NewStorageSink(store storage.ObjectStorage, prefix, stream string, clock clockwork.Clock) *StorageSink {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StorageSink{store: store, prefix: prefix, stream: stream, clock: clock}
}

// ObjectPath returns the key for a new delivery object.
func (s *StorageSink) ObjectPath() string {
	now := s.clock.Now().UTC()
	name := fmt.Sprintf("%s-%s-%s.json.gz", s.stream, now.Format("2006-01-02-15-04-05"), uuid.New().String())
	return path.Join(s.prefix,
		fmt.Sprintf("year=%04d/month=%02d/day=%02d", now.Year(), int(now.Month()), now.Day()),
		name)
}

// PutRecordBatch writes all records as a single object. It either accepts
// the whole batch or fails.
func (s *StorageSink) PutRecordBatch(ctx context.Context, records [][]byte) (BatchResult, error) {
	if len(records) == 0 {
		return BatchResult{}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for _, data := range records {
		if _, err := zw.Write(data); err != nil {
			return BatchResult{}, perrors.NewBufferError(perrors.CodeSubmitFailed, "compress batch", err)
		}
		// Keep one record per line
		if !bytes.HasSuffix(data, []byte("\n")) {
			if _, err := zw.Write([]byte("\n")); err != nil {
				return BatchResult{}, perrors.NewBufferError(perrors.CodeSubmitFailed, "compress batch", err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		return BatchResult{}, perrors.NewBufferError(perrors.CodeSubmitFailed, "compress batch", err)
	}

	key := s.ObjectPath()
	if err := s.store.Put(ctx, key, buf.Bytes()); err != nil {
		return BatchResult{}, perrors.NewBufferError(perrors.CodeSubmitFailed, "deliver "+key, err)
	}
	return BatchResult{Accepted: len(records)}, nil
}

// Close is a no-op.
func (s *StorageSink) Close() error {
	return nil
}
