package storage

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BatchReader reads many objects in parallel with bounded concurrency.
// Results keep the order of the requested paths.
type BatchReader struct {
	storage     ObjectStorage
	concurrency int
}

// NewBatchReader creates a new batch reader.
// storage: the ObjectStorage implementation to read from
// concurrency: maximum number of parallel reads (values < 1 mean 1)
func NewBatchReader(storage ObjectStorage, concurrency int) *BatchReader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchReader{
		storage:     storage,
		concurrency: concurrency,
	}
}

// ReadAll returns the contents of every object, index-aligned with paths.
// The first failure cancels the remaining reads and is returned.
func (b *BatchReader) ReadAll(ctx context.Context, paths []string) ([][]byte, error) {
	results := make([][]byte, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			data, err := b.storage.Get(gctx, p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			results[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
