package generator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clickstream/clickstream-etl/internal/buffer"
	"github.com/clickstream/clickstream-etl/internal/transform"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][][]byte
	// fail returns an error for the given 1-based call numbers
	fail    map[int]bool
	partial int
}

func (s *recordingSink) PutRecordBatch(_ context.Context, records [][]byte) (buffer.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	if s.fail[len(s.batches)] {
		return buffer.BatchResult{}, errors.New("stream unavailable")
	}
	return buffer.BatchResult{Accepted: len(records) - s.partial, Failed: s.partial}, nil
}

func (s *recordingSink) Close() error { return nil }

func runAsync(g *Generator, ctx context.Context) <-chan Totals {
	done := make(chan Totals, 1)
	go func() {
		totals, _ := g.Run(ctx)
		done <- totals
	}()
	return done
}

func TestRun_MaxBatches(t *testing.T) {
	sink := &recordingSink{partial: 1}
	clock := clockwork.NewFakeClock()
	g := New(sink, Config{BatchSize: 10, Delay: time.Second, MaxBatches: 3, Seed: 7}, clock, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := runAsync(g, ctx)

	for i := 0; i < 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}

	totals := <-done
	assert.Equal(t, Totals{Batches: 3, Sent: 27, Failed: 3}, totals)
	assert.Len(t, sink.batches, 3)
	for _, b := range sink.batches {
		assert.Len(t, b, 10)
	}
}

func TestRun_FailedSubmissionCountsWholeBatch(t *testing.T) {
	sink := &recordingSink{fail: map[int]bool{2: true}}
	clock := clockwork.NewFakeClock()
	g := New(sink, Config{BatchSize: 5, Delay: time.Second, MaxBatches: 3}, clock, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := runAsync(g, ctx)

	for i := 0; i < 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}

	totals := <-done
	assert.Equal(t, Totals{Batches: 3, Sent: 10, Failed: 5}, totals)
}

func TestRun_CancellationReturnsTotals(t *testing.T) {
	sink := &recordingSink{}
	clock := clockwork.NewFakeClock()
	g := New(sink, Config{BatchSize: 4, Delay: time.Minute}, clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(g, ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case totals := <-done:
		assert.Equal(t, Totals{Batches: 1, Sent: 4}, totals)
	case <-waitCtx.Done():
		t.Fatal("generator did not stop on cancellation")
	}
}

func TestBatch_NewlineDelimitedJSON(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 10, 30, 0, 123456000, time.UTC))
	g := New(&recordingSink{}, Config{Seed: 42}, clock, nil, nil)

	batch, err := g.Batch(20)
	require.NoError(t, err)
	require.Len(t, batch, 20)

	for _, rec := range batch {
		require.Equal(t, byte('\n'), rec[len(rec)-1])
		var raw map[string]any
		require.NoError(t, json.Unmarshal(rec, &raw))
		assert.Equal(t, "2024-01-15T10:30:00.123456Z", raw[types.FieldTimestamp])
		assert.Contains(t, raw, types.FieldIPAddress)

		// Every generated record passes the transform
		ev, err := transform.Record(raw)
		require.NoError(t, err)
		require.NotNil(t, ev.Calendar)
		assert.Equal(t, "10", ev.Calendar.Hour)
	}
}

func TestEvent_SeedIsReproducible(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := New(&recordingSink{}, Config{Seed: 99}, clock, nil, nil)
	b := New(&recordingSink{}, Config{Seed: 99}, clock, nil, nil)

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Event(), b.Event())
	}
}
