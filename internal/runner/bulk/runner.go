// Package bulk transforms a whole raw clickstream dataset in one job,
// de-duplicating events by event_id and writing one partition file per day.
package bulk

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/clickstream/clickstream-etl/internal/dataset"
	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/observability"
	"github.com/clickstream/clickstream-etl/internal/partition"
	"github.com/clickstream/clickstream-etl/internal/rawdata"
	"github.com/clickstream/clickstream-etl/internal/storage"
	"github.com/clickstream/clickstream-etl/internal/transform"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// DefaultConcurrency bounds parallel object reads.
const DefaultConcurrency = 8

// Appender writes a group of events as one partition file.
type Appender interface {
	Append(ctx context.Context, key types.PartitionKey, events []types.NormalizedEvent, source string) (*dataset.AppendResult, error)
}

// Options configures a Runner.
type Options struct {
	Raw          storage.ObjectStorage
	SourcePrefix string
	// JobName is recorded as the source of every partition written.
	JobName     string
	Concurrency int
	Appender    Appender
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Summary reports what a run did.
type Summary struct {
	Objects    int
	Lines      int
	Skipped    int
	Records    int
	Duplicates int
	Written    int
	Partitions []*dataset.AppendResult
}

// Runner is the whole-dataset transformer.
type Runner struct {
	raw      storage.ObjectStorage
	prefix   string
	jobName  string
	reader   *storage.BatchReader
	appender Appender
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.JobName == "" {
		opts.JobName = "clickstream-bulk"
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	return &Runner{
		raw:      opts.Raw,
		prefix:   opts.SourcePrefix,
		jobName:  opts.JobName,
		reader:   storage.NewBatchReader(opts.Raw, opts.Concurrency),
		appender: opts.Appender,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Run reads every raw object under the source prefix, transforms and
// de-duplicates the records, and appends one partition file per
// year/month/day. Any read, coercion, write or catalog error aborts the job.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	keys, err := r.raw.ListObjects(ctx, r.prefix)
	if err != nil {
		return summary, perrors.NewStorageError(perrors.CodeListFailed, "list "+r.prefix, err)
	}
	sort.Strings(keys)
	summary.Objects = len(keys)

	if len(keys) == 0 {
		r.logger.Info("no raw objects found", "prefix", r.prefix)
		return summary, nil
	}
	r.logger.Info("bulk job started", "job", r.jobName, "prefix", r.prefix, "objects", len(keys))

	payloads, err := r.reader.ReadAll(ctx, keys)
	if err != nil {
		return summary, perrors.NewStorageError(perrors.CodeDownloadFailed, "read raw objects", err)
	}

	var normalized []types.NormalizedEvent
	for i, payload := range payloads {
		decoded, err := rawdata.Decode(keys[i], payload, r.logger)
		if err != nil {
			return summary, err
		}
		summary.Lines += decoded.Lines
		summary.Skipped += decoded.Skipped

		for j, raw := range decoded.Records {
			ev, err := transform.Record(raw)
			if err != nil {
				var pe *perrors.PipelineError
				if errors.As(err, &pe) {
					return summary, pe.WithDetails(map[string]interface{}{"key": keys[i], "record": j})
				}
				return summary, err
			}
			normalized = append(normalized, ev)
		}
	}
	summary.Records = len(normalized)
	r.metrics.RecordsRead.Add(float64(summary.Records))
	r.metrics.RecordsSkipped.Add(float64(summary.Skipped))

	unique := Deduplicate(normalized)
	summary.Duplicates = len(normalized) - len(unique)
	r.metrics.DuplicatesDropped.Add(float64(summary.Duplicates))

	order, groups := partition.GroupByCalendar(unique)
	for _, key := range order {
		res, err := r.appender.Append(ctx, key, groups[key], r.jobName)
		if err != nil {
			return summary, err
		}
		summary.Written += int(res.RowCount)
		summary.Partitions = append(summary.Partitions, res)
	}

	r.logger.Info("bulk job finished",
		"job", r.jobName,
		"objects", summary.Objects,
		"records", summary.Records,
		"skipped", summary.Skipped,
		"duplicates", summary.Duplicates,
		"written", summary.Written,
		"partitions", len(summary.Partitions),
	)
	return summary, nil
}

// Deduplicate keeps one event per event_id. The last occurrence wins and
// takes the slot of the first, so the output follows first-seen order.
// An empty event_id is a value like any other.
func Deduplicate(events []types.NormalizedEvent) []types.NormalizedEvent {
	slot := make(map[string]int, len(events))
	out := make([]types.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		if i, ok := slot[ev.EventID]; ok {
			out[i] = ev
			continue
		}
		slot[ev.EventID] = len(out)
		out = append(out, ev)
	}
	return out
}
