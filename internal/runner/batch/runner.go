// Package batch transforms raw clickstream objects one at a time as they
// arrive, appending each object's records as one partition file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jonboulle/clockwork"

	"github.com/clickstream/clickstream-etl/internal/dataset"
	perrors "github.com/clickstream/clickstream-etl/internal/errors"
	"github.com/clickstream/clickstream-etl/internal/observability"
	"github.com/clickstream/clickstream-etl/internal/partition"
	"github.com/clickstream/clickstream-etl/internal/rawdata"
	"github.com/clickstream/clickstream-etl/internal/storage"
	"github.com/clickstream/clickstream-etl/internal/transform"
	"github.com/clickstream/clickstream-etl/pkg/types"
)

// Appender writes a group of events as one partition file.
type Appender interface {
	Append(ctx context.Context, key types.PartitionKey, events []types.NormalizedEvent, source string) (*dataset.AppendResult, error)
}

// StorageResolver returns the raw storage for a bucket named in an object
// notification.
type StorageResolver func(ctx context.Context, bucket string) (storage.ObjectStorage, error)

// ObjectRef names one raw object. An empty Bucket means the runner's
// default raw storage.
type ObjectRef struct {
	Bucket string
	Key    string
}

// Response is returned to the trigger.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Options configures a Runner.
type Options struct {
	// Raw is the storage read when an ObjectRef has no bucket.
	Raw storage.ObjectStorage
	// Resolve is used for refs that name a bucket. Optional.
	Resolve  StorageResolver
	Appender Appender
	Router   *partition.Router
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Runner is the per-object transformer.
type Runner struct {
	raw      storage.ObjectStorage
	resolve  StorageResolver
	appender Appender
	router   *partition.Router
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRunner creates a Runner. Router defaults to the standard strategy
// order driven by Clock.
func NewRunner(opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Router == nil {
		opts.Router = partition.DefaultRouter(opts.Clock)
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	return &Runner{
		raw:      opts.Raw,
		resolve:  opts.Resolve,
		appender: opts.Appender,
		router:   opts.Router,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// HandleS3Event processes every object named in an S3 notification.
func (r *Runner) HandleS3Event(ctx context.Context, event events.S3Event) (Response, error) {
	refs := make([]ObjectRef, 0, len(event.Records))
	for _, rec := range event.Records {
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			var err error
			key, err = url.QueryUnescape(rec.S3.Object.Key)
			if err != nil {
				return Response{}, perrors.NewValidationError(perrors.CodeInvalidConfig,
					fmt.Sprintf("undecodable object key %q", rec.S3.Object.Key))
			}
		}
		refs = append(refs, ObjectRef{Bucket: rec.S3.Bucket.Name, Key: key})
	}
	return r.Process(ctx, refs)
}

// Process transforms each object in order. Objects without valid records
// are skipped. The first failing object aborts the invocation.
func (r *Runner) Process(ctx context.Context, refs []ObjectRef) (Response, error) {
	total := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		n, err := r.processObject(ctx, ref)
		if err != nil {
			r.logger.Error("object processing failed", "bucket", ref.Bucket, "key", ref.Key, "error", err)
			return Response{}, err
		}
		total += n
	}

	if total == 0 {
		return Response{StatusCode: http.StatusOK, Body: "No valid records to process"}, nil
	}
	return Response{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf("Successfully processed %d records", total),
	}, nil
}

func (r *Runner) processObject(ctx context.Context, ref ObjectRef) (int, error) {
	start := r.clock.Now()
	defer func() {
		r.metrics.ObjectDuration.Observe(r.clock.Since(start).Seconds())
	}()
	r.metrics.ObjectsProcessed.Inc()

	store, err := r.storageFor(ctx, ref.Bucket)
	if err != nil {
		return 0, err
	}

	payload, err := store.Get(ctx, ref.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return 0, perrors.NewStorageError(perrors.CodeObjectNotFound, ref.Key, err)
	}
	if err != nil {
		return 0, perrors.NewStorageError(perrors.CodeDownloadFailed, ref.Key, err)
	}

	decoded, err := rawdata.Decode(ref.Key, payload, r.logger)
	if err != nil {
		return 0, err
	}
	r.metrics.RecordsRead.Add(float64(len(decoded.Records)))
	r.metrics.RecordsSkipped.Add(float64(decoded.Skipped))

	normalized := make([]types.NormalizedEvent, 0, len(decoded.Records))
	for i, raw := range decoded.Records {
		ev, err := transform.Record(raw)
		if err != nil {
			return 0, withObject(err, ref.Key, i)
		}
		normalized = append(normalized, ev)
	}

	if len(normalized) == 0 {
		r.logger.Info("no valid records in object", "key", ref.Key, "lines", decoded.Lines, "skipped", decoded.Skipped)
		return 0, nil
	}

	key, strategy := r.router.Route(ref.Key, normalized)
	r.logger.Debug("partition resolved", "key", ref.Key, "partition", key.Path(), "strategy", strategy)

	if _, err := r.appender.Append(ctx, key, normalized, ref.Key); err != nil {
		return 0, err
	}
	return len(normalized), nil
}

func (r *Runner) storageFor(ctx context.Context, bucket string) (storage.ObjectStorage, error) {
	if bucket == "" || r.resolve == nil {
		if r.raw == nil {
			return nil, perrors.NewValidationError(perrors.CodeInvalidConfig, "no raw storage configured")
		}
		return r.raw, nil
	}
	store, err := r.resolve(ctx, bucket)
	if err != nil {
		return nil, perrors.NewStorageError(perrors.CodeDownloadFailed, "open bucket "+bucket, err)
	}
	return store, nil
}

// withObject adds the object key and record index to a pipeline error.
func withObject(err error, key string, index int) error {
	var pe *perrors.PipelineError
	if !errors.As(err, &pe) {
		return err
	}
	details := map[string]interface{}{"key": key, "record": index}
	for k, v := range pe.Details {
		details[k] = v
	}
	return pe.WithDetails(details)
}
