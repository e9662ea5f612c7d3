package buffer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/firehose/types"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
)

// FirehoseAPI is the subset of the Firehose client used by FirehoseSink.
type FirehoseAPI interface {
	PutRecordBatch(ctx context.Context, params *firehose.PutRecordBatchInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error)
}

// FirehoseSink delivers records to an Amazon Data Firehose delivery stream.
type FirehoseSink struct {
	client FirehoseAPI
	stream string
}

// NewFirehoseSink creates a sink using the default AWS credential chain.
func NewFirehoseSink(ctx context.Context, stream, region string) (*FirehoseSink, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewFirehoseSinkWithClient(firehose.NewFromConfig(awsCfg), stream), nil
}

// NewFirehoseSinkWithClient creates a sink with a custom client.
func NewFirehoseSinkWithClient(client FirehoseAPI, stream string) *FirehoseSink {
	return &FirehoseSink{client: client, stream: stream}
}

// PutRecordBatch submits records in chunks of MaxBatchRecords. Records
// rejected inside a successful call count as failed.
func (s *FirehoseSink) PutRecordBatch(ctx context.Context, records [][]byte) (BatchResult, error) {
	var total BatchResult
	for _, chunk := range chunks(records, MaxBatchRecords) {
		entries := make([]types.Record, len(chunk))
		for i, data := range chunk {
			entries[i] = types.Record{Data: data}
		}

		out, err := s.client.PutRecordBatch(ctx, &firehose.PutRecordBatchInput{
			DeliveryStreamName: aws.String(s.stream),
			Records:            entries,
		})
		if err != nil {
			if total.Accepted == 0 {
				return BatchResult{}, perrors.NewBufferError(perrors.CodeSubmitFailed, "firehose "+s.stream, err)
			}
			// Earlier chunks landed; report the rest as failed
			total.Failed += len(records) - total.Accepted - total.Failed
			return total, nil
		}

		failed := int(aws.ToInt32(out.FailedPutCount))
		total = total.Add(BatchResult{Accepted: len(chunk) - failed, Failed: failed})
	}
	return total, nil
}

// Close is a no-op; the AWS client holds no open connections of its own.
func (s *FirehoseSink) Close() error {
	return nil
}
