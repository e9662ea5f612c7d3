package buffer

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
)

// messageWriter is satisfied by *kafkago.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink produces records to a Kafka topic.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a producer for topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaSink{writer: w, topic: topic}
}

// PutRecordBatch publishes the records in one WriteMessages call.
func (s *KafkaSink) PutRecordBatch(ctx context.Context, records [][]byte) (BatchResult, error) {
	if len(records) == 0 {
		return BatchResult{}, nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i, data := range records {
		msgs[i] = kafkago.Message{Value: data}
	}

	err := s.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return BatchResult{Accepted: len(records)}, nil
	}

	var writeErrs kafkago.WriteErrors
	if errors.As(err, &writeErrs) {
		failed := writeErrs.Count()
		return BatchResult{Accepted: len(records) - failed, Failed: failed}, nil
	}
	return BatchResult{}, perrors.NewBufferError(perrors.CodeSubmitFailed, "kafka "+s.topic, err)
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
