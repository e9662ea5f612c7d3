package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	perrors "github.com/clickstream/clickstream-etl/internal/errors"
)

// NATSConfig holds JetStream sink configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Subject records are published to.
	Subject string

	// Stream, when set, is created or updated to capture Subject.
	Stream string

	// MaxAge bounds how long the stream retains records. Zero keeps them
	// until removed.
	MaxAge time.Duration

	Timeout time.Duration
}

// DefaultNATSConfig returns a NATSConfig with local defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:     nats.DefaultURL,
		Subject: "clickstream.raw",
		Stream:  "CLICKSTREAM",
		MaxAge:  24 * time.Hour,
		Timeout: 5 * time.Second,
	}
}

// publisher is satisfied by jetstream.JetStream.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSink publishes records to a JetStream subject and waits for each
// acknowledgement.
type NATSSink struct {
	conn    *nats.Conn
	js      publisher
	subject string
}

// NewNATSSink connects to NATS and prepares the stream.
func NewNATSSink(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("clickstream-generator"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if cfg.Stream != "" {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
			MaxAge:   cfg.MaxAge,
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Stream, err)
		}
	}

	return &NATSSink{conn: conn, js: js, subject: cfg.Subject}, nil
}

// PutRecordBatch publishes each record synchronously. Records whose
// publish fails count as failed; a cancelled context stops the batch.
func (s *NATSSink) PutRecordBatch(ctx context.Context, records [][]byte) (BatchResult, error) {
	var res BatchResult
	for i, data := range records {
		if err := ctx.Err(); err != nil {
			if i == 0 {
				return BatchResult{}, perrors.NewBufferError(perrors.CodeSubmitFailed, "nats "+s.subject, err)
			}
			res.Failed += len(records) - i
			return res, nil
		}
		if _, err := s.js.Publish(ctx, s.subject, data); err != nil {
			res.Failed++
			continue
		}
		res.Accepted++
	}
	return res, nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
