// Package generator produces synthetic clickstream events and pushes them
// to a streaming buffer in fixed-size batches.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jonboulle/clockwork"

	"github.com/clickstream/clickstream-etl/internal/buffer"
	"github.com/clickstream/clickstream-etl/internal/observability"
)

// EventTypes are the generated event types, chosen uniformly.
var EventTypes = []string{"page_view", "add_to_cart", "remove_from_cart", "purchase", "search", "login", "logout"}

// ProductCategories, DeviceTypes and Browsers are the categorical value pools.
var (
	ProductCategories = []string{"Electronics", "Clothing", "Books", "Home & Garden", "Sports", "Toys", "Food"}
	DeviceTypes       = []string{"desktop", "mobile", "tablet"}
	Browsers          = []string{"Chrome", "Firefox", "Safari", "Edge"}
)

const (
	minPrice    = 5.99
	maxPrice    = 999.99
	maxUserID   = 10000
	maxProduct  = 1000
	maxQuantity = 5
)

// timestampLayout mirrors an ISO-8601 UTC timestamp with microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Event is one raw clickstream event as submitted to the buffer.
type Event struct {
	EventID         string  `json:"event_id"`
	EventType       string  `json:"event_type"`
	Timestamp       string  `json:"timestamp"`
	UserID          string  `json:"user_id"`
	SessionID       string  `json:"session_id"`
	PageURL         string  `json:"page_url"`
	DeviceType      string  `json:"device_type"`
	Browser         string  `json:"browser"`
	Country         string  `json:"country"`
	City            string  `json:"city"`
	IPAddress       string  `json:"ip_address"`
	Email           string  `json:"email"`
	ProductID       string  `json:"product_id,omitempty"`
	ProductName     string  `json:"product_name,omitempty"`
	ProductCategory string  `json:"product_category,omitempty"`
	ProductPrice    float64 `json:"product_price,omitempty"`
	Quantity        int     `json:"quantity,omitempty"`
}

// Config controls the generation loop.
type Config struct {
	BatchSize int
	Delay     time.Duration
	// MaxBatches stops the loop after this many batches. Zero runs until
	// the context is cancelled.
	MaxBatches int
	// Seed makes generation reproducible. Zero picks a random seed.
	Seed int64
}

// DefaultConfig returns 100 events per batch with a one second delay.
func DefaultConfig() Config {
	return Config{BatchSize: 100, Delay: time.Second}
}

// Totals are the running counts of a generation loop.
type Totals struct {
	Batches int
	Sent    int
	Failed  int
}

// Generator builds events and submits them to a Sink.
type Generator struct {
	sink    buffer.Sink
	cfg     Config
	faker   *gofakeit.Faker
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Generator. clock, logger and metrics may be nil.
func New(sink buffer.Sink, cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Generator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Generator{
		sink:    sink,
		cfg:     cfg,
		faker:   gofakeit.New(cfg.Seed),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

func (g *Generator) pick(values []string) string {
	return values[g.faker.Rand.Intn(len(values))]
}

// Event builds one synthetic event stamped with the current time.
func (g *Generator) Event() Event {
	f := g.faker
	ev := Event{
		EventID:    f.UUID(),
		EventType:  g.pick(EventTypes),
		Timestamp:  g.clock.Now().UTC().Format(timestampLayout),
		UserID:     fmt.Sprintf("user_%d", f.IntRange(1, maxUserID)),
		SessionID:  f.UUID(),
		PageURL:    f.URL(),
		DeviceType: g.pick(DeviceTypes),
		Browser:    g.pick(Browsers),
		Country:    f.Country(),
		City:       f.City(),
		IPAddress:  f.IPv4Address(),
		Email:      f.Email(),
	}

	switch ev.EventType {
	case "page_view", "add_to_cart", "remove_from_cart", "purchase":
		ev.ProductID = fmt.Sprintf("prod_%d", f.IntRange(1, maxProduct))
		ev.ProductName = f.ProductName()
		ev.ProductCategory = g.pick(ProductCategories)
		ev.ProductPrice = math.Round(f.Float64Range(minPrice, maxPrice)*100) / 100
		ev.Quantity = 1
		if ev.EventType == "add_to_cart" || ev.EventType == "purchase" {
			ev.Quantity = f.IntRange(1, maxQuantity)
		}
	}
	return ev
}

// Batch builds n encoded records, each a JSON object followed by '\n'.
func (g *Generator) Batch(n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		data, err := json.Marshal(g.Event())
		if err != nil {
			return nil, fmt.Errorf("generator: encode event: %w", err)
		}
		out = append(out, append(data, '\n'))
	}
	return out, nil
}

// Run submits batches until ctx is cancelled or MaxBatches is reached.
// Cancellation is a normal stop: the totals so far are returned with a nil
// error. A failed submission counts the whole batch as failed.
func (g *Generator) Run(ctx context.Context) (Totals, error) {
	var totals Totals
	g.logger.Info("generator started", "batch_size", g.cfg.BatchSize, "delay", g.cfg.Delay.String())

	for {
		if ctx.Err() != nil {
			break
		}

		batch, err := g.Batch(g.cfg.BatchSize)
		if err != nil {
			return totals, err
		}

		res, err := g.sink.PutRecordBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			res = buffer.BatchResult{Failed: len(batch)}
			g.logger.Error("batch submission failed", "records", len(batch), "error", err)
		}

		totals.Batches++
		totals.Sent += res.Accepted
		totals.Failed += res.Failed
		g.metrics.GeneratorSent.Add(float64(res.Accepted))
		g.metrics.GeneratorFailed.Add(float64(res.Failed))
		g.logger.Info("batch submitted",
			"accepted", res.Accepted,
			"failed", res.Failed,
			"total_sent", totals.Sent,
			"total_failed", totals.Failed,
		)

		if g.cfg.MaxBatches > 0 && totals.Batches >= g.cfg.MaxBatches {
			break
		}

		select {
		case <-ctx.Done():
		case <-g.clock.After(g.cfg.Delay):
		}
	}

	g.logger.Info("generator stopped", "batches", totals.Batches, "sent", totals.Sent, "failed", totals.Failed)
	return totals, nil
}
