package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for the pipeline.
type Metrics struct {
	RecordsRead        prometheus.Counter
	RecordsSkipped     prometheus.Counter
	RecordsWritten     prometheus.Counter
	DuplicatesDropped  prometheus.Counter
	PartitionsAppended prometheus.Counter
	ObjectsProcessed   prometheus.Counter
	GeneratorSent      prometheus.Counter
	GeneratorFailed    prometheus.Counter
	ObjectDuration     prometheus.Histogram
}

var objectDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Name:      "records_read_total",
			Help:      "Raw records parsed from raw objects.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Name:      "records_skipped_total",
			Help:      "Malformed raw lines skipped.",
		}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Name:      "records_written_total",
			Help:      "Normalized records appended to the transformed dataset.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Name:      "duplicates_dropped_total",
			Help:      "Records dropped by event_id de-duplication.",
		}),
		PartitionsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Name:      "partitions_appended_total",
			Help:      "Partition files appended and registered in the catalog.",
		}),
		ObjectsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Name:      "objects_processed_total",
			Help:      "Raw objects handled by the batch runner.",
		}),
		GeneratorSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Subsystem: "generator",
			Name:      "records_sent_total",
			Help:      "Generated records accepted by the streaming buffer.",
		}),
		GeneratorFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clickstream",
			Subsystem: "generator",
			Name:      "records_failed_total",
			Help:      "Generated records rejected by the streaming buffer.",
		}),
		ObjectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clickstream",
			Name:      "object_duration_seconds",
			Help:      "Time to transform and append one raw object.",
			Buckets:   objectDurationBuckets,
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can create as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsRead,
		m.RecordsSkipped,
		m.RecordsWritten,
		m.DuplicatesDropped,
		m.PartitionsAppended,
		m.ObjectsProcessed,
		m.GeneratorSent,
		m.GeneratorFailed,
		m.ObjectDuration,
	}
}
