// Package config provides unified configuration for the clickstream tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Storage types.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Generator sinks.
const (
	SinkFirehose = "firehose"
	SinkKafka    = "kafka"
	SinkNATS     = "nats"
	SinkStorage  = "storage"
)

// Config holds the configuration shared by every clickstream binary.
type Config struct {
	// DataDir is the base directory for local data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// RawStorage holds the events delivered by the buffer
	RawStorage StorageConfig `json:"raw_storage" yaml:"raw_storage"`

	// TransformedStorage holds the partitioned dataset
	TransformedStorage StorageConfig `json:"transformed_storage" yaml:"transformed_storage"`

	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog"`
	Batch     BatchConfig     `json:"batch" yaml:"batch"`
	Bulk      BulkConfig      `json:"bulk" yaml:"bulk"`
	Generator GeneratorConfig `json:"generator" yaml:"generator"`
	Trigger   TriggerConfig   `json:"trigger" yaml:"trigger"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// StorageConfig selects and configures an object store.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// CatalogConfig locates the catalog database and names the dataset table.
type CatalogConfig struct {
	Path     string `json:"path" yaml:"path"`
	Database string `json:"database" yaml:"database"`
	Table    string `json:"table" yaml:"table"`
}

// BatchConfig holds per-object runner configuration.
type BatchConfig struct {
	// WorkDir holds partition files while they are built
	WorkDir string `json:"work_dir" yaml:"work_dir"`
}

// BulkConfig holds whole-dataset job configuration.
type BulkConfig struct {
	JobName         string `json:"job_name" yaml:"job_name"`
	SourcePrefix    string `json:"source_prefix" yaml:"source_prefix"`
	ReadConcurrency int    `json:"read_concurrency" yaml:"read_concurrency"`
}

// GeneratorConfig holds synthetic event generation configuration.
type GeneratorConfig struct {
	// Sink is the buffer events are submitted to: firehose, kafka, nats, storage
	Sink string `json:"sink" yaml:"sink"`

	// DeliveryStream names the Firehose stream, and the object name prefix
	// for the storage sink
	DeliveryStream string `json:"delivery_stream" yaml:"delivery_stream"`
	Region         string `json:"region" yaml:"region"`

	BatchSize  int           `json:"batch_size" yaml:"batch_size"`
	Delay      time.Duration `json:"delay" yaml:"delay"`
	MaxBatches int           `json:"max_batches" yaml:"max_batches"`
	Seed       int64         `json:"seed" yaml:"seed"`

	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
	NATS  NATSConfig  `json:"nats" yaml:"nats"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// NATSConfig configures the NATS JetStream sink.
type NATSConfig struct {
	URL     string        `json:"url" yaml:"url"`
	Subject string        `json:"subject" yaml:"subject"`
	Stream  string        `json:"stream" yaml:"stream"`
	MaxAge  time.Duration `json:"max_age" yaml:"max_age"`
}

// TriggerConfig configures the local object-created trigger.
type TriggerConfig struct {
	// WatchDir is the raw directory to watch (defaults to raw_storage.path)
	WatchDir   string        `json:"watch_dir" yaml:"watch_dir"`
	Attempts   int           `json:"attempts" yaml:"attempts"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
	// Settle is how long a file must go without writes before it is
	// processed
	Settle time.Duration `json:"settle" yaml:"settle"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or text
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig holds the metrics endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:            "./data/clickstream",
		RawStorage:         StorageConfig{Type: StorageLocal},
		TransformedStorage: StorageConfig{Type: StorageLocal},
		Catalog: CatalogConfig{
			Database: "clickstream_db",
			Table:    "clickstream_events",
		},
		Bulk: BulkConfig{
			JobName:         "clickstream-bulk",
			ReadConcurrency: 8,
		},
		Generator: GeneratorConfig{
			Sink:           SinkStorage,
			DeliveryStream: "clickstream-firehose",
			Region:         "us-east-1",
			BatchSize:      100,
			Delay:          time.Second,
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "clickstream-raw",
			},
			NATS: NATSConfig{
				URL:     "nats://127.0.0.1:4222",
				Subject: "clickstream.raw",
				Stream:  "CLICKSTREAM",
				MaxAge:  24 * time.Hour,
			},
		},
		Trigger: TriggerConfig{
			Attempts:   3,
			RetryDelay: time.Second,
			Settle:     500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/clickstream"
	}

	if c.RawStorage.Path == "" {
		c.RawStorage.Path = filepath.Join(c.DataDir, "raw")
	}
	if c.TransformedStorage.Path == "" {
		c.TransformedStorage.Path = filepath.Join(c.DataDir, "transformed")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Batch.WorkDir == "" {
		c.Batch.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Trigger.WatchDir == "" {
		c.Trigger.WatchDir = c.RawStorage.Path
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if err := c.RawStorage.validate("raw_storage"); err != nil {
		return err
	}
	if err := c.TransformedStorage.validate("transformed_storage"); err != nil {
		return err
	}
	if c.Catalog.Database == "" || c.Catalog.Table == "" {
		return fmt.Errorf("catalog.database and catalog.table are required")
	}
	if c.Bulk.ReadConcurrency < 1 {
		return fmt.Errorf("bulk.read_concurrency must be positive, got %d", c.Bulk.ReadConcurrency)
	}

	switch c.Generator.Sink {
	case SinkFirehose:
		if c.Generator.DeliveryStream == "" {
			return fmt.Errorf("generator.delivery_stream is required for the firehose sink")
		}
	case SinkKafka:
		if len(c.Generator.Kafka.Brokers) == 0 || c.Generator.Kafka.Topic == "" {
			return fmt.Errorf("generator.kafka.brokers and generator.kafka.topic are required for the kafka sink")
		}
	case SinkNATS:
		if c.Generator.NATS.URL == "" || c.Generator.NATS.Subject == "" {
			return fmt.Errorf("generator.nats.url and generator.nats.subject are required for the nats sink")
		}
	case SinkStorage:
	default:
		return fmt.Errorf("invalid generator sink: %s (must be firehose, kafka, nats, or storage)", c.Generator.Sink)
	}
	if c.Generator.BatchSize < 1 || c.Generator.BatchSize > 500 {
		return fmt.Errorf("generator.batch_size must be between 1 and 500, got %d", c.Generator.BatchSize)
	}
	if c.Generator.Delay < 0 {
		return fmt.Errorf("generator.delay must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}
	return nil
}

func (s StorageConfig) validate(section string) error {
	switch s.Type {
	case StorageLocal:
		if s.Path == "" {
			return fmt.Errorf("%s.path is required when storage type is local", section)
		}
	case StorageS3:
		if s.S3.Bucket == "" {
			return fmt.Errorf("%s.s3.bucket is required when storage type is s3", section)
		}
	default:
		return fmt.Errorf("invalid %s type: %s (must be local or s3)", section, s.Type)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CLICKSTREAM_ prefix. RAW_BUCKET,
// TRANSFORMED_BUCKET and JOB_NAME are honored as well and select S3.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CLICKSTREAM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Storage configuration
	loadStorageEnv(&cfg.RawStorage, "CLICKSTREAM_RAW_")
	loadStorageEnv(&cfg.TransformedStorage, "CLICKSTREAM_TRANSFORMED_")
	if v := os.Getenv("RAW_BUCKET"); v != "" {
		cfg.RawStorage.Type = StorageS3
		cfg.RawStorage.S3.Bucket = v
	}
	if v := os.Getenv("TRANSFORMED_BUCKET"); v != "" {
		cfg.TransformedStorage.Type = StorageS3
		cfg.TransformedStorage.S3.Bucket = v
	}

	// Catalog configuration
	if v := os.Getenv("CLICKSTREAM_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("CLICKSTREAM_CATALOG_DATABASE"); v != "" {
		cfg.Catalog.Database = v
	}
	if v := os.Getenv("CLICKSTREAM_CATALOG_TABLE"); v != "" {
		cfg.Catalog.Table = v
	}

	if v := os.Getenv("CLICKSTREAM_BATCH_WORK_DIR"); v != "" {
		cfg.Batch.WorkDir = v
	}

	// Bulk configuration
	if v := os.Getenv("JOB_NAME"); v != "" {
		cfg.Bulk.JobName = v
	}
	if v := os.Getenv("CLICKSTREAM_BULK_JOB_NAME"); v != "" {
		cfg.Bulk.JobName = v
	}
	if v := os.Getenv("CLICKSTREAM_BULK_SOURCE_PREFIX"); v != "" {
		cfg.Bulk.SourcePrefix = v
	}
	if v := os.Getenv("CLICKSTREAM_BULK_READ_CONCURRENCY"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.Bulk.ReadConcurrency = n
		}
	}

	// Generator configuration
	if v := os.Getenv("CLICKSTREAM_GENERATOR_SINK"); v != "" {
		cfg.Generator.Sink = v
	}
	if v := os.Getenv("CLICKSTREAM_GENERATOR_DELIVERY_STREAM"); v != "" {
		cfg.Generator.DeliveryStream = v
	}
	if v := os.Getenv("CLICKSTREAM_GENERATOR_REGION"); v != "" {
		cfg.Generator.Region = v
	}
	if v := os.Getenv("CLICKSTREAM_GENERATOR_BATCH_SIZE"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.Generator.BatchSize = n
		}
	}
	if v := os.Getenv("CLICKSTREAM_GENERATOR_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Generator.Delay = d
		}
	}
	if v := os.Getenv("CLICKSTREAM_GENERATOR_SEED"); v != "" {
		if n, err := cast.ToInt64E(v); err == nil {
			cfg.Generator.Seed = n
		}
	}
	if v := os.Getenv("CLICKSTREAM_KAFKA_BROKERS"); v != "" {
		cfg.Generator.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKSTREAM_KAFKA_TOPIC"); v != "" {
		cfg.Generator.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKSTREAM_NATS_URL"); v != "" {
		cfg.Generator.NATS.URL = v
	}
	if v := os.Getenv("CLICKSTREAM_NATS_SUBJECT"); v != "" {
		cfg.Generator.NATS.Subject = v
	}

	if v := os.Getenv("CLICKSTREAM_TRIGGER_WATCH_DIR"); v != "" {
		cfg.Trigger.WatchDir = v
	}
	if v := os.Getenv("CLICKSTREAM_TRIGGER_SETTLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Trigger.Settle = d
		}
	}

	// Logging and metrics
	if v := os.Getenv("CLICKSTREAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CLICKSTREAM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CLICKSTREAM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

func loadStorageEnv(s *StorageConfig, prefix string) {
	if v := os.Getenv(prefix + "STORAGE_TYPE"); v != "" {
		s.Type = v
	}
	if v := os.Getenv(prefix + "STORAGE_PATH"); v != "" {
		s.Path = v
	}
	if v := os.Getenv(prefix + "PREFIX"); v != "" {
		s.Prefix = v
	}
	if v := os.Getenv(prefix + "S3_BUCKET"); v != "" {
		s.S3.Bucket = v
	}
	if v := os.Getenv(prefix + "S3_REGION"); v != "" {
		s.S3.Region = v
	}
	if v := os.Getenv(prefix + "S3_ENDPOINT"); v != "" {
		s.S3.Endpoint = v
	}
}

// EnsureDirectories creates the local directories the configuration uses.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Batch.WorkDir, filepath.Dir(c.Catalog.Path)}
	if c.RawStorage.Type == StorageLocal {
		dirs = append(dirs, c.RawStorage.Path)
	}
	if c.TransformedStorage.Type == StorageLocal {
		dirs = append(dirs, c.TransformedStorage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
