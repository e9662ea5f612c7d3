package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Catalog.Database != "clickstream_db" || cfg.Catalog.Table != "clickstream_events" {
		t.Errorf("unexpected catalog names %s.%s", cfg.Catalog.Database, cfg.Catalog.Table)
	}
	if cfg.Trigger.WatchDir != cfg.RawStorage.Path {
		t.Errorf("watch dir should default to raw storage path, got %q", cfg.Trigger.WatchDir)
	}
	if want := filepath.Join(cfg.DataDir, "catalog.db"); cfg.Catalog.Path != want {
		t.Errorf("catalog path = %q, want %q", cfg.Catalog.Path, want)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"s3 without bucket", func(c *Config) { c.RawStorage.Type = StorageS3 }, "raw_storage.s3.bucket"},
		{"unknown storage", func(c *Config) { c.TransformedStorage.Type = "gcs" }, "invalid transformed_storage type"},
		{"unknown sink", func(c *Config) { c.Generator.Sink = "pubsub" }, "invalid generator sink"},
		{"kafka without topic", func(c *Config) {
			c.Generator.Sink = SinkKafka
			c.Generator.Kafka.Topic = ""
		}, "generator.kafka"},
		{"oversized batch", func(c *Config) { c.Generator.BatchSize = 501 }, "batch_size"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"no concurrency", func(c *Config) { c.Bulk.ReadConcurrency = 0 }, "read_concurrency"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clickstream.yaml")
	content := `
data_dir: /var/lib/clickstream
transformed_storage:
  type: s3
  s3:
    bucket: clickstream-transformed
    region: eu-west-1
generator:
  sink: kafka
  batch_size: 250
  delay: 500ms
  kafka:
    brokers: [kafka-1:9092, kafka-2:9092]
    topic: events
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.TransformedStorage.S3.Bucket != "clickstream-transformed" {
		t.Errorf("bucket = %q", cfg.TransformedStorage.S3.Bucket)
	}
	if cfg.Generator.BatchSize != 250 || cfg.Generator.Delay != 500*time.Millisecond {
		t.Errorf("generator = %+v", cfg.Generator)
	}
	if len(cfg.Generator.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Generator.Kafka.Brokers)
	}
	// Unset values keep their defaults
	if cfg.Catalog.Table != "clickstream_events" {
		t.Errorf("table = %q", cfg.Catalog.Table)
	}
	if cfg.RawStorage.Path != filepath.Join("/var/lib/clickstream", "raw") {
		t.Errorf("raw path = %q", cfg.RawStorage.Path)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clickstream.json")
	if err := os.WriteFile(path, []byte(`{"bulk": {"job_name": "nightly", "read_concurrency": 2}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Bulk.JobName != "nightly" || cfg.Bulk.ReadConcurrency != 2 {
		t.Errorf("bulk = %+v", cfg.Bulk)
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clickstream.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for .toml config")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RAW_BUCKET", "clickstream-raw")
	t.Setenv("TRANSFORMED_BUCKET", "clickstream-transformed")
	t.Setenv("JOB_NAME", "glue-job")
	t.Setenv("CLICKSTREAM_GENERATOR_BATCH_SIZE", "42")
	t.Setenv("CLICKSTREAM_GENERATOR_DELAY", "2s")
	t.Setenv("CLICKSTREAM_BULK_READ_CONCURRENCY", "not-a-number")
	t.Setenv("CLICKSTREAM_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CLICKSTREAM_TRIGGER_SETTLE", "250ms")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.RawStorage.Type != StorageS3 || cfg.RawStorage.S3.Bucket != "clickstream-raw" {
		t.Errorf("raw storage = %+v", cfg.RawStorage)
	}
	if cfg.TransformedStorage.Type != StorageS3 || cfg.TransformedStorage.S3.Bucket != "clickstream-transformed" {
		t.Errorf("transformed storage = %+v", cfg.TransformedStorage)
	}
	if cfg.Bulk.JobName != "glue-job" {
		t.Errorf("job name = %q", cfg.Bulk.JobName)
	}
	if cfg.Generator.BatchSize != 42 || cfg.Generator.Delay != 2*time.Second {
		t.Errorf("generator = %+v", cfg.Generator)
	}
	if cfg.Bulk.ReadConcurrency != 8 {
		t.Errorf("invalid value should keep default, got %d", cfg.Bulk.ReadConcurrency)
	}
	if len(cfg.Generator.Kafka.Brokers) != 2 || cfg.Generator.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("brokers = %v", cfg.Generator.Kafka.Brokers)
	}
	if cfg.Trigger.Settle != 250*time.Millisecond {
		t.Errorf("settle = %v", cfg.Trigger.Settle)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.RawStorage.Path, cfg.TransformedStorage.Path, cfg.Batch.WorkDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}
