// Package config loads and validates the pipeline configuration from a YAML
// file with environment-variable overrides. It provides typed structs for
// every subsystem (Queue, Enrichment, Submitter, Kafka, Redis, Postgres,
// Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Queue      QueueConfig      `yaml:"queue"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Submitter  SubmitterConfig  `yaml:"submitter"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the operational HTTP server settings (health probes).
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// KafkaConfig holds broker and topic settings for the collector boundary.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Documents string `yaml:"documents"`
	Events    string `yaml:"events"`
}

// RedisConfig holds the idempotency dedupe cache connection parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	KeyTTL   time.Duration `yaml:"keyTTL"`
}

// PostgresConfig holds the dead-letter store connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// QueueConfig controls the enrichment queue's worker pools and retry limit.
type QueueConfig struct {
	NormalWorkers       int  `yaml:"normalWorkers"`
	NoAttachmentWorkers int  `yaml:"noAttachmentWorkers"`
	NoAttachmentEnabled bool `yaml:"noAttachmentEnabled"`
	MaxRetries          int  `yaml:"maxRetries"`
}

// CapabilityConfig configures one optional enrichment capability service.
type CapabilityConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"minConfidence"`
	Languages     []string      `yaml:"languages"`
	Model         string        `yaml:"model"`
}

// EnrichmentConfig controls the orchestrator's capability services and
// per-document image parallelism.
type EnrichmentConfig struct {
	ImageParallelism int              `yaml:"imageParallelism"`
	Recognition      CapabilityConfig `yaml:"recognition"`
	Faces            CapabilityConfig `yaml:"faces"`
	Caption          CapabilityConfig `yaml:"caption"`
	Entities         CapabilityConfig `yaml:"entities"`
}

// SubmitterConfig controls batching and retry behavior toward the remote
// ingestion boundary.
type SubmitterConfig struct {
	IngestURL      string        `yaml:"ingestUrl"`
	BatchSize      int           `yaml:"batchSize"`
	MaxRetries     int           `yaml:"maxRetries"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment
// variable overrides, returning a Config with defaults filled in.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with working defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "enrichment-pipeline",
			Topics: KafkaTopics{
				Documents: "collector-documents",
				Events:    "enrichment-events",
			},
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			KeyTTL:   30 * 24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "lifearchive",
			User:            "lifearchive",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Queue: QueueConfig{
			NormalWorkers:       1,
			NoAttachmentWorkers: 1,
			NoAttachmentEnabled: true,
			MaxRetries:          3,
		},
		Enrichment: EnrichmentConfig{
			ImageParallelism: 2,
			Recognition: CapabilityConfig{
				Timeout:   30 * time.Second,
				Languages: []string{"en"},
			},
			Faces: CapabilityConfig{
				Timeout:       30 * time.Second,
				MinConfidence: 0.5,
			},
			Caption: CapabilityConfig{
				Timeout: 60 * time.Second,
			},
			Entities: CapabilityConfig{
				Timeout: 30 * time.Second,
			},
		},
		Submitter: SubmitterConfig{
			IngestURL:      "http://localhost:8090",
			BatchSize:      200,
			MaxRetries:     3,
			RequestTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads EP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("EP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EP_KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
	if v := os.Getenv("EP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("EP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("EP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("EP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("EP_QUEUE_NORMAL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.NormalWorkers = n
		}
	}
	if v := os.Getenv("EP_QUEUE_NO_ATTACHMENT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.NoAttachmentWorkers = n
		}
	}
	if v := os.Getenv("EP_SUBMITTER_INGEST_URL"); v != "" {
		cfg.Submitter.IngestURL = v
	}
	if v := os.Getenv("EP_SUBMITTER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Submitter.BatchSize = n
		}
	}
	if v := os.Getenv("EP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
