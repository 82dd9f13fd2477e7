// Package config loads the configuration of a standalone run.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/projector"
)

// Warehouse drivers.
const (
	DriverBigQuery = "bigquery"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Checkpoint stores.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Sink types.
const (
	SinkSplunk   = "splunk"
	SinkHEC      = "hec"
	SinkKafka    = "kafka"
	SinkRabbitMQ = "rabbitmq"
	SinkS3       = "s3"
	SinkDiscard  = "discard"
)

// Config is the full configuration of `bq-ingest run`.
type Config struct {
	LogLevel   string           `koanf:"log_level"`
	Input      InputConfig      `koanf:"input"`
	Warehouse  WarehouseConfig  `koanf:"warehouse"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Sink       SinkConfig       `koanf:"sink"`
}

// InputConfig describes the query and how rows become events.
type InputConfig struct {
	Name            string   `koanf:"name"`
	Query           string   `koanf:"query"`
	TimeField       string   `koanf:"time_field"`
	CheckpointField string   `koanf:"checkpoint_field"`
	CheckpointStart string   `koanf:"checkpoint_start"`
	Blacklist       []string `koanf:"blacklist"`
	Format          string   `koanf:"format"`
	Order           string   `koanf:"checkpoint_order"`
	Binding         bool     `koanf:"checkpoint_binding"`
}

// WarehouseConfig selects and configures the query backend.
type WarehouseConfig struct {
	Driver string `koanf:"driver"`
	// DSN is used by the SQL drivers.
	DSN       string `koanf:"dsn"`
	ProjectID string `koanf:"project_id"`
	Location  string `koanf:"location"`
	// Credentials is a service account JSON document; CredentialsFile is
	// read when it is empty.
	Credentials     string `koanf:"credentials"`
	CredentialsFile string `koanf:"credentials_file"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Store      string        `koanf:"store"`
	Dir        string        `koanf:"dir"`
	StaleAfter time.Duration `koanf:"stale_after"`
	Redis      RedisConfig   `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	Lease    time.Duration `koanf:"lease"`
}

// SinkConfig selects where events go. Source, Sourcetype, Index and Host
// are attached to every event by the sinks that carry metadata.
type SinkConfig struct {
	Type       string         `koanf:"type"`
	Source     string         `koanf:"source"`
	Sourcetype string         `koanf:"sourcetype"`
	Index      string         `koanf:"index"`
	Host       string         `koanf:"host"`
	HEC        HECConfig      `koanf:"hec"`
	Kafka      KafkaConfig    `koanf:"kafka"`
	RabbitMQ   RabbitMQConfig `koanf:"rabbitmq"`
	S3         S3Config       `koanf:"s3"`
}

type HECConfig struct {
	URL                string        `koanf:"url"`
	Token              string        `koanf:"token"`
	BatchSize          int           `koanf:"batch_size"`
	Timeout            time.Duration `koanf:"timeout"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

type KafkaConfig struct {
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	BatchSize    int           `koanf:"batch_size"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type RabbitMQConfig struct {
	URL        string `koanf:"url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
	Queue      string `koanf:"queue"`
}

type S3Config struct {
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`
	Region string `koanf:"region"`
	// Endpoint overrides the S3 endpoint, e.g. LocalStack.
	Endpoint  string `koanf:"endpoint"`
	PathStyle bool   `koanf:"path_style"`
}

// Defaults returns the values applied before any file, env or flag.
func Defaults() map[string]any {
	return map[string]any{
		"log_level":                "info",
		"input.format":             string(projector.FormatJSON),
		"input.checkpoint_order":   string(checkpoint.OrderString),
		"input.checkpoint_start":   checkpoint.DefaultStart,
		"warehouse.driver":         DriverBigQuery,
		"checkpoint.store":         StoreFile,
		"checkpoint.dir":           ".",
		"checkpoint.redis.addr":    "localhost:6379",
		"checkpoint.redis.prefix":  "bq-ingest:",
		"sink.type":                SinkSplunk,
		"sink.hec.batch_size":      100,
		"sink.hec.timeout":         "30s",
		"sink.kafka.batch_size":    100,
		"sink.kafka.write_timeout": "10s",
	}
}

// Validate checks the combination of settings before anything is dialed.
func (c *Config) Validate() error {
	if c.Input.Name == "" {
		return errors.New("input.name is required")
	}
	if c.Input.Query == "" {
		return errors.New("input.query is required")
	}
	if _, err := projector.ParseFormat(c.Input.Format); err != nil {
		return err
	}
	if _, err := checkpoint.ParseOrder(c.Input.Order); err != nil {
		return err
	}

	switch c.Warehouse.Driver {
	case DriverBigQuery:
		if c.Warehouse.Credentials == "" && c.Warehouse.CredentialsFile == "" {
			return errors.New("warehouse.credentials or warehouse.credentials_file is required for bigquery")
		}
	case DriverPostgres, DriverMySQL, DriverSQLite:
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("warehouse.dsn is required for %s", c.Warehouse.Driver)
		}
	default:
		return fmt.Errorf("unsupported warehouse.driver %q", c.Warehouse.Driver)
	}

	switch c.Checkpoint.Store {
	case StoreFile:
		if c.Checkpoint.Dir == "" {
			return errors.New("checkpoint.dir is required for the file store")
		}
	case StoreRedis:
		if c.Checkpoint.Redis.Addr == "" {
			return errors.New("checkpoint.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unsupported checkpoint.store %q", c.Checkpoint.Store)
	}

	switch c.Sink.Type {
	case SinkSplunk, SinkDiscard:
	case SinkHEC:
		if c.Sink.HEC.URL == "" || c.Sink.HEC.Token == "" {
			return errors.New("sink.hec.url and sink.hec.token are required")
		}
	case SinkKafka:
		if len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "" {
			return errors.New("sink.kafka.brokers and sink.kafka.topic are required")
		}
	case SinkRabbitMQ:
		if c.Sink.RabbitMQ.URL == "" {
			return errors.New("sink.rabbitmq.url is required")
		}
	case SinkS3:
		if c.Sink.S3.Bucket == "" {
			return errors.New("sink.s3.bucket is required")
		}
	default:
		return fmt.Errorf("unsupported sink.type %q", c.Sink.Type)
	}
	return nil
}
