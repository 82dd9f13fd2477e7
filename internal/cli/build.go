package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/config"
	"github.com/infobloxopen/bq-ingest/internal/ingest"
	"github.com/infobloxopen/bq-ingest/internal/projector"
	"github.com/infobloxopen/bq-ingest/internal/sink"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
	"github.com/infobloxopen/bq-ingest/internal/warehouse/bq"
	"github.com/infobloxopen/bq-ingest/internal/warehouse/sqldb"
)

// newLogger writes JSON logs at the configured level.
func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func openQuerier(ctx context.Context, cfg config.WarehouseConfig) (warehouse.Querier, error) {
	if cfg.Driver == config.DriverBigQuery {
		creds, err := cfg.CredentialsJSON()
		if err != nil {
			return nil, &warehouse.ClientError{Err: err}
		}
		q, err := bq.New(ctx, bq.Config{
			ProjectID:       cfg.ProjectID,
			CredentialsJSON: creds,
			Location:        cfg.Location,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	q, err := sqldb.Open(ctx, sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// openStore returns the checkpoint store and a function releasing it.
func openStore(cfg config.CheckpointConfig) (checkpoint.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreRedis:
		s := checkpoint.NewRedisStore(checkpoint.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Lease:    cfg.Redis.Lease,
		})
		return s, s.Close, nil
	case config.StoreFile:
		return &checkpoint.FileStore{Dir: cfg.Dir, StaleAfter: cfg.StaleAfter}, func() error { return nil }, nil
	default:
		return nil, nil, &ingest.CheckpointError{Op: "open", Err: fmt.Errorf("unsupported store %q", cfg.Store)}
	}
}

func metadata(cfg *config.Config) sink.Metadata {
	format, _ := projector.ParseFormat(cfg.Input.Format)
	return sink.Metadata{
		Input:       cfg.Input.Name,
		Source:      cfg.Sink.Source,
		Sourcetype:  cfg.Sink.Sourcetype,
		Index:       cfg.Sink.Index,
		Host:        cfg.Sink.Host,
		ContentType: format.ContentType(),
	}
}

// openSink builds the configured sink. S3 objects are keyed by runID.
func openSink(ctx context.Context, cfg *config.Config, stdout io.Writer, runID string) (sink.Writer, error) {
	meta := metadata(cfg)
	sc := cfg.Sink

	switch sc.Type {
	case config.SinkSplunk:
		return sink.NewSplunk(stdout, meta), nil
	case config.SinkDiscard:
		return &sink.Discard{}, nil
	case config.SinkHEC:
		client := &http.Client{Timeout: sc.HEC.Timeout}
		if sc.HEC.InsecureSkipVerify {
			client.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}
		}
		h, err := sink.NewHEC(sink.HECConfig{
			URL:       sc.HEC.URL,
			Token:     sc.HEC.Token,
			BatchSize: sc.HEC.BatchSize,
			Client:    client,
		}, meta)
		if err != nil {
			return nil, &sink.Error{Sink: "hec", Err: err}
		}
		return h, nil
	case config.SinkKafka:
		w, err := sink.NewKafkaWriter(sink.KafkaConfig{
			Brokers:      sc.Kafka.Brokers,
			Topic:        sc.Kafka.Topic,
			WriteTimeout: sc.Kafka.WriteTimeout,
		})
		if err != nil {
			return nil, &sink.Error{Sink: "kafka", Err: err}
		}
		return sink.NewKafka(w, meta, sc.Kafka.BatchSize), nil
	case config.SinkRabbitMQ:
		r, err := sink.DialRabbitMQ(sink.RabbitMQConfig{
			URL:        sc.RabbitMQ.URL,
			Exchange:   sc.RabbitMQ.Exchange,
			RoutingKey: sc.RabbitMQ.RoutingKey,
			Queue:      sc.RabbitMQ.Queue,
		}, meta)
		if err != nil {
			return nil, &sink.Error{Sink: "rabbitmq", Err: err}
		}
		return r, nil
	case config.SinkS3:
		client, err := newS3Client(ctx, sc.S3)
		if err != nil {
			return nil, &sink.Error{Sink: "s3", Err: err}
		}
		w, err := sink.NewS3(client, sc.S3.Bucket, sink.ObjectKey(sc.S3.Prefix, cfg.Input.Name, runID), meta)
		if err != nil {
			return nil, &sink.Error{Sink: "s3", Err: err}
		}
		return w, nil
	default:
		return nil, &sink.Error{Sink: sc.Type, Err: fmt.Errorf("unsupported sink type")}
	}
}

func newS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var cfgOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}
