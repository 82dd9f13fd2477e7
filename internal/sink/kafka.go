package sink

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/zeebo/xxh3"
)

// DefaultKafkaBatch is the number of messages handed to the writer at once.
const DefaultKafkaBatch = 100

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures NewKafkaWriter.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaWriter builds a synchronous writer that waits for all replicas.
// Messages with the same key land on the same partition.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  1,
		WriteTimeout: timeout,
	}, nil
}

// Kafka publishes one message per event.
type Kafka struct {
	w     MessageWriter
	meta  Metadata
	size  int
	batch []kafka.Message
}

// NewKafka wraps w. Close also closes w.
func NewKafka(w MessageWriter, meta Metadata, batchSize int) *Kafka {
	if batchSize <= 0 {
		batchSize = DefaultKafkaBatch
	}
	return &Kafka{w: w, meta: meta, size: batchSize, batch: make([]kafka.Message, 0, batchSize)}
}

// MessageKey is the xxh3-64 hash of the payload in hex. Replays of the same
// row keep the same key, which lets compacted topics deduplicate them.
func MessageKey(data string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(data))
}

func (k *Kafka) Write(ctx context.Context, e Event) error {
	sec, frac := math.Modf(e.Time)
	k.batch = append(k.batch, kafka.Message{
		Key:   []byte(MessageKey(e.Data)),
		Value: []byte(e.Data),
		Time:  time.Unix(int64(sec), int64(frac*1e9)),
		Headers: []kafka.Header{
			{Key: "input", Value: []byte(k.meta.Input)},
			{Key: "content-type", Value: []byte(k.meta.ContentType)},
		},
	})
	if len(k.batch) >= k.size {
		return k.flush(ctx)
	}
	return nil
}

func (k *Kafka) flush(ctx context.Context) error {
	if len(k.batch) == 0 {
		return nil
	}
	if err := k.w.WriteMessages(ctx, k.batch...); err != nil {
		return &Error{Sink: "kafka", Err: fmt.Errorf("failed to write %d messages: %w", len(k.batch), err)}
	}
	k.batch = k.batch[:0]
	return nil
}

func (k *Kafka) Close(ctx context.Context) error {
	if err := k.flush(ctx); err != nil {
		_ = k.w.Close()
		return err
	}
	if err := k.w.Close(); err != nil {
		return &Error{Sink: "kafka", Err: fmt.Errorf("failed to close writer: %w", err)}
	}
	return nil
}
