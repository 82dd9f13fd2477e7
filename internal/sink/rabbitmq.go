package sink

import (
	"context"
	"fmt"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQConfig configures DialRabbitMQ.
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	// Queue, when set, is declared durable and used as the routing key for
	// the default exchange.
	Queue string
}

// RabbitMQ publishes one persistent message per event.
type RabbitMQ struct {
	pub        Publisher
	exchange   string
	routingKey string
	meta       Metadata
	closer     func() error
}

// NewRabbitMQ wraps an existing publisher.
func NewRabbitMQ(pub Publisher, exchange, routingKey string, meta Metadata) *RabbitMQ {
	return &RabbitMQ{pub: pub, exchange: exchange, routingKey: routingKey, meta: meta}
}

// DialRabbitMQ connects, opens a channel and optionally declares the queue.
func DialRabbitMQ(cfg RabbitMQConfig, meta Metadata) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	key := cfg.RoutingKey
	if cfg.Queue != "" {
		q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("failed to declare queue: %w", err)
		}
		if key == "" {
			key = q.Name
		}
	}

	r := NewRabbitMQ(ch, cfg.Exchange, key, meta)
	r.closer = func() error {
		if err := ch.Close(); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to close channel: %w", err)
		}
		if err := conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
		return nil
	}
	return r, nil
}

func (r *RabbitMQ) Write(ctx context.Context, e Event) error {
	sec, frac := math.Modf(e.Time)
	err := r.pub.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
		ContentType:  r.meta.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Unix(int64(sec), int64(frac*1e9)),
		MessageId:    MessageKey(e.Data),
		Headers:      amqp.Table{"input": r.meta.Input},
		Body:         []byte(e.Data),
	})
	if err != nil {
		return &Error{Sink: "rabbitmq", Err: fmt.Errorf("failed to publish message: %w", err)}
	}
	return nil
}

func (r *RabbitMQ) Close(context.Context) error {
	if r.closer == nil {
		return nil
	}
	closer := r.closer
	r.closer = nil
	if err := closer(); err != nil {
		return &Error{Sink: "rabbitmq", Err: err}
	}
	return nil
}
