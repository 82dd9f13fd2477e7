package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKafka struct {
	calls  [][]kafka.Message
	err    error
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, append([]kafka.Message(nil), msgs...))
	return nil
}

func (f *fakeKafka) Close() error {
	f.closed = true
	return nil
}

func TestKafka_BatchesAndHeaders(t *testing.T) {
	fw := &fakeKafka{}
	k := NewKafka(fw, Metadata{Input: "orders", ContentType: "application/json"}, 2)
	ctx := context.Background()

	require.NoError(t, k.Write(ctx, Event{Time: 1700000000.5, Data: `{"a":1}`}))
	assert.Empty(t, fw.calls)
	require.NoError(t, k.Write(ctx, Event{Time: 1700000001, Data: `{"a":2}`}))
	require.Len(t, fw.calls, 1)
	require.NoError(t, k.Write(ctx, Event{Time: 1700000002, Data: `{"a":1}`}))
	require.NoError(t, k.Close(ctx))

	require.Len(t, fw.calls, 2)
	assert.True(t, fw.closed)

	m := fw.calls[0][0]
	assert.Equal(t, []byte(`{"a":1}`), m.Value)
	assert.Equal(t, MessageKey(`{"a":1}`), string(m.Key))
	assert.Len(t, string(m.Key), 16)
	assert.Equal(t, time.Unix(1700000000, 5e8), m.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "input", Value: []byte("orders")},
		{Key: "content-type", Value: []byte("application/json")},
	}, m.Headers)

	assert.Equal(t, m.Key, fw.calls[1][0].Key, "same payload keeps its key")
	assert.NotEqual(t, m.Key, fw.calls[0][1].Key)
}

func TestKafka_WriteError(t *testing.T) {
	fw := &fakeKafka{err: errors.New("leader not available")}
	k := NewKafka(fw, Metadata{}, 1)

	err := k.Write(context.Background(), Event{Data: "x"})
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "kafka", se.Sink)
}

func TestNewKafkaWriter(t *testing.T) {
	w, err := NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"})
	require.NoError(t, err)
	assert.Equal(t, "events", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	require.NoError(t, w.Close())

	_, err = NewKafkaWriter(KafkaConfig{Topic: "events"})
	assert.Error(t, err)
	_, err = NewKafkaWriter(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakePublisher struct {
	msgs []published
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.msgs = append(f.msgs, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestRabbitMQ_Publish(t *testing.T) {
	fp := &fakePublisher{}
	r := NewRabbitMQ(fp, "logs", "bigquery.orders", Metadata{Input: "orders", ContentType: "text/tab-separated-values"})

	require.NoError(t, r.Write(context.Background(), Event{Time: 1700000000, Data: "a\tb\n"}))
	require.NoError(t, r.Close(context.Background()))

	require.Len(t, fp.msgs, 1)
	p := fp.msgs[0]
	assert.Equal(t, "logs", p.exchange)
	assert.Equal(t, "bigquery.orders", p.key)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, "text/tab-separated-values", p.msg.ContentType)
	assert.Equal(t, []byte("a\tb\n"), p.msg.Body)
	assert.Equal(t, "orders", p.msg.Headers["input"])
	assert.Equal(t, time.Unix(1700000000, 0), p.msg.Timestamp)
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, b)
	return &s3.PutObjectOutput{}, nil
}

func TestS3_UploadsCompressedNDJSON(t *testing.T) {
	fp := &fakePutter{}
	key := ObjectKey("archive", "orders", "run-1")
	assert.Equal(t, "archive/orders/run-1.ndjson.zst", key)

	s, err := NewS3(fp, "bucket", key, Metadata{Input: "orders", Sourcetype: "bigquery"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, Event{Time: 1700000000, Data: `{"a":1}`}))
	require.NoError(t, s.Write(ctx, Event{Time: 1700000000.5, Data: `{"a":2}`}))
	assert.Equal(t, 2, s.Count())
	assert.Empty(t, fp.inputs, "nothing is uploaded before Close")
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	require.Len(t, fp.inputs, 1)
	assert.Equal(t, "bucket", *fp.inputs[0].Bucket)
	assert.Equal(t, key, *fp.inputs[0].Key)
	assert.Equal(t, "zstd", *fp.inputs[0].ContentEncoding)

	zr, err := zstd.NewReader(bytes.NewReader(fp.bodies[0]))
	require.NoError(t, err)
	defer zr.Close()

	lines := hecLines(t, zr)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":1}`, lines[0].Event)
	assert.Equal(t, "orders", lines[0].Source)
	assert.Equal(t, "1700000000.5", lines[1].Time.String())
}

func TestS3_EmptyRunUploadsNothing(t *testing.T) {
	fp := &fakePutter{}
	s, err := NewS3(fp, "bucket", "k", Metadata{})
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))
	assert.Empty(t, fp.inputs)

	_, err = NewS3(fp, "", "k", Metadata{})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	d := &Discard{}
	require.NoError(t, d.Write(context.Background(), Event{}))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, d.Count)
}
