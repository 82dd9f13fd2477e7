package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// Putter is the part of *s3.Client the sink uses.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 archives a run as one zstd-compressed NDJSON object of HEC envelopes.
// The object is uploaded on Close; an empty run uploads nothing.
type S3 struct {
	client Putter
	bucket string
	key    string
	meta   Metadata

	buf   bytes.Buffer
	zw    *zstd.Encoder
	count int
}

// ObjectKey returns "<prefix>/<input>/<runID>.ndjson.zst".
func ObjectKey(prefix, input, runID string) string {
	return path.Join(prefix, input, runID+".ndjson.zst")
}

// NewS3 returns a sink writing to bucket/key.
func NewS3(client Putter, bucket, key string, meta Metadata) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	s := &S3{client: client, bucket: bucket, key: key, meta: meta}
	zw, err := zstd.NewWriter(&s.buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	s.zw = zw
	return s, nil
}

// Count returns how many events have been buffered.
func (s *S3) Count() int { return s.count }

func (s *S3) Write(_ context.Context, e Event) error {
	b, err := json.Marshal(newHECEvent(s.meta, e))
	if err != nil {
		return &Error{Sink: "s3", Err: fmt.Errorf("failed to encode event: %w", err)}
	}
	b = append(b, '\n')
	if _, err := s.zw.Write(b); err != nil {
		return &Error{Sink: "s3", Err: fmt.Errorf("failed to compress event: %w", err)}
	}
	s.count++
	return nil
}

func (s *S3) Close(ctx context.Context) error {
	if s.zw == nil {
		return nil
	}
	err := s.zw.Close()
	s.zw = nil
	if err != nil {
		return &Error{Sink: "s3", Err: fmt.Errorf("failed to finish zstd stream: %w", err)}
	}
	if s.count == 0 {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.key),
		Body:            bytes.NewReader(s.buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return &Error{Sink: "s3", Err: fmt.Errorf("failed to upload %s/%s: %w", s.bucket, s.key, err)}
	}
	return nil
}
