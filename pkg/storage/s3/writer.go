// Package s3 provides an object-store sink that archives record batches as
// JSON-lines objects, one object per flushed batch.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
)

// Writer implements the sink.Writer contract on top of S3. Batches land under
// <prefix>/<destination>/<yyyy>/<mm>/<dd>/<unix-nanos>.jsonl so a day of
// windows is one listable prefix.
type Writer struct {
	client *awss3.Client
	bucket string
	prefix string
	now    func() time.Time
}

func NewWriter(ctx context.Context, bucket, prefix string) (*Writer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Writer{
		client: awss3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (w *Writer) Name() string {
	return "s3"
}

func (w *Writer) WriteBatch(ctx context.Context, destination string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return w.put(ctx, destination, buf.Bytes())
}

func (w *Writer) WriteOne(ctx context.Context, destination string, record any) error {
	return w.WriteBatch(ctx, destination, []any{record})
}

func (w *Writer) put(ctx context.Context, destination string, body []byte) error {
	now := w.now().UTC()
	key := fmt.Sprintf("%s/%s/%04d/%02d/%02d/%d.jsonl",
		w.prefix, destination, now.Year(), now.Month(), now.Day(), now.UnixNano())

	_, err := w.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", w.bucket, key, err)
	}
	return nil
}
