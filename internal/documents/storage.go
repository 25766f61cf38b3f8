package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// S3API is the subset of the S3 client used by BlobStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BlobStore reads and writes document payloads in an S3 bucket.
type BlobStore struct {
	client  S3API
	bucket  string
	baseURL string
	logger  *logging.Logger
}

// NewBlobStore wraps an S3 client for the given bucket. baseURL is the
// public prefix download URLs are minted under.
func NewBlobStore(client S3API, bucket, baseURL string, logger *logging.Logger) *BlobStore {
	if client == nil {
		panic("documents: s3 client cannot be nil")
	}
	if bucket == "" {
		panic("documents: bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BlobStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Put uploads a payload under the given key.
func (b *BlobStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("documents: s3 put %s: %w", key, err)
	}
	return nil
}

// Get downloads a payload by key.
func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("documents: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, "", fmt.Errorf("documents: s3 read %s: %w", key, err)
	}
	return buf.Bytes(), aws.ToString(out.ContentType), nil
}

// Delete removes the object at key. A missing object is not an error: the
// metadata record may outlive the blob and deletion should still converge.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			b.logger.Warn("blob already gone", "key", key)
			return nil
		}
		return fmt.Errorf("documents: s3 delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public download URL for a key.
func (b *BlobStore) URL(key string) string {
	return b.baseURL + "/" + key
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404")
}
