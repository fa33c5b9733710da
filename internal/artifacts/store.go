// Package artifacts stores generated binary artifacts such as map images in
// S3-compatible object storage.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned by Get for missing objects.
var ErrNotFound = errors.New("artifact not found")

type Opt func(c *config)

type config struct {
	endpoint  string
	bucket    string
	accessKey string
	secretKey string
	useSSL    bool
	logger    *slog.Logger
}

func WithEndpoint(endpoint string) Opt {
	return func(c *config) { c.endpoint = endpoint }
}

func WithBucket(bucket string) Opt {
	return func(c *config) { c.bucket = bucket }
}

func WithAccessKey(key string) Opt {
	return func(c *config) { c.accessKey = key }
}

func WithSecretKey(key string) Opt {
	return func(c *config) { c.secretKey = key }
}

func WithSSL(useSSL bool) Opt {
	return func(c *config) { c.useSSL = useSSL }
}

func WithLogger(logger *slog.Logger) Opt {
	return func(c *config) { c.logger = logger }
}

// Store reads and writes objects in a single bucket. References returned by
// Put are object keys within that bucket.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New connects to the object store and creates the bucket if it is missing.
func New(ctx context.Context, opts ...Opt) (*Store, error) {
	cfg := &config{bucket: "contextbase", logger: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.endpoint == "" {
		return nil, errors.New("artifacts: endpoint required")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.bucket, err)
		}
		cfg.logger.Info("created artifact bucket", "bucket", cfg.bucket)
	}

	return &Store{client: client, bucket: cfg.bucket, logger: cfg.logger}, nil
}

// Put uploads data under key and returns the reference to store.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// Get downloads the object for ref.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes the object for ref. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}
