package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Store is an S3-compatible blob store backend. Custom endpoints and
// path-style addressing cover MinIO and other S3-compatible servers.
type Store struct {
	client *s3.Client
	bucket string
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.BlobStore = (*Store)(nil)

// NewStore creates an S3 blob store from configuration
func NewStore(ctx context.Context, cfg *common.S3StoreConfig, logger arbor.ILogger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	logger.Debug().
		Str("bucket", cfg.Bucket).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 blob store initialized")

	return &Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads content under key. S3 PUTs are atomic by contract.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", classify("put", key, err)
	}
	etag := strings.Trim(aws.ToString(out.ETag), `"`)
	s.logger.Trace().Str("key", key).Int("size", len(data)).Msg("Blob stored")
	return etag, nil
}

// Get downloads the content stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", fmt.Errorf("blob %s: %w", key, models.ErrNotFound)
		}
		return nil, "", classify("get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", classify("get", key, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// List pages through all keys under prefix
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes the object under key
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("delete", key, err)
	}
	return nil
}

// Exists probes key with a HEAD request
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		if strings.Contains(err.Error(), "StatusCode: 404") {
			return false, nil
		}
		return false, classify("exists", key, err)
	}
	return true, nil
}

// Close releases the client (no persistent connections to tear down)
func (s *Store) Close() error {
	return nil
}

// classify maps SDK errors onto the storage error taxonomy. Throttling and
// 5xx responses are transient; everything else is permanent.
func classify(op, key string, err error) error {
	msg := err.Error()
	transient := strings.Contains(msg, "SlowDown") ||
		strings.Contains(msg, "Throttl") ||
		strings.Contains(msg, "RequestTimeout") ||
		strings.Contains(msg, "StatusCode: 5") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout")

	kind := models.ErrKindStoragePermanent
	if transient {
		kind = models.ErrKindStorageTransient
	}
	return models.NewPipelineError(kind, "storage", fmt.Sprintf("s3 %s failed for %s", op, key), err)
}
