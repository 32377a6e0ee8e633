package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the bucket holding journal media.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Cleaner deletes media objects from an S3-compatible bucket.
type S3Cleaner struct {
	client s3API
	bucket string
	logger *slog.Logger
}

// NewS3Cleaner builds a client from cfg. Static credentials are used when
// an access key is configured; otherwise the default AWS credential chain
// applies.
func NewS3Cleaner(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Cleaner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Bucket == "" {
		return nil, errors.New("media: s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Cleaner{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Remove deletes the object at path. Paths may be bare keys or
// "s3://bucket/key" URLs; a URL naming another bucket is refused.
func (c *S3Cleaner) Remove(ctx context.Context, path string) error {
	key, err := c.objectKey(path)
	if err != nil {
		return err
	}

	if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("media: deleting %s: %w", path, err)
	}

	c.logger.Debug("removed media object", slog.String("bucket", c.bucket), slog.String("key", key))

	return nil
}

func (c *S3Cleaner) objectKey(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || key == "" {
			return "", fmt.Errorf("media: malformed path %q", path)
		}

		if bucket != c.bucket {
			return "", fmt.Errorf("media: path %q is outside bucket %s", path, c.bucket)
		}

		return key, nil
	}

	key := strings.TrimPrefix(path, "/")
	if key == "" {
		return "", fmt.Errorf("media: empty path")
	}

	return key, nil
}
