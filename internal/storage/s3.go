// Package storage uploads generated section images to an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/unclebandit/newsletter-backend/internal/config"
)

var (
	ErrInvalidConfig = errors.New("storage: bucket and region are required")
	ErrInvalidKey    = errors.New("storage: invalid object key")
)

// ImageStore persists image bytes and returns a public URL.
type ImageStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// S3Client is the subset of the S3 API used here. Tests replace it.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client  S3Client
	bucket  string
	baseURL string
}

// NewS3Store builds a store from config. A nil client means a real S3 client is created.
func NewS3Store(ctx context.Context, cfg config.S3Config, client S3Client) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	if client == nil {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicBaseURL(cfg),
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public address of an object key.
func (s *S3Store) URL(key string) string {
	return s.baseURL + strings.TrimPrefix(key, "/")
}

func publicBaseURL(cfg config.S3Config) string {
	switch {
	case cfg.BaseURL != "":
		return strings.TrimSuffix(cfg.BaseURL, "/") + "/"
	case cfg.Endpoint != "" && cfg.ForcePathStyle:
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket + "/"
	case cfg.Endpoint != "":
		return virtualHostURL(cfg.Endpoint, cfg.Bucket)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", cfg.Bucket, cfg.Region)
	}
}

// virtualHostURL puts the bucket in front of the endpoint host, the way the
// SDK addresses objects when path style is off. An endpoint that already
// names the bucket is used as is.
func virtualHostURL(endpoint, bucket string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(endpoint, "/") + "/"
	}
	if !strings.HasPrefix(u.Host, bucket+".") {
		u.Host = bucket + "." + u.Host
	}
	return strings.TrimSuffix(u.String(), "/") + "/"
}

// ImageKey is the object key for a section image. Objects are served with a
// year-long cache lifetime, so every generation run writes under its own
// generation segment instead of overwriting the previous image.
func ImageKey(newsletterID, generation string, position int, contentType string) string {
	ext := "png"
	switch contentType {
	case "image/jpeg":
		ext = "jpg"
	case "image/webp":
		ext = "webp"
	}
	return fmt.Sprintf("newsletters/%s/%s/section-%d.%s", newsletterID, generation, position, ext)
}

var _ ImageStore = (*S3Store)(nil)
