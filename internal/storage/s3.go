package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Storage implements Destination on S3-compatible storage (AWS S3, MinIO,
// etc.). Every key is placed under prefix in bucket.
type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewS3Storage creates a new S3-compatible destination
// Works with AWS S3, MinIO, Wasabi, DigitalOcean Spaces, and other S3-compatible services
func NewS3Storage(endpoint, accessKey, secretKey, region string, useSSL bool, bucket, prefix string) (*S3Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("region", region).
		Str("bucket", bucket).
		Str("prefix", prefix).
		Bool("ssl", useSSL).
		Msg("S3-compatible destination initialized")

	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: region,
	}, nil
}

// Name returns the provider name
func (s3 *S3Storage) Name() string {
	return "s3"
}

// String returns the s3:// location
func (s3 *S3Storage) String() string {
	if s3.prefix == "" {
		return "s3://" + s3.bucket
	}
	return "s3://" + s3.bucket + "/" + s3.prefix
}

// objectKey maps a destination key to the bucket object name.
func (s3 *S3Storage) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s3.prefix == "" {
		return path.Clean(key)
	}
	return path.Join(s3.prefix, key)
}

// EnsureBucket creates the bucket when it does not exist yet
func (s3 *S3Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s3.client.BucketExists(ctx, s3.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s3.client.MakeBucket(ctx, s3.bucket, minio.MakeBucketOptions{Region: s3.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	log.Info().Str("bucket", s3.bucket).Msg("Bucket created")
	return nil
}

// Upload uploads a file to S3
func (s3 *S3Storage) Upload(ctx context.Context, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	putOpts := minio.PutObjectOptions{
		ContentType:     opts.ContentType,
		CacheControl:    opts.CacheControl,
		ContentEncoding: opts.ContentEncoding,
	}

	info, err := s3.client.PutObject(ctx, s3.bucket, s3.objectKey(key), data, size, putOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().
		Str("bucket", s3.bucket).
		Str("key", info.Key).
		Int64("size", info.Size).
		Msg("File uploaded to S3")

	return &Object{
		Key:          key,
		Size:         info.Size,
		ContentType:  opts.ContentType,
		LastModified: time.Now(),
		ETag:         info.ETag,
	}, nil
}

// Delete deletes a file from S3
func (s3 *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s3.client.RemoveObject(ctx, s3.bucket, s3.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	log.Debug().
		Str("bucket", s3.bucket).
		Str("key", s3.objectKey(key)).
		Msg("File deleted from S3")
	return nil
}

// Exists checks if a file exists
func (s3 *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s3.client.StatObject(ctx, s3.bucket, s3.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
