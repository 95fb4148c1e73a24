package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/inferno-ml/inferno/log"
)

// S3Config holds connection details for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3 stores blobs in a fixed bucket on an S3-compatible backend.
// GetURL returns presigned GET URLs.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 connects and ensures the bucket exists.
func NewS3(cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	s := &S3{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(); err != nil {
		// Match the original behavior: startup proceeds, uploads will
		// surface the real error.
		log.Logger.Error().Err(err).Str("bucket", cfg.Bucket).Msg("failed to ensure bucket exists")
	}
	return s, nil
}

func (s *S3) ensureBucket() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
		log.Logger.Info().Str("bucket", s.bucket).Msg("created bucket")
	}
	return nil
}

func (s *S3) UploadBytes(ctx context.Context, data []byte, key, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	url, err := s.GetURL(ctx, key, DefaultURLExpiry)
	if err != nil {
		return "", err
	}
	log.Logger.Info().Str("key", key).Int("bytes", len(data)).Msg("uploaded to s3")
	return url, nil
}

func (s *S3) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		log.Logger.Error().Err(err).Str("key", key).Msg("failed to download from s3")
		return nil, nil
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, nil
		}
		log.Logger.Error().Err(err).Str("key", key).Msg("failed to download from s3")
		return nil, nil
	}
	return data, nil
}

func (s *S3) Delete(ctx context.Context, key string) bool {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		log.Logger.Error().Err(err).Str("key", key).Msg("failed to delete from s3")
		return false
	}
	return true
}

func (s *S3) GetURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	if expiresIn <= 0 {
		expiresIn = DefaultURLExpiry
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiresIn, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
