// Package storage provides the blob store contract and its two
// backends: local filesystem and S3-compatible object storage.
package storage

import (
	"context"
	"time"

	"github.com/inferno-ml/inferno/config"
)

// DefaultURLExpiry is the presigned URL lifetime when the caller does
// not specify one.
const DefaultURLExpiry = time.Hour

// Storage is the put/get/delete/url contract the core consumes. Keys
// are flat strings; "/" inside a key denotes a logical subpath.
type Storage interface {
	// UploadBytes stores data under key and returns an addressable URL.
	UploadBytes(ctx context.Context, data []byte, key, contentType string) (string, error)
	// DownloadBytes fetches a blob. A missing key returns (nil, nil),
	// not an error.
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	// Delete removes a blob, reporting whether anything was removed.
	Delete(ctx context.Context, key string) bool
	// GetURL returns a fetchable URL for the key, valid for expiresIn
	// on backends that sign URLs.
	GetURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)
}

// New picks the backend from configuration: local filesystem when
// UseLocalStorage is set, S3-compatible otherwise.
func New(cfg *config.Settings) (Storage, error) {
	if cfg.UseLocalStorage {
		return NewLocal(cfg.LocalStorage)
	}
	return NewS3(S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
}
