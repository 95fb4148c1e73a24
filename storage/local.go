package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/inferno-ml/inferno/log"
)

// Local stores blobs as files under a base directory. URLs are
// filesystem paths.
type Local struct {
	base string
}

// NewLocal creates the base directory if needed.
func NewLocal(base string) (*Local, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	log.Logger.Info().Str("path", base).Msg("using local storage")
	return &Local{base: base}, nil
}

// UploadBytes writes atomically: a temp file in the target directory
// renamed into place, so readers never observe partial blobs.
func (l *Local) UploadBytes(ctx context.Context, data []byte, key, contentType string) (string, error) {
	path := filepath.Join(l.base, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize blob: %w", err)
	}

	log.Logger.Info().Str("key", key).Int("bytes", len(data)).Msg("saved file locally")
	return path, nil
}

func (l *Local) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	path := filepath.Join(l.base, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Logger.Error().Str("key", key).Msg("file not found")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (l *Local) Delete(ctx context.Context, key string) bool {
	path := filepath.Join(l.base, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Logger.Error().Err(err).Str("key", key).Msg("delete failed")
		}
		return false
	}
	return true
}

// GetURL returns the filesystem path; expiry does not apply locally.
func (l *Local) GetURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	return filepath.Join(l.base, filepath.FromSlash(key)), nil
}
