// Package storage abstracts where source uploads and rendered clips live.
// Backends: local filesystem and S3-compatible object stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"thirdcoast.systems/clipforge/internal/config"
)

// ErrNotFound indicates the requested key does not exist in the backend.
var ErrNotFound = errors.New("storage: key not found")

// Storage is the minimal surface the worker needs: read a source upload,
// write rendered clips, and hand out links for delivery.
type Storage interface {
	// Open returns a reader for the object at key. ErrNotFound when absent.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Save writes the reader's contents to key, replacing any existing object.
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	// SaveFile uploads a local file to key.
	SaveFile(ctx context.Context, key, path string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// PresignGet returns a time-limited URL for downloading key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// New selects a backend from configuration.
func New(ctx context.Context, conf config.Config) (Storage, error) {
	switch conf.StorageBackend {
	case "local":
		return NewLocal(conf.LocalStoragePath)
	case "s3":
		return NewS3(ctx, conf)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", conf.StorageBackend)
	}
}
