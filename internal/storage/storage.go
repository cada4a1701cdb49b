// Package storage provides the object storage abstraction used as the
// manager's blob sink.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrListFailed     = errors.New("list failed")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStorage abstracts a single bucket of object storage.
// Implementations include S3 (and S3-compatible servers such as MinIO) and
// the local filesystem for development and testing.
type ObjectStorage interface {
	// Put writes body to objectPath, replacing any existing object.
	// size is the body length in bytes, or -1 when unknown.
	Put(ctx context.Context, objectPath string, body io.Reader, size int64) error

	// Get opens the object at objectPath. The caller closes the reader.
	// Returns ErrObjectNotFound when the object does not exist.
	Get(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// ListObjects returns all objects under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
