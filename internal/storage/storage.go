// Package storage defines the backend that stored files live in.
// The FastDFS implementation is the default; the MinIO implementation works
// with any S3-compatible provider and follows the same group/path convention.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/fdfsweb/gateway/internal/fdfs"
)

// ErrNotFound is returned when the addressed file does not exist.
var ErrNotFound = errors.New("storage: file not found")

// Storage is the interface for storing and retrieving files.
type Storage interface {
	// Upload streams size bytes from r and returns where they were stored.
	Upload(ctx context.Context, r io.Reader, size int64, ext string, meta fdfs.MetaData) (fdfs.StorePath, error)
	// Download streams the file at sp into w.
	Download(ctx context.Context, sp fdfs.StorePath, w io.Writer) (int64, error)
	// Delete removes the file at sp.
	Delete(ctx context.Context, sp fdfs.StorePath) error
	// Metadata returns the key/value annotations of the file at sp.
	Metadata(ctx context.Context, sp fdfs.StorePath) (fdfs.MetaData, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend connections.
	Close() error
}
