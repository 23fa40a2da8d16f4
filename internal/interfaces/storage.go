package interfaces

import (
	"context"
)

// BlobInfo describes a stored object
type BlobInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// BlobStore is the sole channel through which components touch durable
// storage. Keys are path-like with forward slashes. Put is atomic from the
// reader's perspective: partial objects are never observed, and a key
// collision replaces previous content and invalidates the etag.
//
// Implementations are safe for concurrent use. Missing keys surface
// models.ErrNotFound via errors.Is.
type BlobStore interface {
	// Put stores content under key and returns the new etag
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get returns the content and content type stored under key
	Get(ctx context.Context, key string) ([]byte, string, error)

	// List returns all keys with the given prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds an object
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases backend resources
	Close() error
}
