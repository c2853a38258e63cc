// Package storage abstracts the physical blob store behind a narrow
// write/read/delete contract so the upload engine works the same against a
// local disk or an object store.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blob not found")

// BlobStore is a byte-addressable key/value store. Keys are slash-separated
// relative paths; implementations must treat them as opaque beyond that.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every blob whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// ListKeys returns the keys currently stored under prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
