package store

import (
	"context"
	"errors"
	"io"
)

// ErrHandleNotFound is returned when a handle has already been released or never existed.
var ErrHandleNotFound = errors.New("handle not found")

// Handle is an opaque reference to stored output bytes.
type Handle struct {
	// Key identifies the object inside the backend.
	Key string
	// URL is a retrievable location for preview or download.
	URL string
	// Size is the stored byte count.
	Size int64
	// ContentType is the MIME type the bytes were stored with.
	ContentType string
}

// Store keeps encoded outputs until they are explicitly released.
type Store interface {
	// Put stores data under a backend-chosen key derived from name.
	Put(ctx context.Context, name string, data []byte, contentType string) (Handle, error)
	// Open returns a reader over the stored bytes.
	Open(ctx context.Context, h Handle) (io.ReadCloser, error)
	// Release frees the stored bytes. Releasing twice returns ErrHandleNotFound.
	Release(ctx context.Context, h Handle) error
}

// ReadAll opens h and reads it fully.
func ReadAll(ctx context.Context, s Store, h Handle) ([]byte, error) {
	rc, err := s.Open(ctx, h)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
