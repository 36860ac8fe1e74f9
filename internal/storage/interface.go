package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// MaxObjectSize bounds how much of an image object is read into memory.
const MaxObjectSize = 20 << 20

var (
	// ErrObjectNotFound is returned by Download when no object exists under the key.
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object too large")
)

// ObjectStorage holds subject image bytes.
type ObjectStorage interface {
	// Upload stores an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading. Callers close the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL of an object, or "" when none is configured.
	GetURL(key string) string

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// ReadObject downloads an object fully, refusing anything over MaxObjectSize.
func ReadObject(ctx context.Context, store ObjectStorage, key string) ([]byte, error) {
	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrObjectTooLarge, key, MaxObjectSize)
	}
	return data, nil
}
