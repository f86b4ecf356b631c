package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrObjectNotFound is returned by Get when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for empty keys or keys escaping the prefix.
	ErrInvalidKey = errors.New("invalid object key")
)

// Object is an opened object. The caller closes it.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

// ObjectStorage defines common object operations across backends.
// Delete of a missing key is not an error.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage validates keys and scopes them under a prefix before handing them
// to a backend, so several deployments can share one bucket.
type Storage struct {
	backend ObjectStorage
	prefix  string
}

// NewStorage constructs a Storage for backend. An empty prefix stores keys
// at the bucket root.
func NewStorage(backend ObjectStorage, prefix string) *Storage {
	return &Storage{
		backend: backend,
		prefix:  strings.Trim(prefix, "/"),
	}
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	full, err := s.objectKey(key)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, full, r, size, contentType)
}

func (s *Storage) Get(ctx context.Context, key string) (*Object, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	return s.backend.Get(ctx, full)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	full, err := s.objectKey(key)
	if err != nil {
		return err
	}
	return s.backend.Delete(ctx, full)
}

func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// objectKey returns the backend key for key.
func (s *Storage) objectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return s.prefix + "/" + cleaned, nil
}

// Close releases the backend when it holds resources.
func (s *Storage) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
