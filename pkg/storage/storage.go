package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// ErrPreconditionFailed is returned by WriteIfVersion when the stored object
// no longer matches the expected version.
var ErrPreconditionFailed = errors.New("precondition failed")

// Storage provides an abstraction over key-value style file storage.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)

	// ReadVersioned returns the object together with an opaque version token.
	ReadVersioned(ctx context.Context, path string) ([]byte, string, error)
	// WriteIfVersion writes data only if the stored object still carries
	// version. An empty version means the object must not exist yet.
	WriteIfVersion(ctx context.Context, path string, data []byte, version string) error
}
