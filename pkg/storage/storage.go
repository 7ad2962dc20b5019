// Package storage holds uploaded files behind a small backend-neutral interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrNotExist is returned when a named object is not in the store.
	ErrNotExist = errors.New("stored file does not exist")
	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("invalid stored file name")
)

// Object is an open stored file. Callers must close Body.
type Object struct {
	Name string
	Body io.ReadCloser
	Size int64
}

// Store is the file store for uploaded images. Names are flat: no directories.
type Store interface {
	// Save writes the content of r under name, replacing any existing object.
	Save(ctx context.Context, name string, r io.Reader, contentType string) error
	// Open returns the object stored under name or ErrNotExist.
	Open(ctx context.Context, name string) (*Object, error)
	// Exists reports whether name is stored.
	Exists(ctx context.Context, name string) (bool, error)
	// Delete removes name. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
}

// Config selects and configures a backend.
type Config struct {
	Type     string // local or s3
	BasePath string
	S3       S3Options
}

// New creates the store described by cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocal(cfg.BasePath)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ValidateName rejects anything but a plain file name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
