// Package blob reads and writes whole objects on local disk or Google Cloud
// Storage. Every write carries a version precondition so callers can detect
// that somebody else changed the object since they last read it.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotExist is returned when the object does not exist.
	ErrNotExist = errors.New("blob: object does not exist")

	// ErrVersionMismatch is returned when a write precondition fails.
	ErrVersionMismatch = errors.New("blob: version mismatch")
)

// Version identifies the state of an object at read time.
type Version string

const (
	// Missing is the version of an object that does not exist.
	Missing Version = ""
	// AnyVersion disables the precondition check on writes.
	AnyVersion Version = "*"
)

// Store is a single addressable object.
type Store interface {
	// Open returns a reader over the object along with its current version.
	Open(ctx context.Context) (io.ReadCloser, Version, error)

	// Stat returns the current version, Missing if the object is absent.
	Stat(ctx context.Context) (Version, error)

	// Replace atomically swaps the object content for data. Either the new
	// content is fully visible or the previous content is left intact.
	Replace(ctx context.Context, data []byte, ifVersion Version) error

	// Append adds data at the end of the object without rewriting the
	// existing bytes, creating the object when ifVersion is Missing.
	Append(ctx context.Context, data []byte, ifVersion Version) error

	// Location returns the path or gs:// URI the store addresses.
	Location() string

	// Close releases any client held by the store.
	Close() error
}

// New returns a Store for location: gs://bucket/object URIs map to Google
// Cloud Storage, everything else is treated as a local file path.
func New(ctx context.Context, location string) (Store, error) {
	if IsGCS(location) {
		return NewGCS(ctx, location)
	}
	return NewFile(location), nil
}

// IsGCS reports whether location is a gs:// URI.
func IsGCS(location string) bool {
	return strings.HasPrefix(location, "gs://")
}

// ReadAll reads the whole object.
func ReadAll(ctx context.Context, s Store) ([]byte, Version, error) {
	rc, v, err := s.Open(ctx)
	if err != nil {
		return nil, Missing, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, Missing, fmt.Errorf("blob: read %s: %w", s.Location(), err)
	}
	return buf.Bytes(), v, nil
}

// ReadLocation is a convenience wrapper that opens location, reads it and
// closes the underlying store.
func ReadLocation(ctx context.Context, location string) ([]byte, error) {
	s, err := New(ctx, location)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	data, _, err := ReadAll(ctx, s)
	return data, err
}
