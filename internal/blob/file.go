package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store backed by a local file.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a Store for the file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Location implements Store.
func (f *File) Location() string { return f.path }

// Close implements Store.
func (f *File) Close() error { return nil }

// Open implements Store.
func (f *File) Open(ctx context.Context) (io.ReadCloser, Version, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Missing, ErrNotExist
		}
		return nil, Missing, fmt.Errorf("blob: open %s: %w", f.path, err)
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, Missing, fmt.Errorf("blob: stat %s: %w", f.path, err)
	}
	return fh, fileVersion(info), nil
}

// Stat implements Store.
func (f *File) Stat(ctx context.Context) (Version, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Missing, nil
		}
		return Missing, fmt.Errorf("blob: stat %s: %w", f.path, err)
	}
	return fileVersion(info), nil
}

// Replace implements Store by writing a sibling temp file, syncing it and
// renaming it over the target.
func (f *File) Replace(ctx context.Context, data []byte, ifVersion Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, ifVersion); err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("blob: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("blob: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blob: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("blob: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("blob: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("blob: rename into %s: %w", f.path, err)
	}
	return nil
}

// Append implements Store.
func (f *File) Append(ctx context.Context, data []byte, ifVersion Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, ifVersion); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("blob: create dir: %w", err)
	}

	fh, err := os.OpenFile(f.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("blob: open %s for append: %w", f.path, err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return fmt.Errorf("blob: append to %s: %w", f.path, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("blob: sync %s: %w", f.path, err)
	}
	return fh.Close()
}

func (f *File) check(ctx context.Context, ifVersion Version) error {
	if ifVersion == AnyVersion {
		return nil
	}
	cur, err := f.Stat(ctx)
	if err != nil {
		return err
	}
	if cur != ifVersion {
		return fmt.Errorf("%w: %s is at %q, expected %q", ErrVersionMismatch, f.path, cur, ifVersion)
	}
	return nil
}

func fileVersion(info fs.FileInfo) Version {
	return Version(fmt.Sprintf("%d.%d", info.Size(), info.ModTime().UnixNano()))
}
