package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Memory is an in-process Store for tests of code that persists through a
// Store. Versions are a counter bumped on every write. Dry runs never write,
// so they use the configured store as is.
type Memory struct {
	mu      sync.Mutex
	name    string
	data    []byte
	exists  bool
	version int
}

// NewMemory returns an empty Memory store named name.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// NewMemoryWith returns a Memory store holding data.
func NewMemoryWith(name string, data []byte) *Memory {
	return &Memory{name: name, data: append([]byte(nil), data...), exists: true, version: 1}
}

// Location implements Store.
func (m *Memory) Location() string { return "mem://" + m.name }

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Bytes returns a copy of the current content.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Open implements Store.
func (m *Memory) Open(ctx context.Context) (io.ReadCloser, Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return nil, Missing, ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), m.data...))), m.current(), nil
}

// Stat implements Store.
func (m *Memory) Stat(ctx context.Context) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(), nil
}

// Replace implements Store.
func (m *Memory) Replace(ctx context.Context, data []byte, ifVersion Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ifVersion); err != nil {
		return err
	}
	m.data = append([]byte(nil), data...)
	m.exists = true
	m.version++
	return nil
}

// Append implements Store.
func (m *Memory) Append(ctx context.Context, data []byte, ifVersion Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ifVersion); err != nil {
		return err
	}
	m.data = append(m.data, data...)
	m.exists = true
	m.version++
	return nil
}

func (m *Memory) current() Version {
	if !m.exists {
		return Missing
	}
	return Version(strconv.Itoa(m.version))
}

func (m *Memory) check(ifVersion Version) error {
	if ifVersion == AnyVersion {
		return nil
	}
	if cur := m.current(); cur != ifVersion {
		return fmt.Errorf("%w: %s is at %q, expected %q", ErrVersionMismatch, m.Location(), cur, ifVersion)
	}
	return nil
}
