// Package sinktest provides an in-memory sink for tests.
package sinktest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// Memory is a sink.Sink holding rows in memory. Its zero value is not
// usable; call New.
type Memory struct {
	mu      sync.Mutex
	rows    []domain.Transaction
	ids     map[string]bool
	version int

	// SnapshotErr, when set, is returned by Snapshot.
	SnapshotErr error
	// Conflicts makes the next n appends fail with a write conflict.
	Conflicts int
	// OnAppend is called before rows are stored.
	OnAppend func(txns []domain.Transaction)

	Lookups int
	Appends int
}

// New returns a Memory sink pre-populated with rows.
func New(rows ...domain.Transaction) *Memory {
	m := &Memory{ids: make(map[string]bool)}
	for _, r := range rows {
		m.rows = append(m.rows, r)
		m.ids[r.ID] = true
	}
	return m
}

// Name implements sink.Sink.
func (m *Memory) Name() string { return "memory" }

// Close implements sink.Sink.
func (m *Memory) Close() error { return nil }

// Rows returns a copy of the stored rows in append order.
func (m *Memory) Rows() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transaction(nil), m.rows...)
}

// IDs returns the stored ids in append order.
func (m *Memory) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.ID
	}
	return out
}

// Snapshot implements sink.Sink.
func (m *Memory) Snapshot(ctx context.Context) (sink.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SnapshotErr != nil {
		return nil, m.SnapshotErr
	}
	return &snapshot{m: m, version: m.version}, nil
}

type snapshot struct {
	m       *Memory
	version int
}

func (s *snapshot) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.Lookups++
	out := make(map[string]bool)
	for _, id := range ids {
		if s.m.ids[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (s *snapshot) Append(ctx context.Context, txns []domain.Transaction) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.m.Conflicts > 0 {
		s.m.Conflicts--
		s.m.version++
		return fmt.Errorf("%w: memory sink changed", domain.ErrSinkWriteConflict)
	}
	if s.version != s.m.version {
		return fmt.Errorf("%w: memory sink at %d, snapshot %d", domain.ErrSinkWriteConflict, s.m.version, s.version)
	}
	if s.m.OnAppend != nil {
		s.m.OnAppend(txns)
	}
	for _, t := range txns {
		s.m.rows = append(s.m.rows, t)
		s.m.ids[t.ID] = true
	}
	s.m.version++
	s.m.Appends++
	return nil
}
