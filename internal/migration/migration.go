// Package migration evolves a persisted configuration document forward
// across schema versions. Steps operate on raw JSON so provider and sink
// settings they do not know about are carried through byte for byte.
package migration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// CurrentVersion is the schema version this build reads and writes.
const CurrentVersion = 3

// VersionKey is the document field holding the schema version. Version 1
// documents predate it.
const VersionKey = "schemaVersion"

// Document is a configuration document decoded one level deep.
type Document map[string]json.RawMessage

// Step transforms a document at version From into version From+1.
// Apply must default missing optional fields and must leave fields that are
// already in their From+1 shape alone.
type Step struct {
	From  int
	Name  string
	Apply func(Document) (Document, error)
}

// Checkpoint is invoked after every successful step with the document at
// its new version, before the next step starts.
type Checkpoint func(ctx context.Context, doc Document, version int) error

// Migrator applies an ordered chain of steps.
type Migrator struct {
	current int
	steps   map[int]Step
}

// New creates a Migrator targeting current with the given steps.
func New(current int, steps ...Step) *Migrator {
	m := &Migrator{
		current: current,
		steps:   make(map[int]Step, len(steps)),
	}
	for _, s := range steps {
		m.steps[s.From] = s
	}
	return m
}

// Default returns the migrator for the schema history shipped with this build.
func Default() *Migrator {
	return New(CurrentVersion, stepV1ToV2, stepV2ToV3)
}

// Current returns the version the migrator migrates to.
func (m *Migrator) Current() int {
	return m.current
}

// DetectVersion returns the schema version of doc. Documents without a
// version field are version 1.
func DetectVersion(doc Document) (int, error) {
	raw, ok := doc[VersionKey]
	if !ok || isNull(raw) {
		return 1, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer: %v", domain.ErrConfigCorrupt, VersionKey, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("%w: %s %d out of range", domain.ErrConfigCorrupt, VersionKey, v)
	}
	return v, nil
}

// Migrate walks doc from version from up to Current. The version field is
// written only after the corresponding step completes; checkpoint (if any)
// persists each intermediate document so an interrupted chain resumes from
// the last recorded version.
func (m *Migrator) Migrate(ctx context.Context, doc Document, from int, checkpoint Checkpoint) (Document, error) {
	log := logger.FromContext(ctx)

	if from > m.current {
		return nil, fmt.Errorf("%w: document is at version %d, this build supports up to %d",
			domain.ErrConfigUnsupportedVersion, from, m.current)
	}

	for v := from; v < m.current; v++ {
		step, ok := m.steps[v]
		if !ok {
			return nil, fmt.Errorf("%w: no step from version %d to %d", domain.ErrMigrationChainBroken, v, v+1)
		}

		log.Info().
			Int("from_version", v).
			Int("to_version", v+1).
			Str("step", step.Name).
			Msg("Applying configuration migration")

		next, err := step.Apply(clone(doc))
		if err != nil {
			return nil, fmt.Errorf("migration %s (%d→%d): %w", step.Name, v, v+1, err)
		}
		if err := setJSON(next, VersionKey, v+1); err != nil {
			return nil, err
		}

		if checkpoint != nil {
			if err := checkpoint(ctx, next, v+1); err != nil {
				return nil, fmt.Errorf("migration %s: checkpoint: %w", step.Name, err)
			}
		}
		doc = next
	}

	return doc, nil
}

func clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func setJSON(m map[string]json.RawMessage, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	m[key] = raw
	return nil
}
