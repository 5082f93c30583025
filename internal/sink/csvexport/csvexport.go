// Package csvexport appends merged transactions to a CSV file on local
// disk or in Cloud Storage. Existing lines are never rewritten.
package csvexport

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/finance-sync/internal/blob"
	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// Target is the run target name of this sink.
const Target = "csv"

// Settings is the sinks.csv block.
type Settings struct {
	Path string `json:"path"`
}

// Sink is the CSV-export sink.
type Sink struct {
	store blob.Store
}

// Factory builds the sink from the configuration document.
func Factory(ctx context.Context, doc *configstore.Document) (sink.Sink, error) {
	var s Settings
	if err := doc.SinkSettings(Target, &s); err != nil {
		return nil, err
	}
	if s.Path == "" {
		return nil, fmt.Errorf("csvexport: sinks.%s.path is not set", Target)
	}
	store, err := blob.New(ctx, s.Path)
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

// New wraps a blob store.
func New(store blob.Store) *Sink {
	return &Sink{store: store}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return Target }

// Close implements sink.Sink.
func (s *Sink) Close() error { return s.store.Close() }

// Snapshot implements sink.Sink. The id column is streamed into a set;
// other columns are not retained.
func (s *Sink) Snapshot(ctx context.Context) (sink.Snapshot, error) {
	rc, version, err := s.store.Open(ctx)
	if errors.Is(err, blob.ErrNotExist) {
		return &snapshot{sink: s, version: blob.Missing, ids: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, err)
	}
	defer rc.Close()

	tail := &tailReader{r: rc}
	reader := csv.NewReader(tail)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	snap := &snapshot{sink: s, version: version, ids: map[string]bool{}}
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrSinkUnavailable, s.store.Location(), err)
		}
		if first {
			first = false
			if len(record) > sink.IDColumn && record[sink.IDColumn] == sink.Header[sink.IDColumn] {
				continue
			}
		}
		if len(record) > sink.IDColumn && record[sink.IDColumn] != "" {
			snap.ids[record[sink.IDColumn]] = true
		}
	}
	snap.hasContent = tail.n > 0
	snap.endsWithNewline = tail.last == '\n'

	log := logger.FromContext(ctx)
	log.Debug().
		Str("location", s.store.Location()).
		Int("existing_ids", len(snap.ids)).
		Msg("Read CSV export keys")
	return snap, nil
}

type snapshot struct {
	sink            *Sink
	version         blob.Version
	ids             map[string]bool
	hasContent      bool
	endsWithNewline bool
}

func (s *snapshot) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		if s.ids[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (s *snapshot) Append(ctx context.Context, txns []domain.Transaction) error {
	var buf bytes.Buffer
	if s.hasContent && !s.endsWithNewline {
		buf.WriteByte('\n')
	}

	w := csv.NewWriter(&buf)
	if !s.hasContent {
		if err := w.Write(sink.Header); err != nil {
			return fmt.Errorf("csvexport: encode header: %w", err)
		}
	}
	for _, t := range txns {
		if err := w.Write(sink.Row(t)); err != nil {
			return fmt.Errorf("csvexport: encode %s: %w", t.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csvexport: encode: %w", err)
	}

	err := s.sink.store.Append(ctx, buf.Bytes(), s.version)
	if errors.Is(err, blob.ErrVersionMismatch) {
		return fmt.Errorf("%w: %v", domain.ErrSinkWriteConflict, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("location", s.sink.store.Location()).
		Int("appended", len(txns)).
		Msg("Appended transactions to CSV export")
	return nil
}

// tailReader remembers how many bytes passed through and the last one.
type tailReader struct {
	r    io.Reader
	n    int64
	last byte
}

func (t *tailReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.n += int64(n)
		t.last = p[n-1]
	}
	return n, err
}
