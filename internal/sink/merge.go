package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// DefaultLookupBatch bounds the number of ids asked of a snapshot at once.
const DefaultLookupBatch = 500

// Options tune Merge.
type Options struct {
	DryRun      bool
	LookupBatch int
}

// WriteResult counts what a merge did.
type WriteResult struct {
	Received  int
	InBatch   int // duplicate ids within the batch
	Existing  int // ids already in the sink
	Appended  int // written, or that would be written on a dry run
	Conflicts int // write conflicts retried
}

// Merge appends the transactions of txns whose id is not yet in s, in
// ascending (date, id) order. A write conflict is retried once against a
// fresh snapshot; a second conflict is returned.
func Merge(ctx context.Context, s Sink, txns []domain.Transaction, opts Options) (*WriteResult, error) {
	log := logger.FromContext(ctx).With().Str("sink", s.Name()).Logger()

	batch := opts.LookupBatch
	if batch <= 0 {
		batch = DefaultLookupBatch
	}

	res := &WriteResult{Received: len(txns)}
	unique := dedupe(txns)
	res.InBatch = len(txns) - len(unique)

	for attempt := 0; ; attempt++ {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return res, fmt.Errorf("Merge: %w", err)
		}

		fresh, err := filterExisting(ctx, snap, unique, batch)
		if err != nil {
			return res, fmt.Errorf("Merge: %w", err)
		}
		res.Existing = len(unique) - len(fresh)
		res.Appended = len(fresh)

		if len(fresh) == 0 {
			return res, nil
		}
		domain.SortForAppend(fresh)

		if opts.DryRun {
			log.Info().
				Int("would_append", len(fresh)).
				Int("existing", res.Existing).
				Msg("[DRY RUN] Would append transactions")
			return res, nil
		}

		err = snap.Append(ctx, fresh)
		if err == nil {
			return res, nil
		}
		res.Appended = 0
		if errors.Is(err, domain.ErrSinkWriteConflict) && attempt == 0 {
			res.Conflicts++
			log.Warn().Err(err).Msg("Sink changed during merge, re-reading existing keys")
			continue
		}
		return res, fmt.Errorf("Merge: %w", err)
	}
}

// dedupe keeps the first transaction for each id.
func dedupe(txns []domain.Transaction) []domain.Transaction {
	seen := make(map[string]bool, len(txns))
	out := make([]domain.Transaction, 0, len(txns))
	for _, t := range txns {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

func filterExisting(ctx context.Context, snap Snapshot, txns []domain.Transaction, batch int) ([]domain.Transaction, error) {
	fresh := make([]domain.Transaction, 0, len(txns))
	for i := 0; i < len(txns); i += batch {
		end := i + batch
		if end > len(txns) {
			end = len(txns)
		}
		chunk := txns[i:end]

		ids := make([]string, len(chunk))
		for j, t := range chunk {
			ids[j] = t.ID
		}
		existing, err := snap.Existing(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, t := range chunk {
			if !existing[t.ID] {
				fresh = append(fresh, t)
			}
		}
	}
	return fresh, nil
}
