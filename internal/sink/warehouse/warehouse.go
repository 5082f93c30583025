// Package warehouse appends merged transactions to a BigQuery table.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// Target is the run target name of this sink.
const Target = "bigquery"

// Settings is the sinks.bigquery block.
type Settings struct {
	ProjectID string `json:"projectId"`
	Dataset   string `json:"dataset"`
	Table     string `json:"table,omitempty"`
}

// Sink is the BigQuery sink. BigQuery has no optimistic concurrency for
// streaming inserts, so appends never report write conflicts; insert ids
// cover retries instead.
type Sink struct {
	repo Repository
	now  func() time.Time
}

// Factory builds the sink from the configuration document.
func Factory(ctx context.Context, doc *configstore.Document) (sink.Sink, error) {
	var s Settings
	if err := doc.SinkSettings(Target, &s); err != nil {
		return nil, err
	}
	if s.ProjectID == "" || s.Dataset == "" {
		return nil, fmt.Errorf("warehouse: sinks.%s needs projectId and dataset", Target)
	}
	if s.Table == "" {
		s.Table = "transactions"
	}

	repo, err := NewBigQueryRepository(ctx, s.ProjectID, s.Dataset, s.Table)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureTable(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return New(repo), nil
}

// New wraps a repository.
func New(repo Repository) *Sink {
	return &Sink{repo: repo, now: time.Now}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return Target }

// Close implements sink.Sink.
func (s *Sink) Close() error { return s.repo.Close() }

// Snapshot implements sink.Sink. Keys are looked up per batch with a
// parameterized query instead of scanning the table.
func (s *Sink) Snapshot(ctx context.Context) (sink.Snapshot, error) {
	return snapshot{s}, nil
}

type snapshot struct{ s *Sink }

func (sn snapshot) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	found, err := sn.s.repo.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, err)
	}
	out := make(map[string]bool, len(found))
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (sn snapshot) Append(ctx context.Context, txns []domain.Transaction) error {
	now := sn.s.now()
	rows := make([]*TransactionRow, len(txns))
	for i, t := range txns {
		rows[i] = ToRow(t, now)
	}
	if err := sn.s.repo.InsertTransactions(ctx, rows); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("appended", len(rows)).
		Msg("Inserted transactions into BigQuery")
	return nil
}
