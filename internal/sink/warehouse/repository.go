package warehouse

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Repository is the table access the sink needs.
type Repository interface {
	// ExistingIDs returns the subset of ids present in the table.
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)

	// InsertTransactions streams rows into the table.
	InsertTransactions(ctx context.Context, rows []*TransactionRow) error

	Close() error
}

// BigQueryRepository implements Repository with a shared BigQuery client.
type BigQueryRepository struct {
	client  *bigquery.Client
	project string
	dataset string
	table   string
}

// NewBigQueryRepository creates a repository for project.dataset.table.
func NewBigQueryRepository(ctx context.Context, project, dataset, table string) (*BigQueryRepository, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRepository: creating client: %w", err)
	}
	return &BigQueryRepository{
		client:  client,
		project: project,
		dataset: dataset,
		table:   table,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTable creates the table with Schema when it does not exist.
func (r *BigQueryRepository) EnsureTable(ctx context.Context) error {
	t := r.client.DatasetInProject(r.project, r.dataset).Table(r.table)
	if _, err := t.Metadata(ctx); err == nil {
		return nil
	}
	if err := t.Create(ctx, &bigquery.TableMetadata{Schema: Schema}); err != nil {
		return fmt.Errorf("EnsureTable: %w", err)
	}
	return nil
}

// ExistingIDs implements Repository.
func (r *BigQueryRepository) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := r.client.Query(fmt.Sprintf(`
		SELECT transaction_id
		FROM `+"`%s.%s.%s`"+`
		WHERE transaction_id IN UNNEST(@ids)
	`, r.project, r.dataset, r.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ExistingIDs: query read: %w", err)
	}

	var found []string
	for {
		var row struct {
			TransactionID string `bigquery:"transaction_id"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ExistingIDs: iter next: %w", err)
		}
		found = append(found, row.TransactionID)
	}
	return found, nil
}

// InsertTransactions implements Repository. The transaction id doubles as
// the streaming insert id so a retried insert is deduplicated server side.
func (r *BigQueryRepository) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, len(rows))
	for i, row := range rows {
		savers[i] = &bigquery.StructSaver{
			Struct:   row,
			Schema:   Schema,
			InsertID: row.TransactionID,
		}
	}

	inserter := r.client.DatasetInProject(r.project, r.dataset).Table(r.table).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}
