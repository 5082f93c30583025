package warehouse

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// MockRepository is a function-field fake of Repository.
type MockRepository struct {
	ExistingIDsFunc        func(ctx context.Context, ids []string) ([]string, error)
	InsertTransactionsFunc func(ctx context.Context, rows []*TransactionRow) error
}

func (m *MockRepository) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	return m.ExistingIDsFunc(ctx, ids)
}

func (m *MockRepository) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	return m.InsertTransactionsFunc(ctx, rows)
}

func (m *MockRepository) Close() error { return nil }

func tx(id, day, amount string) domain.Transaction {
	d, _ := domain.ParseDay(day)
	return domain.Transaction{ID: id, AccountID: "acc", Date: d, Amount: decimal.RequireFromString(amount), Description: id}
}

func TestSink_MergeInsertsOnlyNew(t *testing.T) {
	var lookedUp [][]string
	var inserted []*TransactionRow
	repo := &MockRepository{
		ExistingIDsFunc: func(ctx context.Context, ids []string) ([]string, error) {
			lookedUp = append(lookedUp, ids)
			return []string{"txn-100"}, nil
		},
		InsertTransactionsFunc: func(ctx context.Context, rows []*TransactionRow) error {
			inserted = append(inserted, rows...)
			return nil
		},
	}
	s := New(repo)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	res, err := sink.Merge(context.Background(), s,
		[]domain.Transaction{tx("txn-100", "2024-01-01", "-1"), tx("txn-101", "2024-01-02", "-12.34")}, sink.Options{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Appended != 1 {
		t.Errorf("Appended = %d, want 1", res.Appended)
	}
	if diff := cmp.Diff([][]string{{"txn-100", "txn-101"}}, lookedUp); diff != "" {
		t.Errorf("lookups (-want +got):\n%s", diff)
	}
	if len(inserted) != 1 || inserted[0].TransactionID != "txn-101" {
		t.Fatalf("inserted = %+v", inserted)
	}
	if inserted[0].Amount.Cmp(big.NewRat(-1234, 100)) != 0 {
		t.Errorf("amount = %s, want -12.34", inserted[0].Amount.FloatString(2))
	}
	if got := inserted[0].TransactionDate.String(); got != "2024-01-02" {
		t.Errorf("date = %s", got)
	}
	if inserted[0].Currency.Valid {
		t.Error("empty currency should be NULL")
	}
}

func TestSink_ErrorsAreUnavailable(t *testing.T) {
	repo := &MockRepository{
		ExistingIDsFunc: func(ctx context.Context, ids []string) ([]string, error) {
			return nil, errors.New("googleapi: Error 403: quota exceeded")
		},
	}
	_, err := sink.Merge(context.Background(), New(repo), []domain.Transaction{tx("a", "2024-01-01", "1")}, sink.Options{})
	if !errors.Is(err, domain.ErrSinkUnavailable) {
		t.Errorf("expected ErrSinkUnavailable, got %v", err)
	}
}

func TestToRow(t *testing.T) {
	txn := tx("id-1", "2024-02-29", "10.5")
	txn.Category = "Groceries"
	txn.Currency = "EUR"

	row := ToRow(txn, time.Unix(0, 0))
	if !row.Category.Valid || row.Category.StringVal != "Groceries" {
		t.Errorf("category = %+v", row.Category)
	}
	if row.Currency.StringVal != "EUR" {
		t.Errorf("currency = %+v", row.Currency)
	}
	if row.TransactionDate.Day != 29 {
		t.Errorf("date = %v", row.TransactionDate)
	}
}
