// Package sink defines the destinations merged transactions are appended
// to and the merge algorithm they share.
package sink

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// Header is the fixed column order of tabular sinks.
var Header = []string{"date", "description", "amount", "category", "account", "id"}

// IDColumn is the index of the id column in Header.
const IDColumn = 5

// Sink is a long-lived store of merged transactions.
type Sink interface {
	// Name identifies the sink in logs and reports.
	Name() string

	// Snapshot observes the sink's current state. Errors wrap
	// domain.ErrSinkUnavailable.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Close releases clients held by the sink.
	Close() error
}

// Snapshot is the state of a sink at one read.
type Snapshot interface {
	// Existing reports which of ids are already present. Implementations
	// answer without materializing the full record set where the backend
	// allows it.
	Existing(ctx context.Context, ids []string) (map[string]bool, error)

	// Append writes txns in the given order. It fails with
	// domain.ErrSinkWriteConflict if the sink changed since the snapshot
	// was taken.
	Append(ctx context.Context, txns []domain.Transaction) error
}

// Row renders t in Header order.
func Row(t domain.Transaction) []string {
	return []string{
		t.Day(),
		t.Description,
		FormatAmount(t.Amount),
		t.Category,
		t.AccountID,
		t.ID,
	}
}

// FormatAmount renders at least two decimals without losing precision.
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() < -2 {
		return d.String()
	}
	return d.StringFixed(2)
}
