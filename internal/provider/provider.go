// Package provider defines the adapters that fetch transactions for one
// configured account since a cursor, and the registry the orchestrator
// dispatches through.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
)

// Result is one logical batch fetched for an account.
type Result struct {
	Transactions []domain.Transaction

	// NewCursor is the progress marker after this batch. Nil means the
	// adapter has no new position to record.
	NewCursor *domain.Cursor

	// Issues are per-row problems that did not fail the fetch.
	Issues []RowIssue
}

// RowIssue describes an input record that was skipped.
type RowIssue struct {
	Source string
	Line   int
	Err    error
}

func (r RowIssue) String() string {
	return fmt.Sprintf("%s:%d: %v", r.Source, r.Line, r.Err)
}

// Adapter fetches transactions for one account. Implementations must
// return stable transaction ids across overlapping fetches and page through
// provider windows internally.
type Adapter interface {
	// Name identifies the adapter in logs and reports.
	Name() string

	// Fetch returns transactions newer than since. A nil since means the
	// full available history.
	Fetch(ctx context.Context, acct configstore.AccountConfig, since *domain.Cursor) (*Result, error)

	// CompareCursors orders two cursors produced by this adapter: negative
	// when a is before b, zero when equal, positive otherwise.
	CompareCursors(a, b domain.Cursor) int
}

// DateCursors orders ISO day cursors. It is shared by adapters whose
// progress marker is the newest day imported.
type DateCursors struct{}

// CompareCursors implements the Adapter ordering for ISO days.
func (DateCursors) CompareCursors(a, b domain.Cursor) int {
	return strings.Compare(string(a), string(b))
}

// Advance returns the later of cur and day.
func (DateCursors) Advance(cur *domain.Cursor, day string) *domain.Cursor {
	if day == "" {
		return cur
	}
	if cur != nil && string(*cur) >= day {
		return cur
	}
	return domain.CursorPtr(domain.Cursor(day))
}
