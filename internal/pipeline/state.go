package pipeline

import (
	"time"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/provider"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// Status is where an account is in its run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusFetching Status = "fetching"
	StatusMerging  Status = "merging"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// Stage names a step of the per-account pipeline.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageCategorize Stage = "categorize"
	StageMerge      Stage = "merge"
	StageCommit     Stage = "commit"
)

// AccountState holds the shared state across the steps of one account.
type AccountState struct {
	Account configstore.AccountConfig
	Adapter provider.Adapter

	// Since is the stored cursor the fetch started from.
	Since *domain.Cursor

	Result      *provider.Result
	Categorized int
	Write       *sink.WriteResult

	// Cursor is the account's cursor after the run: the committed new
	// cursor, or Since when nothing was committed. On a dry run it is the
	// cursor that would have been committed.
	Cursor *domain.Cursor

	// FetchTime is how long the fetch took. FetchJob is the status of the
	// pooled fetch job; it stays empty when accounts are fetched in line.
	FetchTime time.Duration
	FetchJob  jobs.Status

	// Regressed is set when the adapter returned a cursor older than Since.
	Regressed bool

	Status Status
	Stage  Stage
	Err    error

	fetched chan struct{}
}

func newAccountState(acct configstore.AccountConfig) *AccountState {
	return &AccountState{
		Account: acct,
		Since:   acct.Cursor,
		Cursor:  acct.Cursor,
		Status:  StatusPending,
		fetched: make(chan struct{}),
	}
}

func (s *AccountState) fail(stage Stage, err error) {
	s.Status = StatusFailed
	s.Stage = stage
	s.Err = err
}

func (s *AccountState) skip(reason error) {
	s.Status = StatusSkipped
	s.Err = reason
	s.Cursor = s.Since
}
