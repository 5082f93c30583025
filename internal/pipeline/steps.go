package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/categorize"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/provider"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// Step is a single stage of the per-account pipeline.
type Step interface {
	Stage() Stage
	Execute(ctx context.Context, state *AccountState) error
}

// CursorCommitter persists an account's fetch progress.
type CursorCommitter interface {
	CommitCursor(ctx context.Context, accountID string, cursor *domain.Cursor) error
}

// FetchStep fetches the account's transactions since its stored cursor.
type FetchStep struct {
	Providers *provider.Registry
}

func (s *FetchStep) Stage() Stage { return StageFetch }

func (s *FetchStep) Execute(ctx context.Context, state *AccountState) error {
	state.Status = StatusFetching

	adapter, err := s.Providers.For(state.Account)
	if err != nil {
		return err
	}
	state.Adapter = adapter

	res, err := adapter.Fetch(ctx, state.Account, state.Since)
	if err != nil {
		return err
	}
	if res == nil {
		res = &provider.Result{}
	}
	state.Result = res

	log := logger.FromContext(ctx)
	for _, issue := range res.Issues {
		log.Warn().Str("issue", issue.String()).Msg("Skipped input row")
	}
	log.Info().
		Int("transactions", len(res.Transactions)).
		Int("issues", len(res.Issues)).
		Msg("Fetched transactions")
	return nil
}

// CategorizeStep fills missing categories. A nil Categorizer is a no-op.
type CategorizeStep struct {
	Categorizer *categorize.Categorizer
}

func (s *CategorizeStep) Stage() Stage { return StageCategorize }

func (s *CategorizeStep) Execute(ctx context.Context, state *AccountState) error {
	if s.Categorizer == nil || len(state.Result.Transactions) == 0 {
		return nil
	}
	state.Categorized = s.Categorizer.Categorize(ctx, state.Result.Transactions)
	return nil
}

// MergeStep appends the fetched transactions the sink does not have yet.
type MergeStep struct {
	Sink    sink.Sink
	Options sink.Options
}

func (s *MergeStep) Stage() Stage { return StageMerge }

func (s *MergeStep) Execute(ctx context.Context, state *AccountState) error {
	state.Status = StatusMerging
	if len(state.Result.Transactions) == 0 {
		state.Write = &sink.WriteResult{}
		return nil
	}

	w, err := sink.Merge(ctx, s.Sink, state.Result.Transactions, s.Options)
	state.Write = w
	return err
}

// CommitStep persists the adapter's new cursor. A cursor that the adapter
// orders before the stored one is refused and the stored cursor kept.
type CommitStep struct {
	Store  CursorCommitter
	DryRun bool
}

func (s *CommitStep) Stage() Stage { return StageCommit }

func (s *CommitStep) Execute(ctx context.Context, state *AccountState) error {
	state.Status = StatusDone
	next := state.Result.NewCursor
	if next == nil {
		return nil
	}

	if state.Since != nil {
		switch c := state.Adapter.CompareCursors(*next, *state.Since); {
		case c == 0:
			return nil
		case c < 0:
			state.Regressed = true
			log := logger.FromContext(ctx)
			log.Warn().
				Str("stored_cursor", string(*state.Since)).
				Str("new_cursor", string(*next)).
				Msg("Provider returned an older cursor, keeping the stored one")
			return nil
		}
	}

	if !s.DryRun {
		if err := s.Store.CommitCursor(ctx, state.Account.AccountID, next); err != nil {
			return err
		}
	}
	state.Cursor = next
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps in order and stops at the first failure, which is
// recorded on state with its stage.
func (p *Pipeline) Execute(ctx context.Context, state *AccountState) error {
	for _, step := range p.steps {
		state.Stage = step.Stage()
		if err := step.Execute(ctx, state); err != nil {
			state.fail(step.Stage(), err)
			return fmt.Errorf("%s step failed: %w", step.Stage(), err)
		}
	}
	state.Stage = ""
	return nil
}
