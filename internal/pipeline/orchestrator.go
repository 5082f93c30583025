// Package pipeline runs one sync across every configured account: fetch,
// optional categorization, merge into the target sink and cursor commit,
// collected into a run report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/categorize"
	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/provider"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// DefaultTarget is used when neither the options nor the document name one.
const DefaultTarget = "spreadsheet"

// ConfigStore is the configuration access a run needs.
type ConfigStore interface {
	Load(ctx context.Context) (*configstore.Document, error)
	CursorCommitter
}

// CategorizerFactory builds the optional categorizer; nil disables the stage.
type CategorizerFactory func(ctx context.Context, cfg *configstore.CategorizerConfig) (*categorize.Categorizer, error)

// Options tune a run.
type Options struct {
	// Target overrides the document's sink target.
	Target string
	// DryRun fetches and counts without writing to the sink or the config.
	DryRun bool
	// Concurrency > 1 fetches that many accounts at once. Merges and
	// cursor commits stay sequential in configuration order.
	Concurrency int
	// LookupBatch bounds sink key lookups; zero uses the sink default.
	LookupBatch int
}

// Orchestrator runs syncs. It holds no per-run state and may be reused.
type Orchestrator struct {
	store        ConfigStore
	providers    *provider.Registry
	sinks        *sink.Registry
	categorizers CategorizerFactory
	newJobStore  func() jobs.Store
	now          func() time.Time
}

// New returns an orchestrator dispatching through the given registries.
func New(store ConfigStore, providers *provider.Registry, sinks *sink.Registry) *Orchestrator {
	return &Orchestrator{
		store:        store,
		providers:    providers,
		sinks:        sinks,
		categorizers: categorize.FromConfig,
		newJobStore:  func() jobs.Store { return inmemory.NewStore() },
		now:          time.Now,
	}
}

// WithCategorizer replaces the categorizer factory.
func (o *Orchestrator) WithCategorizer(f CategorizerFactory) *Orchestrator {
	o.categorizers = f
	return o
}

// Run performs one sync. Only configuration errors are returned; provider
// and sink failures are recorded per account in the report. Cancelling ctx
// stops the run at the next account boundary; the account in flight
// finishes first.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	doc, err := o.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	target := opts.Target
	if target == "" {
		target = doc.Target
	}
	if target == "" {
		target = DefaultTarget
	}

	runID := uuid.New().String()
	log := logger.FromContext(ctx).With().
		Str("run_id", runID).
		Str("target", target).
		Bool("dry_run", opts.DryRun).
		Logger()
	ctx = logger.WithContext(ctx, log)

	report := &Report{
		RunID:     runID,
		Target:    target,
		DryRun:    opts.DryRun,
		StartedAt: o.now(),
	}

	states := make([]*AccountState, len(doc.Accounts))
	for i, acct := range doc.Accounts {
		states[i] = newAccountState(acct)
	}
	defer func() {
		report.FinishedAt = o.now()
		report.Accounts = make([]AccountReport, len(states))
		for i, st := range states {
			report.Accounts[i] = newAccountReport(st)
		}
	}()

	log.Info().Int("accounts", len(states)).Msg("Starting sync run")

	out, err := o.sinks.Open(ctx, target, doc)
	if err != nil {
		log.Error().Err(err).Msg("Sink unavailable, no account synced")
		for _, st := range states {
			st.fail(StageMerge, err)
		}
		return report, nil
	}
	defer out.Close()

	var cat *categorize.Categorizer
	if o.categorizers != nil {
		cat, err = o.categorizers(ctx, doc.Categorizer)
		if err != nil {
			log.Warn().Err(err).Msg("Categorizer unavailable, continuing without it")
			cat = nil
		}
	}

	fetch := &FetchStep{Providers: o.providers}
	rest := NewPipeline(
		&CategorizeStep{Categorizer: cat},
		&MergeStep{Sink: out, Options: sink.Options{DryRun: opts.DryRun, LookupBatch: opts.LookupBatch}},
		&CommitStep{Store: o.store, DryRun: opts.DryRun},
	)

	var (
		pool     *inmemory.Pool
		jobStore jobs.Store
	)
	if opts.Concurrency > 1 && len(states) > 1 {
		jobStore = o.newJobStore()
		pool, err = o.startFetchPool(ctx, runID, states, fetch, opts.Concurrency, jobStore)
		if err != nil {
			return report, fmt.Errorf("Run: %w", err)
		}
	}

	stopAt := len(states)
	var stopReason error
	for i, st := range states {
		if err := ctx.Err(); err != nil {
			stopAt, stopReason = i, err
			log.Warn().Int("remaining", len(states)-i).Msg("Run cancelled, skipping remaining accounts")
			break
		}

		actx := accountContext(ctx, st)
		alog := logger.FromContext(actx)
		if pool != nil {
			<-st.fetched
		} else {
			start := o.now()
			o.runFetch(actx, fetch, st)
			st.FetchTime = o.now().Sub(start)
		}
		if st.Status == StatusFailed || st.Status == StatusSkipped {
			continue
		}

		if err := rest.Execute(actx, st); err != nil {
			alog.Error().Err(err).Str("kind", domain.KindOf(st.Err)).Msg("Account failed")
			if st.Stage == StageMerge && domain.IsRunFatal(st.Err) {
				stopAt, stopReason = i+1, st.Err
				log.Error().Err(st.Err).Int("remaining", len(states)-i-1).Msg("Sink failure ends the run")
				break
			}
			continue
		}
		alog.Info().
			Int("appended", st.Write.Appended).
			Str("cursor", string(domain.CursorValue(st.Cursor))).
			Msg("Account synced")
	}

	if pool != nil {
		if err := pool.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Stopping fetch pool")
		}
		o.recordFetchJobs(ctx, runID, jobStore, states)
	}
	for _, st := range states[stopAt:] {
		st.skip(stopReason)
	}
	return report, nil
}

// accountContext carries the account's logger and ignores cancellation so
// the account in flight completes.
func accountContext(ctx context.Context, st *AccountState) context.Context {
	log := logger.FromContext(ctx).With().
		Str("account_id", st.Account.AccountID).
		Str("provider", string(st.Account.ProviderKind)).
		Str("service", st.Account.Service).
		Logger()
	return logger.WithContext(context.WithoutCancel(ctx), log)
}

func (o *Orchestrator) runFetch(ctx context.Context, fetch Step, st *AccountState) {
	defer close(st.fetched)
	st.Stage = fetch.Stage()
	if err := fetch.Execute(ctx, st); err != nil {
		st.fail(fetch.Stage(), err)
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("kind", domain.KindOf(err)).Msg("Account fetch failed")
	}
}

// startFetchPool publishes one fetch job per account. Jobs picked up after
// ctx is cancelled mark their account skipped without fetching.
func (o *Orchestrator) startFetchPool(ctx context.Context, runID string, states []*AccountState, fetch Step, workers int, store jobs.Store) (*inmemory.Pool, error) {
	byID := make(map[string]*AccountState, len(states))
	for _, st := range states {
		byID[st.Account.AccountID] = st
	}

	pool := inmemory.NewPool(workers, len(states), store)
	err := pool.Start(ctx, func(ctx context.Context, job *jobs.FetchJob) error {
		st := byID[job.AccountID]
		if err := ctx.Err(); err != nil {
			st.skip(err)
			close(st.fetched)
			return err
		}
		o.runFetch(accountContext(ctx, st), fetch, st)
		return st.Err
	})
	if err != nil {
		return nil, err
	}

	for _, st := range states {
		job := &jobs.FetchJob{RunID: runID, AccountID: st.Account.AccountID}
		if err := pool.Publish(context.WithoutCancel(ctx), job); err != nil {
			_ = pool.Stop(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("publishing fetch job for %s: %w", st.Account.AccountID, err)
		}
	}

	log := logger.FromContext(ctx)
	log.Debug().Int("workers", workers).Int("jobs", len(states)).Msg("Fetching accounts concurrently")
	return pool, nil
}

// recordFetchJobs copies the pool's job outcomes and timings onto the
// account states once every worker has stopped.
func (o *Orchestrator) recordFetchJobs(ctx context.Context, runID string, store jobs.Store, states []*AccountState) {
	list, err := store.ListJobs(context.WithoutCancel(ctx), jobs.Filter{RunID: runID})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Listing fetch jobs")
		return
	}
	byID := make(map[string]*AccountState, len(states))
	for _, st := range states {
		byID[st.Account.AccountID] = st
	}
	for _, job := range list {
		st, ok := byID[job.AccountID]
		if !ok {
			continue
		}
		st.FetchJob = job.Status
		if job.StartedAt != nil && job.CompletedAt != nil {
			st.FetchTime = job.CompletedAt.Sub(*job.StartedAt)
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
