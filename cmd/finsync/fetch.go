package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/pipeline"
	"github.com/dvloznov/finance-sync/internal/provider"
	"github.com/dvloznov/finance-sync/internal/provider/csvimport"
	"github.com/dvloznov/finance-sync/internal/provider/plaid"
	"github.com/dvloznov/finance-sync/internal/provider/teller"
	"github.com/dvloznov/finance-sync/internal/sink"
	"github.com/dvloznov/finance-sync/internal/sink/csvexport"
	"github.com/dvloznov/finance-sync/internal/sink/notion"
	"github.com/dvloznov/finance-sync/internal/sink/sheets"
	"github.com/dvloznov/finance-sync/internal/sink/warehouse"
)

var fetchOpts pipeline.Options

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch new transactions and append them to the target",
	Long: `Fetch new transactions for every configured account, in configuration
order, and append the ones the target does not already hold. An account that
fails is reported and skipped; the others still sync.

Exits with status 1 if any account failed or was skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		// Provider adapters take their credentials from the document, so
		// a bad document stops here before anything is fetched.
		doc, err := store.Load(ctx)
		if err != nil {
			return err
		}

		orch := pipeline.New(store, providerRegistry(ctx, doc), sinkRegistry())
		report, err := orch.Run(ctx, fetchOpts)
		if err != nil {
			return err
		}
		if err := report.Render(cmd.OutOrStdout()); err != nil {
			return err
		}
		if report.Failed() {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringVar(&fetchOpts.Target, "target", "", "sink to write to: "+strings.Join(sinkRegistry().Targets(), ", ")+" (default from configuration)")
	f.BoolVar(&fetchOpts.DryRun, "dry-run", false, "fetch and count without writing anything")
	f.IntVar(&fetchOpts.Concurrency, "concurrency", 1, "number of accounts to fetch at once")
}

// providerRegistry builds the adapters for the services the document has
// settings for. A service whose adapter cannot be built is left out, so its
// accounts fail on their own instead of stopping the run.
func providerRegistry(ctx context.Context, doc *configstore.Document) *provider.Registry {
	log := logger.FromContext(ctx)
	reg := provider.NewRegistry()
	reg.Register(domain.ProviderManualCSV, "", csvimport.New())

	var ps plaid.Settings
	if err := doc.ProviderSettings(plaid.Service, &ps); err != nil {
		log.Warn().Err(err).Str("provider", plaid.Service).Msg("Ignoring provider settings")
	} else if a, err := plaid.New(ps, nil); err != nil {
		log.Warn().Err(err).Str("provider", plaid.Service).Msg("Provider unavailable")
	} else {
		reg.Register(domain.ProviderLinkedBank, plaid.Service, a)
	}

	var ts teller.Settings
	if err := doc.ProviderSettings(teller.Service, &ts); err != nil {
		log.Warn().Err(err).Str("provider", teller.Service).Msg("Ignoring provider settings")
	} else if a, err := teller.New(ts, nil); err != nil {
		log.Warn().Err(err).Str("provider", teller.Service).Msg("Provider unavailable")
	} else {
		reg.Register(domain.ProviderLinkedBank, teller.Service, a)
	}

	return reg
}

func sinkRegistry() *sink.Registry {
	reg := sink.NewRegistry()
	reg.Register(sheets.Target, sheets.Factory)
	reg.Register(csvexport.Target, csvexport.Factory)
	reg.Register(warehouse.Target, warehouse.Factory)
	reg.Register(notion.Target, notion.Factory)
	return reg
}

