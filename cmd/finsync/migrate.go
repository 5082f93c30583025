package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade the configuration to the current schema version",
	Long: `Load the configuration, running any pending schema migrations, and persist
the result. Loading migrates on its own too; this command lets you do it
without syncing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		doc, err := store.Load(ctx)
		if err != nil {
			return err
		}

		log := logger.FromContext(ctx)
		log.Debug().
			Str("location", store.Location()).
			Int("accounts", len(doc.Accounts)).
			Msg("Configuration loaded")
		fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d (%d accounts)\n",
			store.Location(), doc.SchemaVersion, len(doc.Accounts))
		return nil
	},
}
