// Command finsync pulls transactions from linked banks and CSV exports and
// appends the new ones to a spreadsheet, CSV file, BigQuery table or Notion
// database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// EnvLogLevel sets the log level when --log-level is not given.
const EnvLogLevel = "FINSYNC_LOG_LEVEL"

// errRunFailed signals that the report already described the failure.
var errRunFailed = errors.New("one or more accounts did not sync")

var (
	configLocation string
	logLevel       string
	logFile        string
)

var rootCmd = &cobra.Command{
	Use:   "finsync",
	Short: "Sync bank transactions into a spreadsheet or other sink",
	Long: `finsync fetches new transactions for every configured account and appends
the ones the destination does not have yet. Each account remembers where its
last successful sync stopped, so running it again only moves new data.

Run 'finsync setup' first to create the configuration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logLevel
		if level == "" {
			level = os.Getenv(EnvLogLevel)
		}
		log := logger.NewWithOptions(logger.Options{Level: level, File: logFile})
		cmd.SetContext(logger.WithContext(cmd.Context(), log))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configLocation, "config", "", "configuration file path or gs:// URI (default $"+configstore.EnvConfig+" or ~/.finsync/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default $"+EnvLogLevel+" or info)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotating file")

	rootCmd.AddCommand(migrateCmd, fetchCmd, setupCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}
	if !errors.Is(err, errRunFailed) {
		if kind := domain.KindOf(err); kind != "Unknown" {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	os.Exit(1)
}

// openStore opens the configuration store named by --config or the default
// location.
func openStore(ctx context.Context) (*configstore.Store, error) {
	loc := configLocation
	if loc == "" {
		var err error
		if loc, err = configstore.DefaultLocation(); err != nil {
			return nil, err
		}
	}
	return configstore.Open(ctx, loc)
}
