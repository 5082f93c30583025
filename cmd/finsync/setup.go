package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dvloznov/finance-sync/internal/setup"
)

var accessible bool

var setupCmd = &cobra.Command{
	Use:   "setup [targets...]",
	Short: "Interactively configure providers, sinks and accounts",
	Long: fmt.Sprintf(`Walk through the setup forms for each target, in order.

Targets: %s
A bare 'finsync setup' runs 'default', which is: %s.`,
		strings.Join(setup.Targets, ", "), strings.Join(setup.DefaultTargets, ", ")),
	ValidArgs: setup.Targets,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		// Screen readers and piped input get plain prompts.
		asker := &setup.FormAsker{Accessible: accessible || !term.IsTerminal(int(os.Stdin.Fd()))}
		return setup.NewRunner(store, asker, cmd.OutOrStdout()).Run(ctx, args)
	},
}

func init() {
	setupCmd.Flags().BoolVar(&accessible, "accessible", false, "use plain line-by-line prompts")
}
