package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zb-pm/zb/internal/errmsg"
	"github.com/zb-pm/zb/internal/zberrors"
)

var installCmd = &cobra.Command{
	Use:   "install <formula>...",
	Short: "Install one or more formulae and their dependencies",
	Long: `Resolve each formula's dependency closure against the formulae.brew.sh
API, fetch and verify the bottles needed, and link them into the prefix.

A formula already installed at the resolved version is skipped without
re-fetching its bottle.

Examples:
  zb install jq
  zb install jq ripgrep`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pipeline.Install(globalCtx, args); err != nil {
			printInstallError(err, args)
			exitWithCode(exitCodeFor(err))
		}
		for _, name := range args {
			fmt.Fprintf(os.Stdout, "Installed %s\n", name)
		}
		return nil
	},
}

func printInstallError(err error, args []string) {
	ctx := &errmsg.ErrorContext{}
	if len(args) == 1 {
		ctx.FormulaName = args[0]
	}
	fmt.Fprintln(os.Stderr, errmsg.Format(err, ctx))
}

// exitCodeFor maps a pipeline error to the exit code a script can branch on.
func exitCodeFor(err error) int {
	var notFound *zberrors.FormulaNotFound
	if errors.As(err, &notFound) {
		return ExitFormulaNotFound
	}
	var network *zberrors.NetworkError
	if errors.As(err, &network) {
		return ExitNetwork
	}
	var apiErr *zberrors.ApiHttpError
	if errors.As(err, &apiErr) {
		return ExitNetwork
	}
	return ExitInstallFailed
}
