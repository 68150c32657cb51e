package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zb-pm/zb/internal/errmsg"
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall <formula>",
	Aliases: []string{"remove"},
	Short:   "Remove an installed formula",
	Long: `Unlink a formula's symlinks from the prefix, delete its keg directory,
and decrement the shared store entry's reference count. The underlying
store entry itself is only removed by gc, once nothing references it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := pipeline.Uninstall(globalCtx, name); err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, &errmsg.ErrorContext{FormulaName: name}))
			exitWithCode(exitCodeFor(err))
		}
		fmt.Fprintf(os.Stdout, "Uninstalled %s\n", name)
		return nil
	},
}

var reinstallCmd = &cobra.Command{
	Use:   "reinstall <formula>",
	Short: "Uninstall then install a formula",
	Long: `Equivalent to uninstall followed by install. Useful for repairing a
formula doctor reports as partially installed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := pipeline.Uninstall(globalCtx, name); err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, &errmsg.ErrorContext{FormulaName: name}))
			exitWithCode(exitCodeFor(err))
		}
		if err := pipeline.Install(globalCtx, []string{name}); err != nil {
			printInstallError(err, []string{name})
			exitWithCode(exitCodeFor(err))
		}
		fmt.Fprintf(os.Stdout, "Reinstalled %s\n", name)
		return nil
	},
}
