package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zb-pm/zb/internal/errmsg"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove store entries with no installed keg referencing them",
	Long: `Garbage-collect the shared store: every entry whose reference count
has reached zero (because every keg that used it was uninstalled) is
deleted from disk.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := pipeline.GC(globalCtx)
		if err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, nil))
			exitWithCode(ExitGeneral)
		}
		if len(removed) == 0 {
			fmt.Fprintln(os.Stdout, "Nothing to remove")
			return nil
		}
		for _, key := range removed {
			fmt.Fprintf(os.Stdout, "Removed store entry %s\n", key)
		}
		fmt.Fprintf(os.Stdout, "Removed %d store entr%s\n", len(removed), plural(len(removed)))
		return nil
	},
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
