package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zb-pm/zb/internal/errmsg"
)

var statusCmd = &cobra.Command{
	Use:   "status <formula>",
	Short: "Show an installed formula's version, store key, and linked paths",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		keg, links, ok, err := meta.Status(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, &errmsg.ErrorContext{FormulaName: name}))
			exitWithCode(ExitGeneral)
		}
		if !ok {
			fmt.Fprintf(os.Stdout, "%s is not installed\n", name)
			return nil
		}

		fmt.Fprintf(os.Stdout, "%s %s\n", keg.Name, keg.Version)
		fmt.Fprintf(os.Stdout, "  store key:  %s\n", keg.StoreKey)
		fmt.Fprintf(os.Stdout, "  platform:   %s\n", keg.PlatformTag)
		fmt.Fprintf(os.Stdout, "  installed:  %s\n", keg.InstalledAt.Format("2006-01-02 15:04:05"))
		for _, link := range links {
			fmt.Fprintf(os.Stdout, "  linked:     %s -> %s\n", link.LinkPath, link.TargetPath)
		}
		return nil
	},
}
