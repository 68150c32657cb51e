package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zb-pm/zb/internal/errmsg"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check every installed formula's on-disk state against zb's records",
	Long: `Walk every installed keg and report any whose store entry or links
no longer match what zb recorded at install time. The keg directory
itself is not checked.

Exits with a non-zero status if any problem is found, making it
suitable as a gate in scripts:

  zb doctor || exit 1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		problems, err := pipeline.Doctor()
		if err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, nil))
			exitWithCode(ExitGeneral)
		}
		if len(problems) == 0 {
			fmt.Fprintln(os.Stdout, "Everything looks good!")
			return nil
		}
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, errmsg.Format(p, nil))
		}
		return fmt.Errorf("found %d problem(s)", len(problems))
	},
}
