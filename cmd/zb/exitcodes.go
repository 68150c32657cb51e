package main

import "os"

// Exit codes for different failure modes, so scripts invoking zb can
// distinguish them without parsing stderr.
const (
	ExitSuccess         = 0
	ExitGeneral         = 1
	ExitUsage           = 2
	ExitFormulaNotFound = 3
	ExitNetwork         = 4
	ExitInstallFailed   = 5
	ExitCancelled       = 6
)

func exitWithCode(code int) {
	os.Exit(code)
}
