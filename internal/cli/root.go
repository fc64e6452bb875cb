package cli

import (
	"github.com/spf13/cobra"
)

// ExitError carries the process exit code `sync run` must surface (spec §6:
// 0 on FINALIZED, 1 on ABORTED, 2 on timeout) through cobra's plain error
// return, so cmd/marketsync/main.go can distinguish them without cli
// reaching for os.Exit itself.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the root `sync` command tree and runs it. It is the single
// entry point cmd/marketsync/main.go calls.
func Execute() error {
	root := &cobra.Command{
		Use:   "sync",
		Short: "Keep a seller's instrument inventory consistent across marketplaces",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newOnboardCmd())

	return root.Execute()
}
