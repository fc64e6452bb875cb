// Command marketsync is the operator-facing entry point: `sync run`,
// `sync reconcile --run-id`, `sync events --status` and `sync onboard`.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tommytoolman/marketsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var exit *cli.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		os.Exit(1)
	}
}
