// Command softnav replays interaction scenarios, runs a local collector and
// inspects harvested batches.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/softnav/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
