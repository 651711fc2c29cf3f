// Command hobbysync runs the hobby discovery backend.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hobbysync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
