// Command gpucep compiles CEP rules and runs events through them.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/gpucep/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
