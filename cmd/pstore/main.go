// Command pstore inspects persistent object store database files.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pstore/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pstore:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
