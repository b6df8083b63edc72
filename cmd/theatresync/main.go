package main

import (
	"fmt"
	"os"

	"github.com/roach88/theatresync/internal/cli"
)

// version is set via ldflags during build
var version = "dev"

func main() {
	root := cli.NewRootCommand()
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
