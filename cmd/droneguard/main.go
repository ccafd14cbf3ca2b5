package main

import (
	"os"

	"github.com/agenthands/droneguard/internal/cli"
)

// Set by ldflags.
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		os.Exit(1)
	}
}
