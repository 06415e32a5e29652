package main

import (
	"fmt"
	"os"

	"github.com/saks635/NL2SQL-Convertor/cmd/nl2sql/cli"
)

// Set via -ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		fmt.Fprintln(os.Stderr, "error:", cli.Describe(err))
		os.Exit(1)
	}
}
