// Package main provides the entry point for the listenup-sync client.
package main

import (
	"fmt"
	"os"

	"github.com/listenupapp/listenup-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
