// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// packserve is the command-line companion to packserve-server: it
// bundles pack directories, uploads packs, manages tags, and mints
// access tokens.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/packserve/packserve/cmd/packserve/cli"
	"github.com/packserve/packserve/cmd/packserve/commands"
)

func main() {
	if err := run(); err != nil {
		// Usage errors have not been printed yet and exit with 2 so
		// scripts can tell a mistyped invocation from a failed
		// operation.
		var usage *cli.UsageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(usage.ExitCode())
		}
		// Commands that print their own output return an ExitError
		// with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
