// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the packserve CLI command tree.
package commands

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/packserve/packserve/cmd/packserve/cli"
	"github.com/packserve/packserve/lib/client"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/version"
)

// Root returns the top-level packserve command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "packserve",
		Summary: "Upload, tag, and manage resource packs on a pack server.",
		Subcommands: []*cli.Command{
			pushCommand(),
			fetchCommand(),
			hasCommand(),
			resolveCommand(),
			tagsCommand(),
			tagCommand(),
			untagCommand(),
			deleteCommand(),
			bundleCommand(),
			tokenCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information.",
		Run: func(args []string) error {
			fmt.Println("packserve", version.Full())
			return nil
		},
	}
}

// serverFlags are the connection flags shared by every command that
// talks to a pack server.
type serverFlags struct {
	uploadAddr string
	baseURL    string
	tokenValue string
	tokenFile  string
}

func (f *serverFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.uploadAddr, "upload-addr", "127.0.0.1:8461", "upload listener address")
	fs.StringVar(&f.baseURL, "server", "http://127.0.0.1:8460", "pack server base URL")
	fs.StringVar(&f.tokenValue, "token", "", "access token (base64url)")
	fs.StringVar(&f.tokenFile, "token-file", "", "file containing the access token")
}

// client builds a pack server client from the flags. The token may
// come from --token, --token-file, or the PACKSERVE_TOKEN environment
// variable; commands that only query the server work without one.
func (f *serverFlags) client() (*client.Client, error) {
	encoded := f.tokenValue
	if encoded == "" && f.tokenFile != "" {
		data, err := os.ReadFile(f.tokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading token file: %w", err)
		}
		encoded = strings.TrimSpace(string(data))
	}
	if encoded == "" {
		encoded = os.Getenv("PACKSERVE_TOKEN")
	}

	var tokenBytes []byte
	if encoded != "" {
		var err error
		tokenBytes, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("malformed token: %w", err)
		}
	}
	return client.New(f.uploadAddr, f.baseURL, tokenBytes), nil
}

// exitCodeFor maps a command failure to the process exit code: 3 for
// authorization failures, 4 for transfer failures that exhausted
// retries, 1 for everything else.
func exitCodeFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindAuth:
		return 3
	case fault.KindTransient, fault.KindConflict, fault.KindCorruption:
		return 4
	default:
		return 1
	}
}

// fail prints the error and converts it to an ExitError so main does
// not print it a second time.
func fail(err error) error {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return &cli.ExitError{Code: exitCodeFor(err)}
}
