// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/packserve/packserve/cmd/packserve/cli"
	"github.com/packserve/packserve/lib/bundle"
	"github.com/packserve/packserve/lib/pack"
)

func bundleCommand() *cli.Command {
	var output string

	return &cli.Command{
		Name:    "bundle",
		Summary: "Bundle a pack directory into a deterministic zip without uploading.",
		Description: "Bundle a pack directory into a deterministic zip without\n" +
			"uploading. The same directory content always produces the same\n" +
			"bytes and therefore the same digest, regardless of file\n" +
			"timestamps or walk order.",
		Usage: "packserve bundle [flags] <directory>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("bundle", pflag.ContinueOnError)
			fs.StringVarP(&output, "output", "o", "pack.zip", "output zip path")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "bundle takes exactly one directory"}
			}
			if err := bundle.WriteFile(output, args[0]); err != nil {
				return err
			}
			digest, size, err := digestFile(output)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes)\n", output, size)
			fmt.Printf("digest %s\n", pack.FormatDigest(digest))
			return nil
		},
	}
}
