// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/packserve/packserve/cmd/packserve/cli"
	"github.com/packserve/packserve/lib/pack"
)

func hasCommand() *cli.Command {
	var server serverFlags

	return &cli.Command{
		Name:    "has",
		Summary: "Check whether a pack is stored on the server.",
		Usage:   "packserve has [flags] <digest>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("has", pflag.ContinueOnError)
			server.register(fs)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "has takes exactly one digest"}
			}
			digest, err := pack.ParseDigest(args[0])
			if err != nil {
				return err
			}
			c, err := server.client()
			if err != nil {
				return err
			}
			present, err := c.Has(context.Background(), digest)
			if err != nil {
				return fail(err)
			}
			if !present {
				fmt.Println("not stored")
				return &cli.ExitError{Code: 1}
			}
			fmt.Println("stored")
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	var server serverFlags

	return &cli.Command{
		Name:    "resolve",
		Summary: "Resolve a tag to its pack digest and download URL.",
		Usage:   "packserve resolve [flags] <tag>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
			server.register(fs)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "resolve takes exactly one tag"}
			}
			c, err := server.client()
			if err != nil {
				return err
			}
			resolved, err := c.ResolveTag(context.Background(), args[0])
			if err != nil {
				return fail(err)
			}
			fmt.Printf("digest  %s\n", resolved.Digest)
			fmt.Printf("url     %s\n", resolved.URL)
			fmt.Printf("size    %d\n", resolved.Size)
			return nil
		},
	}
}

func tagsCommand() *cli.Command {
	var server serverFlags
	var prefix string

	return &cli.Command{
		Name:    "tags",
		Summary: "List tags on the server.",
		Usage:   "packserve tags [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("tags", pflag.ContinueOnError)
			server.register(fs)
			fs.StringVar(&prefix, "prefix", "", "only list tags with this prefix")
			return fs
		},
		Run: func(args []string) error {
			c, err := server.client()
			if err != nil {
				return err
			}
			entries, err := c.Tags(context.Background())
			if err != nil {
				return fail(err)
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			for _, entry := range entries {
				if !strings.HasPrefix(entry.Tag, prefix) {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.Tag, entry.Digest[:12], entry.UpdatedAt)
			}
			return tw.Flush()
		},
	}
}

func fetchCommand() *cli.Command {
	var server serverFlags
	var output string

	return &cli.Command{
		Name:    "fetch",
		Summary: "Download a pack from the server.",
		Usage:   "packserve fetch [flags] <digest>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
			server.register(fs)
			fs.StringVarP(&output, "output", "o", "", "output file (default <ref>.zip)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "fetch takes exactly one digest"}
			}
			digest, err := pack.ParseDigest(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = pack.FormatRef(digest) + ".zip"
			}
			c, err := server.client()
			if err != nil {
				return err
			}
			body, _, err := c.Fetch(context.Background(), digest)
			if err != nil {
				return fail(err)
			}
			defer body.Close()

			// Verify the download against the digest before keeping it.
			file, err := os.CreateTemp(".", ".packserve-fetch-*")
			if err != nil {
				return err
			}
			hasher := pack.NewHasher()
			written, err := io.Copy(io.MultiWriter(file, hasher), body)
			file.Close()
			if err != nil {
				os.Remove(file.Name())
				return fail(err)
			}
			if got := hasher.Sum(); got != digest {
				os.Remove(file.Name())
				return fail(fmt.Errorf("downloaded bytes hash to %s, expected %s",
					pack.FormatRef(got), pack.FormatRef(digest)))
			}
			if err := os.Rename(file.Name(), output); err != nil {
				os.Remove(file.Name())
				return err
			}
			fmt.Printf("fetched %d bytes to %s\n", written, output)
			return nil
		},
	}
}
