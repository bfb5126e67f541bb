// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/packserve/packserve/cmd/packserve/cli"
	"github.com/packserve/packserve/lib/pack"
)

func tagCommand() *cli.Command {
	var server serverFlags

	return &cli.Command{
		Name:    "tag",
		Summary: "Point a tag at an already stored pack.",
		Usage:   "packserve tag [flags] <tag> <digest>",
		Examples: []cli.Example{
			{
				Description: "Promote a tested pack to the lobby tag",
				Command:     "packserve tag --token-file admin.token lobby 4f8a...",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("tag", pflag.ContinueOnError)
			server.register(fs)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return &cli.UsageError{Message: "tag takes a tag name and a digest"}
			}
			digest, err := pack.ParseDigest(args[1])
			if err != nil {
				return err
			}
			c, err := server.client()
			if err != nil {
				return err
			}
			if err := c.SetTag(context.Background(), args[0], digest); err != nil {
				return fail(err)
			}
			fmt.Printf("tag %q -> %s\n", args[0], pack.FormatRef(digest))
			return nil
		},
	}
}

func untagCommand() *cli.Command {
	var server serverFlags

	return &cli.Command{
		Name:    "untag",
		Summary: "Delete a tag. The pack it pointed at stays stored.",
		Usage:   "packserve untag [flags] <tag>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("untag", pflag.ContinueOnError)
			server.register(fs)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "untag takes exactly one tag"}
			}
			c, err := server.client()
			if err != nil {
				return err
			}
			if err := c.DeleteTag(context.Background(), args[0]); err != nil {
				return fail(err)
			}
			fmt.Printf("tag %q deleted\n", args[0])
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	var server serverFlags

	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a stored pack. Fails while a tag still points at it.",
		Usage:   "packserve delete [flags] <digest>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			server.register(fs)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "delete takes exactly one digest"}
			}
			digest, err := pack.ParseDigest(args[0])
			if err != nil {
				return err
			}
			c, err := server.client()
			if err != nil {
				return err
			}
			if err := c.DeletePack(context.Background(), digest); err != nil {
				return fail(err)
			}
			fmt.Printf("pack %s deleted\n", pack.FormatRef(digest))
			return nil
		},
	}
}
