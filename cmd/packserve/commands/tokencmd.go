// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/packserve/packserve/cmd/packserve/cli"
	"github.com/packserve/packserve/lib/clock"
	"github.com/packserve/packserve/lib/pack"
	"github.com/packserve/packserve/lib/token"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:    "token",
		Summary: "Mint and manage access tokens.",
		Description: "Mint and manage access tokens.\n\n" +
			"Tokens are signed with the server's keypair, so these commands\n" +
			"run on the server host against its key directory.",
		Subcommands: []*cli.Command{
			tokenNewCommand(),
			tokenRotateCommand(),
		},
	}
}

func tokenNewCommand() *cli.Command {
	var (
		keyDir     string
		subject    string
		scopes     []string
		packDigest string
		ttl        time.Duration
	)

	return &cli.Command{
		Name:    "new",
		Summary: "Mint a signed access token.",
		Usage:   "packserve token new [flags]",
		Examples: []cli.Example{
			{
				Description: "Mint an upload token for a CI pipeline",
				Command:     "packserve token new --key-dir /var/lib/packserve/keys --subject ci --scope upload --scope tag",
			},
			{
				Description: "Mint a token restricted to a single pack",
				Command:     "packserve token new --key-dir /var/lib/packserve/keys --subject builder --scope upload --pack 4f8a...",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("new", pflag.ContinueOnError)
			fs.StringVar(&keyDir, "key-dir", "", "server key directory (required)")
			fs.StringVar(&subject, "subject", "", "who the token is for (required)")
			fs.StringSliceVar(&scopes, "scope", []string{token.ScopeUpload}, "granted scopes: upload, tag, delete, or *")
			fs.StringVar(&packDigest, "pack", "", "restrict the token to a single pack digest")
			fs.DurationVar(&ttl, "ttl", token.DefaultTTL, "token validity period")
			return fs
		},
		Run: func(args []string) error {
			if keyDir == "" {
				return &cli.UsageError{Message: "--key-dir is required"}
			}
			if subject == "" {
				return &cli.UsageError{Message: "--subject is required"}
			}

			var digest *pack.Digest
			if packDigest != "" {
				parsed, err := pack.ParseDigest(packDigest)
				if err != nil {
					return err
				}
				digest = &parsed
			}

			keys, err := token.LoadKeySet(keyDir)
			if err != nil {
				return fmt.Errorf("loading key set: %w", err)
			}
			authority := token.NewAuthority(keys, clock.Real(), ttl)
			tokenBytes, err := authority.Issue(subject, scopes, digest)
			if err != nil {
				return err
			}
			fmt.Println(base64.RawURLEncoding.EncodeToString(tokenBytes))
			return nil
		},
	}
}

func tokenRotateCommand() *cli.Command {
	var keyDir string

	return &cli.Command{
		Name:    "rotate",
		Summary: "Rotate the signing keypair, keeping the old public key as a grace key.",
		Description: "Rotate the signing keypair, keeping the old public key as a\n" +
			"grace key. Tokens minted before the rotation keep verifying until\n" +
			"they expire; new tokens are signed with the fresh key. The running\n" +
			"server picks up the new key set on restart.",
		Usage: "packserve token rotate --key-dir <dir>",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("rotate", pflag.ContinueOnError)
			fs.StringVar(&keyDir, "key-dir", "", "server key directory (required)")
			return fs
		},
		Run: func(args []string) error {
			if keyDir == "" {
				return &cli.UsageError{Message: "--key-dir is required"}
			}
			keys, err := token.Rotate(keyDir)
			if err != nil {
				return err
			}
			fmt.Printf("rotated signing keypair, %d grace key(s) retained\n", len(keys.Grace))
			return nil
		},
	}
}
