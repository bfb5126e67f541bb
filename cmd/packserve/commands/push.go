// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/packserve/packserve/cmd/packserve/cli"
	"github.com/packserve/packserve/lib/bundle"
	"github.com/packserve/packserve/lib/client"
	"github.com/packserve/packserve/lib/pack"
)

func pushCommand() *cli.Command {
	var server serverFlags
	var tag string

	return &cli.Command{
		Name:    "push",
		Summary: "Upload a resource pack to the server.",
		Description: "Upload a resource pack to the server.\n\n" +
			"The argument is either a ready-made zip file or a directory. A\n" +
			"directory is bundled into a deterministic zip first, so the same\n" +
			"content always produces the same digest. With --tag the tag is\n" +
			"applied atomically when the upload commits.",
		Usage: "packserve push [flags] <pack.zip | directory>",
		Examples: []cli.Example{
			{
				Description: "Bundle and upload a pack directory, tagging it as lobby",
				Command:     "packserve push --token-file ci.token --tag lobby ./lobby-pack/",
			},
			{
				Description: "Upload a prebuilt zip",
				Command:     "packserve push --token-file ci.token pack.zip",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("push", pflag.ContinueOnError)
			server.register(fs)
			fs.StringVar(&tag, "tag", "", "tag to apply when the upload commits")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "push takes exactly one pack path"}
			}
			return runPush(&server, tag, args[0])
		},
	}
}

func runPush(server *serverFlags, tag, path string) error {
	zipPath, cleanup, err := preparePack(path)
	if err != nil {
		return err
	}
	defer cleanup()

	digest, size, err := digestFile(zipPath)
	if err != nil {
		return err
	}
	fmt.Printf("pack %s (%d bytes)\n", pack.FormatDigest(digest), size)

	c, err := server.client()
	if err != nil {
		return err
	}
	result, err := c.UploadWithRetry(context.Background(), digest, size, tag, func() (io.ReadCloser, error) {
		return os.Open(zipPath)
	})
	if err != nil {
		return fail(err)
	}

	fmt.Println(pushSummary(result, size))
	if tag != "" {
		fmt.Printf("tagged as %q\n", tag)
	}
	return nil
}

// pushSummary describes an upload's outcome for the user.
func pushSummary(result *client.UploadResult, size int64) string {
	if !result.Transferred {
		return "already present, nothing transferred"
	}
	return fmt.Sprintf("committed, %d bytes in %d attempt(s)", size, result.Attempts)
}

// preparePack turns the argument into a zip file path: directories
// are bundled to a temp file, zips are used as-is. The returned
// cleanup removes the temp file when one was created.
func preparePack(path string) (string, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}

	if !info.IsDir() {
		ok, err := bundle.IsZip(path)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, fmt.Errorf("%s is neither a directory nor a zip file", path)
		}
		return path, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "packserve-*.zip")
	if err != nil {
		return "", nil, err
	}
	tmp.Close()
	if err := bundle.WriteFile(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("bundling %s: %w", path, err)
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

// digestFile computes the content digest and size of a file.
func digestFile(path string) (pack.Digest, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return pack.Digest{}, 0, err
	}
	defer file.Close()

	hasher := pack.NewHasher()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return pack.Digest{}, 0, fmt.Errorf("hashing %s: %w", filepath.Base(path), err)
	}
	return hasher.Sum(), size, nil
}
