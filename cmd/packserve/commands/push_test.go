// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/packserve/packserve/lib/bundle"
	"github.com/packserve/packserve/lib/client"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
)

func TestPushSummary(t *testing.T) {
	skipped := pushSummary(&client.UploadResult{Transferred: false, Attempts: 1}, 2048)
	if skipped != "already present, nothing transferred" {
		t.Errorf("already-present summary = %q", skipped)
	}

	committed := pushSummary(&client.UploadResult{Transferred: true, Attempts: 2}, 2048)
	if committed != "committed, 2048 bytes in 2 attempt(s)" {
		t.Errorf("committed summary = %q", committed)
	}
}

func TestPreparePackBundlesDirectory(t *testing.T) {
	dir := t.TempDir()
	packDir := filepath.Join(dir, "pack")
	if err := os.MkdirAll(filepath.Join(packDir, "assets"), 0o755); err != nil {
		t.Fatalf("creating pack dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(packDir, "assets", "a.png"), []byte("image"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	zipPath, cleanup, err := preparePack(packDir)
	if err != nil {
		t.Fatalf("preparePack: %v", err)
	}
	defer cleanup()

	if zipPath == packDir {
		t.Fatalf("directory should be bundled to a new file")
	}
	ok, err := bundle.IsZip(zipPath)
	if err != nil || !ok {
		t.Fatalf("bundled output is not a zip: %v", err)
	}

	cleanup()
	if _, err := os.Stat(zipPath); !os.IsNotExist(err) {
		t.Fatalf("cleanup did not remove the temp zip")
	}
}

func TestPreparePackAcceptsZip(t *testing.T) {
	dir := t.TempDir()
	packDir := filepath.Join(dir, "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatalf("creating pack dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(packDir, "data.txt"), []byte("content"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	zipPath := filepath.Join(dir, "pack.zip")
	if err := bundle.WriteFile(zipPath, packDir); err != nil {
		t.Fatalf("bundling: %v", err)
	}

	got, cleanup, err := preparePack(zipPath)
	if err != nil {
		t.Fatalf("preparePack: %v", err)
	}
	defer cleanup()
	if got != zipPath {
		t.Fatalf("existing zip should be used as-is, got %q", got)
	}
}

func TestPreparePackRejectsNonZipFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if _, _, err := preparePack(path); err == nil {
		t.Fatalf("expected error for a non-zip file")
	}
}

func TestDigestFileMatchesDigestBytes(t *testing.T) {
	content := []byte("file content to hash")
	path := filepath.Join(t.TempDir(), "pack.zip")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	digest, size, err := digestFile(path)
	if err != nil {
		t.Fatalf("digestFile: %v", err)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}
	if digest != pack.DigestBytes(content) {
		t.Fatalf("streamed digest differs from one-shot digest")
	}
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fault.Auth("bad token"), 3},
		{fault.Transient("connection refused"), 4},
		{fault.Corruption("digest mismatch"), 4},
		{fault.Client("bad request"), 1},
	}
	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
