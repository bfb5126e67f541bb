// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTree creates a small resource pack layout under a temp dir.
func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"pack.mcmeta":                  `{"pack":{"pack_format":34}}`,
		"assets/minecraft/sounds.json": "{}",
		"assets/custom/textures/a.png": "fake png bytes",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return root
}

func TestDeterministicAcrossRuns(t *testing.T) {
	root := writeTree(t)

	var first, second bytes.Buffer
	if err := Write(&first, root); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	// Touch every file: mtimes must not leak into the archive.
	past := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			os.Chtimes(path, past, past)
		}
		return nil
	})

	if err := Write(&second, root); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("archive bytes changed between runs over identical content")
	}
}

func TestArchiveContents(t *testing.T) {
	root := writeTree(t)
	var buffer bytes.Buffer
	if err := Write(&buffer, root); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(buffer.Bytes()), int64(buffer.Len()))
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}

	want := []string{
		"assets/custom/textures/a.png",
		"assets/minecraft/sounds.json",
		"pack.mcmeta",
	}
	if len(reader.File) != len(want) {
		t.Fatalf("archive has %d entries, want %d", len(reader.File), len(want))
	}
	for i, entry := range reader.File {
		if entry.Name != want[i] {
			t.Errorf("entry %d = %q, want %q (sorted order)", i, entry.Name, want[i])
		}
	}

	file, err := reader.Open("pack.mcmeta")
	if err != nil {
		t.Fatalf("opening entry: %v", err)
	}
	defer file.Close()
	content := make([]byte, 64)
	n, _ := file.Read(content)
	if !bytes.Contains(content[:n], []byte("pack_format")) {
		t.Error("entry content does not round-trip")
	}
}

func TestRejectsEmptyAndNonDirectory(t *testing.T) {
	var buffer bytes.Buffer
	if err := Write(&buffer, t.TempDir()); err == nil {
		t.Error("Write accepted an empty directory")
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	os.WriteFile(file, []byte("x"), 0o644)
	if err := Write(&buffer, file); err == nil {
		t.Error("Write accepted a plain file as root")
	}
}

func TestRejectsSymlink(t *testing.T) {
	root := writeTree(t)
	if err := os.Symlink("/etc/hosts", filepath.Join(root, "link")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	var buffer bytes.Buffer
	if err := Write(&buffer, root); err == nil {
		t.Error("Write accepted a tree containing a symlink")
	}
}

func TestWriteFileAndIsZip(t *testing.T) {
	root := writeTree(t)
	outPath := filepath.Join(t.TempDir(), "pack.zip")
	if err := WriteFile(outPath, root); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	isZip, err := IsZip(outPath)
	if err != nil {
		t.Fatalf("IsZip: %v", err)
	}
	if !isZip {
		t.Error("IsZip = false for a freshly written bundle")
	}

	plain := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(plain, []byte("not an archive"), 0o644)
	isZip, err = IsZip(plain)
	if err != nil {
		t.Fatalf("IsZip on plain file: %v", err)
	}
	if isZip {
		t.Error("IsZip = true for a text file")
	}
}
