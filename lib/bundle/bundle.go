// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle builds resource pack zip archives from directory
// trees. The archive bytes are deterministic: entries are sorted,
// timestamps zeroed, and compression fixed, so zipping the same tree
// twice yields the same bytes and therefore the same content digest.
// Without this, every CI run would re-upload an identical pack under
// a new digest.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"
)

// Write zips the directory tree rooted at root into w. Entry names
// are slash-separated paths relative to root, in lexical order.
// Symlinks are rejected: a pack served to game clients must not
// depend on the build host's filesystem layout.
func Write(w io.Writer, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stating bundle root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("bundle root %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			return fmt.Errorf("refusing to bundle symlink %s", path)
		}
		if entry.IsDir() {
			return nil
		}
		if !entry.Type().IsRegular() {
			return fmt.Errorf("refusing to bundle special file %s", path)
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, relative)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking bundle root: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("bundle root %s contains no files", root)
	}
	sort.Strings(files)

	writer := zip.NewWriter(w)
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, relative := range files {
		header := &zip.FileHeader{
			Name:   filepath.ToSlash(relative),
			Method: zip.Deflate,
			// Modified stays zero: file mtimes must not change the
			// archive bytes.
		}
		entry, err := writer.CreateHeader(header)
		if err != nil {
			writer.Close()
			return fmt.Errorf("creating zip entry %s: %w", relative, err)
		}
		file, err := os.Open(filepath.Join(root, relative))
		if err != nil {
			writer.Close()
			return fmt.Errorf("opening %s: %w", relative, err)
		}
		if _, err := io.Copy(entry, file); err != nil {
			file.Close()
			writer.Close()
			return fmt.Errorf("copying %s into bundle: %w", relative, err)
		}
		file.Close()
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finishing bundle: %w", err)
	}
	return nil
}

// WriteFile zips the directory tree rooted at root into a new file at
// outPath.
func WriteFile(outPath, root string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating bundle file: %w", err)
	}
	if err := Write(out, root); err != nil {
		out.Close()
		os.Remove(outPath)
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing bundle file: %w", err)
	}
	return nil
}

// IsZip reports whether the file at path starts with the zip local
// file header magic. The uploader uses this to decide whether an
// input file is already a packaged bundle.
func IsZip(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	var magic [4]byte
	if _, err := io.ReadFull(file, magic[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return strings.HasPrefix(string(magic[:]), "PK\x03\x04"), nil
}
