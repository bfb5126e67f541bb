// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package tagstore maps mutable tag names to pack digests. Tags are
// the human-facing handle for packs: the uploader tags each push, the
// proxy integration resolves a tag to the digest it should serve, and
// retagging is how a deployment rolls forward or back without moving
// any pack bytes.
package tagstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/packserve/packserve/lib/codec"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
)

// TagRecord is the on-disk and in-memory representation of a single
// tag. Each tag file on disk contains a CBOR-encoded TagRecord.
type TagRecord struct {
	Name      string      `cbor:"name"`
	Target    pack.Digest `cbor:"target"`
	CreatedAt time.Time   `cbor:"created_at"`
	UpdatedAt time.Time   `cbor:"updated_at"`
}

// TagStore manages the name-to-digest mapping with an in-memory index
// backed by one CBOR file per tag. Tag names are validated to a
// filesystem-safe charset, so the file is named directly after the
// tag.
//
// Safe for concurrent use; writes to the same tag are last-writer-wins,
// matching retag semantics.
type TagStore struct {
	root    string
	mu      sync.RWMutex
	entries map[string]TagRecord
}

// New creates a TagStore rooted at the given directory, loading any
// tag files from a previous run into the in-memory index.
func New(root string) (*TagStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating tag directory %s: %w", root, err)
	}
	store := &TagStore{
		root:    root,
		entries: make(map[string]TagRecord),
	}
	if err := store.scanAll(); err != nil {
		return nil, fmt.Errorf("scanning existing tags: %w", err)
	}
	return store, nil
}

// Get returns the tag record for the given name, or false if no tag
// with that name exists.
func (ts *TagStore) Get(name string) (TagRecord, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	record, exists := ts.entries[name]
	return record, exists
}

// Resolve returns the digest a tag points at. Returns a not-found
// fault for unknown tags.
func (ts *TagStore) Resolve(name string) (pack.Digest, error) {
	record, exists := ts.Get(name)
	if !exists {
		return pack.Digest{}, fault.NotFound("tag %q not found", name)
	}
	return record.Target, nil
}

// Set points a tag at a digest, creating it if needed. Existing tags
// are overwritten; retagging is how deployments roll forward and
// back.
func (ts *TagStore) Set(name string, target pack.Digest, now time.Time) error {
	if err := pack.ValidateTag(name); err != nil {
		return fault.Client("%v", err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	record := TagRecord{
		Name:      name,
		Target:    target,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, exists := ts.entries[name]; exists {
		record.CreatedAt = existing.CreatedAt
	}

	if err := ts.writeFile(record); err != nil {
		return err
	}
	ts.entries[name] = record
	return nil
}

// Delete removes a tag by name. The pack it pointed at stays stored;
// removing the pack itself is a separate, explicit delete on the
// digest.
func (ts *TagStore) Delete(name string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.entries[name]; !exists {
		return fault.NotFound("tag %q not found", name)
	}
	if err := os.Remove(ts.tagPath(name)); err != nil && !os.IsNotExist(err) {
		return fault.Transient("removing tag file for %q: %v", name, err)
	}
	delete(ts.entries, name)
	return nil
}

// List returns all tags whose names start with prefix, sorted by
// name. An empty prefix returns all tags.
func (ts *TagStore) List(prefix string) []TagRecord {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var results []TagRecord
	for _, record := range ts.entries {
		if prefix == "" || strings.HasPrefix(record.Name, prefix) {
			results = append(results, record)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results
}

// Targets returns the set of digests currently referenced by any tag.
// The server consults it before a pack delete: a digest with a live
// tag must not be removed.
func (ts *TagStore) Targets() map[pack.Digest]struct{} {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	result := make(map[pack.Digest]struct{}, len(ts.entries))
	for _, record := range ts.entries {
		result[record.Target] = struct{}{}
	}
	return result
}

// Len returns the number of tags in the store.
func (ts *TagStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.entries)
}

// scanAll loads all tag files into the in-memory index. Called once
// at startup.
func (ts *TagStore) scanAll() error {
	entries, err := os.ReadDir(ts.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".cbor") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(ts.root, name))
		if err != nil {
			return fmt.Errorf("reading tag file %s: %w", name, err)
		}
		var record TagRecord
		if err := codec.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("decoding tag file %s: %w", name, err)
		}
		if record.Name == "" {
			// Skip corrupt or incomplete tag files.
			continue
		}
		ts.entries[record.Name] = record
	}
	return nil
}

// writeFile atomically writes a tag record to disk.
func (ts *TagStore) writeFile(record TagRecord) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fault.Transient("encoding tag %q: %v", record.Name, err)
	}

	tmpFile, err := os.CreateTemp(ts.root, ".tag-*.staging")
	if err != nil {
		return fault.Transient("creating temp tag file: %v", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fault.Transient("writing tag data: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fault.Transient("closing temp tag file: %v", err)
	}
	if err := os.Rename(tmpPath, ts.tagPath(record.Name)); err != nil {
		return fault.Transient("renaming tag file for %q: %v", record.Name, err)
	}
	success = true
	return nil
}

// tagPath returns the filesystem path for a tag file. ValidateTag
// guarantees the name is a safe file name, so no hashing or sharding
// is needed at tag-count scale.
func (ts *TagStore) tagPath(name string) string {
	return filepath.Join(ts.root, name+".cbor")
}
