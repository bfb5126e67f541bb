// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the content-addressed pack store. Packs
// are flat files keyed by their content digest, written through a
// staging area and published with an atomic rename, so a reader never
// observes a partially written pack and a crash never leaves a
// corrupt one at its published path.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
)

// Directory names within the store root.
const (
	packDir = "packs"
	tmpDir  = "tmp"
)

// ErrAlreadyStored is returned by BeginWrite when the digest is
// already present. Callers treat it as success: the bytes on disk are
// identical by construction, so there is nothing to upload.
var ErrAlreadyStored = errors.New("pack already stored")

// Store manages the pack storage directory. Reads are safe
// concurrently with each other and with writes; writes to the same
// digest are serialized by an in-flight set so two uploads of the
// same pack cannot race on the staging file.
type Store struct {
	root string

	mu     sync.Mutex
	active map[pack.Digest]struct{}
}

// New creates a Store rooted at the given directory. The directory
// structure is created if it does not exist, and any staging files
// left behind by a previous crash are removed.
func New(root string) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, packDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	store := &Store{
		root:   root,
		active: make(map[pack.Digest]struct{}),
	}
	if err := store.sweepStaging(); err != nil {
		return nil, err
	}
	return store, nil
}

// sweepStaging removes leftover staging files. Anything in tmp/ at
// startup belongs to a write that never committed.
func (s *Store) sweepStaging() error {
	entries, err := os.ReadDir(filepath.Join(s.root, tmpDir))
	if err != nil {
		return fmt.Errorf("scanning staging directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(s.root, tmpDir, entry.Name())); err != nil {
			return fmt.Errorf("removing stale staging file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Exists reports whether a pack with the given digest is stored.
func (s *Store) Exists(digest pack.Digest) bool {
	_, err := os.Stat(s.packPath(digest))
	return err == nil
}

// Stat returns the stored size of a pack in bytes. Returns a
// not-found fault if the pack is not stored.
func (s *Store) Stat(digest pack.Digest) (int64, error) {
	info, err := os.Stat(s.packPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fault.NotFound("pack %s not stored", pack.FormatRef(digest))
		}
		return 0, fault.Transient("stating pack %s: %v", pack.FormatRef(digest), err)
	}
	return info.Size(), nil
}

// Open opens a stored pack for reading and returns its size. The
// returned file supports seeking, so HTTP range requests can be
// served directly from it. The caller must close it.
func (s *Store) Open(digest pack.Digest) (*os.File, int64, error) {
	file, err := os.Open(s.packPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fault.NotFound("pack %s not stored", pack.FormatRef(digest))
		}
		return nil, 0, fault.Transient("opening pack %s: %v", pack.FormatRef(digest), err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fault.Transient("stating pack %s: %v", pack.FormatRef(digest), err)
	}
	return file, info.Size(), nil
}

// BeginWrite opens a staged write for a pack with the claimed digest
// and declared size. Returns ErrAlreadyStored if the digest is
// already present, and a conflict fault if another write for the same
// digest is in flight.
//
// The returned handle must be finished with Commit or Abort; an
// unfinished handle holds the digest's write slot.
func (s *Store) BeginWrite(digest pack.Digest, size int64) (*WriteHandle, error) {
	if size <= 0 {
		return nil, fault.Client("declared pack size %d must be positive", size)
	}
	if s.Exists(digest) {
		return nil, ErrAlreadyStored
	}

	s.mu.Lock()
	if _, busy := s.active[digest]; busy {
		s.mu.Unlock()
		return nil, fault.Conflict("upload for pack %s already in progress", pack.FormatRef(digest))
	}
	s.active[digest] = struct{}{}
	s.mu.Unlock()

	file, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "pack-*.staging")
	if err != nil {
		s.release(digest)
		return nil, fault.Transient("creating staging file: %v", err)
	}

	return &WriteHandle{
		store:    s,
		digest:   digest,
		declared: size,
		file:     file,
		tmpPath:  file.Name(),
		hasher:   pack.NewHasher(),
	}, nil
}

// Delete removes a stored pack. Returns a not-found fault if the pack
// is not stored.
func (s *Store) Delete(digest pack.Digest) error {
	if err := os.Remove(s.packPath(digest)); err != nil {
		if os.IsNotExist(err) {
			return fault.NotFound("pack %s not stored", pack.FormatRef(digest))
		}
		return fault.Transient("removing pack %s: %v", pack.FormatRef(digest), err)
	}
	return nil
}

// release frees the digest's write slot.
func (s *Store) release(digest pack.Digest) {
	s.mu.Lock()
	delete(s.active, digest)
	s.mu.Unlock()
}

// packPath returns the sharded filesystem path for a pack. Packs are
// sharded by the first two bytes of the digest hex:
// packs/a3/f9/a3f9b2c1e7d4...
func (s *Store) packPath(digest pack.Digest) string {
	hex := pack.FormatDigest(digest)
	return filepath.Join(s.root, packDir, hex[:2], hex[2:4], hex)
}

// WriteHandle is a staged pack write. Bytes are appended as they
// arrive from the network and hashed incrementally; Commit verifies
// the digest and publishes the pack, Abort discards everything.
type WriteHandle struct {
	store    *Store
	digest   pack.Digest
	declared int64
	file     *os.File
	tmpPath  string
	hasher   *pack.Hasher
	written  int64
	done     bool
}

// Written returns the number of bytes appended so far.
func (h *WriteHandle) Written() int64 { return h.written }

// Received returns the digest of the bytes appended so far. After a
// failed Commit this is the digest the server actually computed,
// which callers report back to the uploader.
func (h *WriteHandle) Received() pack.Digest { return h.hasher.Sum() }

// Append writes data to the staging file. Fails with a client fault
// if the write would exceed the declared size; the handle remains
// open so the caller can Abort cleanly.
func (h *WriteHandle) Append(data []byte) error {
	if h.done {
		return fault.Client("append on finished write for pack %s", pack.FormatRef(h.digest))
	}
	if h.written+int64(len(data)) > h.declared {
		return fault.Client("pack %s exceeds declared size %d", pack.FormatRef(h.digest), h.declared)
	}
	if _, err := h.file.Write(data); err != nil {
		return fault.Transient("writing staging file: %v", err)
	}
	h.hasher.Write(data)
	h.written += int64(len(data))
	return nil
}

// Commit verifies the received bytes against the declared size and
// claimed digest, then publishes the pack with an atomic rename.
// A corruption fault means the bytes do not hash to the claimed
// digest; the staged data is discarded and nothing is published.
func (h *WriteHandle) Commit() error {
	if h.done {
		return fault.Client("commit on finished write for pack %s", pack.FormatRef(h.digest))
	}
	h.done = true
	defer h.store.release(h.digest)

	if h.written != h.declared {
		h.discard()
		return fault.Client("pack %s received %d bytes, declared %d",
			pack.FormatRef(h.digest), h.written, h.declared)
	}
	if computed := h.hasher.Sum(); computed != h.digest {
		h.discard()
		return fault.Corruption("pack digest mismatch: claimed %s, received %s",
			pack.FormatDigest(h.digest), pack.FormatDigest(computed))
	}

	if err := h.file.Sync(); err != nil {
		h.discard()
		return fault.Transient("syncing staging file: %v", err)
	}
	if err := h.file.Close(); err != nil {
		os.Remove(h.tmpPath)
		return fault.Transient("closing staging file: %v", err)
	}

	finalPath := h.store.packPath(h.digest)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(h.tmpPath)
		return fault.Transient("creating pack shard directory: %v", err)
	}

	// Dedup: if the pack appeared while this write was in flight, the
	// existing bytes are identical by construction. Drop the staging
	// file and report success.
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(h.tmpPath)
		return nil
	}

	if err := os.Rename(h.tmpPath, finalPath); err != nil {
		os.Remove(h.tmpPath)
		return fault.Transient("publishing pack %s: %v", pack.FormatRef(h.digest), err)
	}
	return nil
}

// Abort discards the staged write and frees the digest's write slot.
// Safe to call after Commit or a previous Abort; later calls are
// no-ops.
func (h *WriteHandle) Abort() {
	if h.done {
		return
	}
	h.done = true
	h.discard()
	h.store.release(h.digest)
}

// discard closes and removes the staging file, ignoring errors. The
// write has already failed or been abandoned.
func (h *WriteHandle) discard() {
	h.file.Close()
	os.Remove(h.tmpPath)
}

// WriteFrom is a convenience that streams r into a staged write and
// commits it. Used by the CLI's local import path and by tests.
func (s *Store) WriteFrom(digest pack.Digest, size int64, r io.Reader) error {
	handle, err := s.BeginWrite(digest, size)
	if err != nil {
		return err
	}
	buffer := make([]byte, 64*1024)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if appendErr := handle.Append(buffer[:n]); appendErr != nil {
				handle.Abort()
				return appendErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			handle.Abort()
			return fault.Transient("reading pack content: %v", err)
		}
	}
	return handle.Commit()
}
