// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package pack defines the identity model for resource packs: the
// content digest, its wire and display encodings, and the rules for
// tag names. Everything that names a pack (storage paths, HTTP
// routes, upload announcements, proxy references) goes through the
// types in this package.
package pack

import (
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 keyed digest of a pack's bytes. Packs
// are content-addressed: two packs with equal bytes have equal
// digests and are stored once.
type Digest [32]byte

// contentDomainKey is the BLAKE3 key for pack content digests. A
// fixed constant; changing it invalidates every stored digest. The
// byte values are the ASCII encoding of the domain name, zero-padded
// to 32 bytes, so the key is inspectable in hex dumps.
var contentDomainKey = [32]byte{
	'p', 'a', 'c', 'k', 's', 'e', 'r', 'v', 'e', '.', 'p', 'a', 'c', 'k', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// DigestBytes computes the content digest of data held in memory.
// For streaming input use NewHasher.
func DigestBytes(data []byte) Digest {
	hasher := NewHasher()
	hasher.Write(data)
	return hasher.Sum()
}

// Hasher computes a content digest incrementally. The upload path
// feeds each received chunk through a Hasher so the digest is known
// the moment the last byte arrives, without a second pass over the
// stored file.
type Hasher struct {
	inner *blake3.Hasher
}

// NewHasher returns a Hasher in the pack content domain.
func NewHasher() *Hasher {
	// NewKeyed only fails for a wrong key length, which the fixed-size
	// array rules out.
	inner, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("pack: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &Hasher{inner: inner}
}

// Write absorbs data into the digest. Never returns an error.
func (h *Hasher) Write(data []byte) (int, error) {
	return h.inner.Write(data)
}

// Sum returns the digest of all bytes written so far.
func (h *Hasher) Sum() Digest {
	var digest Digest
	copy(digest[:], h.inner.Sum(nil))
	return digest
}

// Reset returns the Hasher to its initial state.
func (h *Hasher) Reset() {
	h.inner.Reset()
}

// FormatDigest returns the 64-character hex encoding of a digest.
// This is the canonical form used in URLs, metadata, logs, and CLI
// output.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing pack digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("pack digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// FormatRef returns the short display reference for a digest: the
// "pack-" prefix followed by the first 12 hex characters. Used in
// logs and CLI output where the full digest would drown the line.
func FormatRef(digest Digest) string {
	return "pack-" + hex.EncodeToString(digest[:6])
}

// tagPattern restricts tag names to characters safe in file names and
// URL path segments. Dots may appear but not lead, so a tag can never
// name a hidden file or traverse directories.
var tagPattern = regexp.MustCompile(`^[a-zA-Z0-9_-][a-zA-Z0-9._-]{0,127}$`)

// ValidateTag checks that name is a legal tag: 1 to 128 characters
// from [a-zA-Z0-9._-], not starting with a dot.
func ValidateTag(name string) error {
	if name == "" {
		return fmt.Errorf("tag name is empty")
	}
	if !tagPattern.MatchString(name) {
		return fmt.Errorf("invalid tag name %q: must be 1-128 characters from [a-zA-Z0-9._-], not starting with a dot", name)
	}
	return nil
}
