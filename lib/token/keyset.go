// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	privateKeyFile  = "token-signing-key"
	publicKeyFile   = "token-signing-key.pub"
	graceKeyPattern = "grace-*.pub"
)

// KeySet holds the signing keypair plus the public halves of recently
// retired keys. Tokens minted before a rotation keep verifying against
// a grace key until they expire, so rotation never strands an
// in-flight upload.
type KeySet struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
	Grace   []ed25519.PublicKey
}

// verify checks the signature against the current key first, then
// each grace key.
func (k *KeySet) verify(payload, signature []byte) bool {
	if ed25519.Verify(k.Public, payload, signature) {
		return true
	}
	for _, grace := range k.Grace {
		if ed25519.Verify(grace, payload, signature) {
			return true
		}
	}
	return false
}

// Generate creates a new Ed25519 keypair for token signing.
func Generate() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes a keypair to the key directory. The private key
// file has 0600 permissions; the public key file has 0644.
func SaveKeypair(keyDir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.WriteFile(filepath.Join(keyDir, privateKeyFile), private, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(keyDir, publicKeyFile), public, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadKeySet loads the signing keypair and any grace keys from the
// key directory. Grace keys load in file-name order so verification
// tries the most recently retired key first.
func LoadKeySet(keyDir string) (*KeySet, error) {
	privateBytes, err := os.ReadFile(filepath.Join(keyDir, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}

	publicBytes, err := os.ReadFile(filepath.Join(keyDir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}

	keys := &KeySet{
		Public:  ed25519.PublicKey(publicBytes),
		Private: ed25519.PrivateKey(privateBytes),
	}

	gracePaths, err := filepath.Glob(filepath.Join(keyDir, graceKeyPattern))
	if err != nil {
		return nil, fmt.Errorf("scanning grace keys: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(gracePaths)))
	for _, path := range gracePaths {
		graceBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading grace key %s: %w", filepath.Base(path), err)
		}
		if len(graceBytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("grace key %s has %d bytes, want %d",
				filepath.Base(path), len(graceBytes), ed25519.PublicKeySize)
		}
		keys.Grace = append(keys.Grace, ed25519.PublicKey(graceBytes))
	}
	return keys, nil
}

// LoadOrGenerateKeySet loads the key set from keyDir, or generates
// and saves a fresh keypair if none exists. Returns the key set and
// whether it was newly generated.
func LoadOrGenerateKeySet(keyDir string) (*KeySet, bool, error) {
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, false, fmt.Errorf("creating key directory: %w", err)
	}

	keys, err := LoadKeySet(keyDir)
	if err == nil {
		return keys, false, nil
	}

	// Missing files mean first boot; anything else is corruption or a
	// permissions problem and must not be papered over.
	if _, statErr := os.Stat(filepath.Join(keyDir, privateKeyFile)); statErr == nil {
		return nil, false, err
	}

	public, private, err := Generate()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeypair(keyDir, public, private); err != nil {
		return nil, false, err
	}
	return &KeySet{Public: public, Private: private}, true, nil
}

// Rotate retires the current keypair and installs a fresh one. The
// old public key becomes a grace key named after its rotation
// sequence, so tokens it signed keep verifying; the old private key
// is destroyed.
func Rotate(keyDir string) (*KeySet, error) {
	keys, err := LoadKeySet(keyDir)
	if err != nil {
		return nil, fmt.Errorf("loading key set for rotation: %w", err)
	}

	sequence, err := nextGraceSequence(keyDir)
	if err != nil {
		return nil, err
	}
	graceName := fmt.Sprintf("grace-%04d.pub", sequence)
	if err := os.WriteFile(filepath.Join(keyDir, graceName), keys.Public, 0o644); err != nil {
		return nil, fmt.Errorf("retiring public key: %w", err)
	}

	public, private, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := SaveKeypair(keyDir, public, private); err != nil {
		return nil, err
	}
	return LoadKeySet(keyDir)
}

// nextGraceSequence returns one past the highest existing grace key
// sequence number.
func nextGraceSequence(keyDir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(keyDir, graceKeyPattern))
	if err != nil {
		return 0, fmt.Errorf("scanning grace keys: %w", err)
	}
	highest := 0
	for _, path := range paths {
		base := filepath.Base(path)
		numeric := strings.TrimSuffix(strings.TrimPrefix(base, "grace-"), ".pub")
		var n int
		if _, err := fmt.Sscanf(numeric, "%d", &n); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}
