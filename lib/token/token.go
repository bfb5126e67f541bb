// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package token implements upload authorization tokens: CBOR payloads
// signed with Ed25519, verified against a rotatable key set. A token
// names its subject, the operations it permits, and optionally a
// single pack digest it is restricted to.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/packserve/packserve/lib/codec"
	"github.com/packserve/packserve/lib/pack"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// Scopes a token can carry. A token with ScopeAll permits every
// operation.
const (
	ScopeUpload = "upload"
	ScopeTag    = "tag"
	ScopeDelete = "delete"
	ScopeAll    = "*"
)

// Token is the CBOR-encoded payload of an upload authorization token.
// Field keys are small integers to keep the wire form compact.
type Token struct {
	// Subject identifies the holder (a CI pipeline name, an operator
	// handle). Recorded in server logs for every authorized operation.
	Subject string `cbor:"1,keyasint"`

	// Scopes lists the permitted operations: "upload", "tag",
	// "delete", or "*" for all.
	Scopes []string `cbor:"2,keyasint"`

	// Digest, when set (32 bytes), restricts the token to uploading
	// exactly one pack. Empty means any digest within scope.
	Digest []byte `cbor:"3,keyasint,omitempty"`

	// ID is a unique token identifier (hex string), for log
	// correlation.
	ID string `cbor:"4,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of when the token was
	// minted.
	IssuedAt int64 `cbor:"5,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which the token
	// is no longer valid.
	ExpiresAt int64 `cbor:"6,keyasint"`
}

// Errors returned by Verify and related functions.
var (
	ErrTokenTooShort    = errors.New("token: too short for signature")
	ErrInvalidSignature = errors.New("token: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("token: expired")
)

// Allows reports whether the token's scopes permit the given
// operation.
func (t *Token) Allows(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope || s == ScopeAll {
			return true
		}
	}
	return false
}

// AllowsDigest reports whether the token permits operating on the
// given pack. Unrestricted tokens permit any digest.
func (t *Token) AllowsDigest(digest pack.Digest) bool {
	if len(t.Digest) == 0 {
		return true
	}
	if len(t.Digest) != len(digest) {
		return false
	}
	for i, b := range t.Digest {
		if digest[i] != b {
			return false
		}
	}
	return true
}

// Mint signs a Token and returns the raw wire-format bytes: the
// CBOR-encoded payload followed by the 64-byte Ed25519 signature.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("token: encoding payload: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)
	return result, nil
}

// Verify splits the raw token bytes, verifies the signature against
// the key set, decodes the payload, and checks expiry at the current
// time.
func Verify(keys *KeySet, tokenBytes []byte) (*Token, error) {
	return VerifyAt(keys, tokenBytes, time.Now())
}

// VerifyAt is like Verify but accepts an explicit time for expiry
// checks. This supports deterministic testing.
func VerifyAt(keys *KeySet, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	if !keys.verify(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("token: decoding payload: %w", err)
	}
	if now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &token, nil
}
