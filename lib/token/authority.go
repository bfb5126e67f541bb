// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/packserve/packserve/lib/clock"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
)

// DefaultTTL is the validity period of newly issued tokens. Long
// enough for CI pipelines that mint a token at job start and upload
// at the end.
const DefaultTTL = 12 * time.Hour

// Authority issues and verifies upload tokens against a key set.
type Authority struct {
	keys  *KeySet
	clock clock.Clock
	ttl   time.Duration
}

// NewAuthority creates an Authority over the given key set. A zero
// ttl means DefaultTTL.
func NewAuthority(keys *KeySet, clk clock.Clock, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authority{keys: keys, clock: clk, ttl: ttl}
}

// Issue mints a signed token for the subject with the given scopes.
// A non-nil digest restricts the token to that single pack.
func (a *Authority) Issue(subject string, scopes []string, digest *pack.Digest) ([]byte, error) {
	if subject == "" {
		return nil, fault.Client("token subject is required")
	}
	if len(scopes) == 0 {
		return nil, fault.Client("token must carry at least one scope")
	}

	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("generating token ID: %w", err)
	}

	now := a.clock.Now()
	tok := &Token{
		Subject:   subject,
		Scopes:    scopes,
		ID:        hex.EncodeToString(id),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(a.ttl).Unix(),
	}
	if digest != nil {
		tok.Digest = append([]byte(nil), digest[:]...)
	}
	return Mint(a.keys.Private, tok)
}

// VerifyScope verifies the raw token bytes and checks that the token
// permits the given operation on the given digest. All failures come
// back as auth faults so the transport layers map them uniformly.
func (a *Authority) VerifyScope(tokenBytes []byte, scope string, digest pack.Digest) (*Token, error) {
	tok, err := VerifyAt(a.keys, tokenBytes, a.clock.Now())
	if err != nil {
		return nil, fault.Auth("%v", err)
	}
	if !tok.Allows(scope) {
		return nil, fault.Auth("token for %q does not grant %q", tok.Subject, scope)
	}
	if !tok.AllowsDigest(digest) {
		return nil, fault.Auth("token for %q is restricted to a different pack", tok.Subject)
	}
	return tok, nil
}
