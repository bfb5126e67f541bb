// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxypack is the proxy-side integration: it resolves
// configured pack entries against a pack server, holds the currently
// active pack reference behind an atomic pointer, and decides how to
// react to each player's pack status report.
//
// The integration has two states. Idle means no pack is offered to
// connecting players (Current returns nil). Active means every new
// connection is offered the current reference. Swapping references is
// a single atomic store, so player-connection goroutines never see a
// half-updated reference and never block on a resolver refresh.
package proxypack

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/packserve/packserve/lib/clock"
	"github.com/packserve/packserve/lib/fault"
	"github.com/packserve/packserve/lib/pack"
	"github.com/packserve/packserve/lib/wire"
)

// PackReference is everything the proxy needs to offer a pack to a
// connecting player.
type PackReference struct {
	// URL is the download URL handed to the game client.
	URL string

	// Digest is the content digest the client verifies after
	// download.
	Digest pack.Digest

	// Prompt is the optional message shown with the pack offer.
	Prompt string

	// Required marks packs the player must accept to stay connected.
	Required bool

	// KickMessage is shown when a required pack is declined.
	KickMessage string

	// ResolvedAt is when the reference was resolved from its entry.
	ResolvedAt time.Time
}

// Entry is a configured pack source: either a tag to resolve against
// the server, or a pinned digest that never changes.
type Entry struct {
	// Tag names the server tag to resolve. Ignored when Digest is
	// set.
	Tag string

	// Digest pins the entry to a fixed pack. Pinned entries skip
	// resolution entirely.
	Digest *pack.Digest

	// BaseURL is the pack server's distribution URL, used to build
	// the download URL for pinned entries.
	BaseURL string

	Prompt      string
	Required    bool
	KickMessage string
}

// TagResolver resolves a tag to its digest and download URL. The
// pack server client implements it.
type TagResolver interface {
	ResolveTag(ctx context.Context, tag string) (*wire.ResolveResponse, error)
}

// DefaultRefreshTTL is how long a resolved reference stays fresh. A
// retag on the server reaches players within this window without the
// proxy being told.
const DefaultRefreshTTL = 24 * time.Hour

// Resolver turns entries into pack references, caching resolved tags
// for a TTL so every player connection does not hit the pack server.
type Resolver struct {
	resolver TagResolver
	clock    clock.Clock
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]*PackReference
}

// NewResolver creates a Resolver. A zero ttl means DefaultRefreshTTL.
func NewResolver(resolver TagResolver, clk clock.Clock, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &Resolver{
		resolver: resolver,
		clock:    clk,
		ttl:      ttl,
		cache:    make(map[string]*PackReference),
	}
}

// Resolve returns the pack reference for an entry. Pinned entries
// resolve locally; tag entries hit the server at most once per TTL.
// A stale cache entry is served if the refresh fails, so a pack
// server outage does not strip packs from a running proxy.
func (r *Resolver) Resolve(ctx context.Context, entry *Entry) (*PackReference, error) {
	if entry.Digest != nil {
		return &PackReference{
			URL:         entry.BaseURL + "/pack/" + pack.FormatDigest(*entry.Digest),
			Digest:      *entry.Digest,
			Prompt:      entry.Prompt,
			Required:    entry.Required,
			KickMessage: entry.KickMessage,
			ResolvedAt:  r.clock.Now(),
		}, nil
	}
	if entry.Tag == "" {
		return nil, fault.Client("pack entry has neither tag nor digest")
	}

	now := r.clock.Now()

	r.mu.Lock()
	cached, ok := r.cache[entry.Tag]
	r.mu.Unlock()
	if ok && now.Sub(cached.ResolvedAt) < r.ttl {
		return cached, nil
	}

	resolved, err := r.resolver.ResolveTag(ctx, entry.Tag)
	if err != nil {
		if ok {
			// Stale beats nothing while the server is unreachable.
			return cached, nil
		}
		return nil, err
	}
	digest, err := pack.ParseDigest(resolved.Digest)
	if err != nil {
		return nil, fault.Transient("server returned malformed digest for tag %q: %v", entry.Tag, err)
	}

	reference := &PackReference{
		URL:         resolved.URL,
		Digest:      digest,
		Prompt:      entry.Prompt,
		Required:    entry.Required,
		KickMessage: entry.KickMessage,
		ResolvedAt:  now,
	}
	r.mu.Lock()
	r.cache[entry.Tag] = reference
	r.mu.Unlock()
	return reference, nil
}

// Invalidate drops a tag from the cache so the next Resolve hits the
// server. Called when the proxy is told a retag happened.
func (r *Resolver) Invalidate(tag string) {
	r.mu.Lock()
	delete(r.cache, tag)
	r.mu.Unlock()
}

// Status is a player's report on the offered pack.
type Status string

const (
	StatusAccepted       Status = "accepted"
	StatusLoaded         Status = "loaded"
	StatusDeclined       Status = "declined"
	StatusDownloadFailed Status = "download_failed"
)

// Decision is what the proxy should do in response to a status
// report.
type Decision int

const (
	// DecisionNone requires no action.
	DecisionNone Decision = iota

	// DecisionResend re-offers the current pack to the player.
	DecisionResend

	// DecisionKick disconnects the player with the reference's kick
	// message.
	DecisionKick
)

// maxResends bounds re-offers after download failures. A client that
// cannot download twice in a row will not succeed on the third try,
// and unbounded resends would loop forever against a broken CDN
// path.
const maxResends = 1

// Integration holds the proxy's pack state. Safe for concurrent use
// from player-connection goroutines.
type Integration struct {
	current atomic.Pointer[PackReference]

	mu      sync.Mutex
	resends map[string]int
}

// NewIntegration creates an Integration in the idle state.
func NewIntegration() *Integration {
	return &Integration{resends: make(map[string]int)}
}

// Current returns the active pack reference, or nil when idle.
func (i *Integration) Current() *PackReference {
	return i.current.Load()
}

// Activate makes reference the pack offered to new connections. The
// swap is atomic; players mid-download keep the reference they were
// offered.
func (i *Integration) Activate(reference *PackReference) {
	i.current.Store(reference)
	i.mu.Lock()
	clear(i.resends)
	i.mu.Unlock()
}

// Deactivate returns the integration to idle. New connections are
// offered nothing.
func (i *Integration) Deactivate() {
	i.current.Store(nil)
	i.mu.Lock()
	clear(i.resends)
	i.mu.Unlock()
}

// HandleStatus decides how to react to a player's status report
// against the currently active reference. Reports arriving while
// idle are ignored.
func (i *Integration) HandleStatus(player string, status Status) Decision {
	reference := i.current.Load()
	if reference == nil {
		return DecisionNone
	}

	switch status {
	case StatusDeclined:
		if reference.Required {
			return DecisionKick
		}
		return DecisionNone

	case StatusDownloadFailed:
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.resends[player] >= maxResends {
			if reference.Required {
				return DecisionKick
			}
			return DecisionNone
		}
		i.resends[player]++
		return DecisionResend

	case StatusAccepted, StatusLoaded:
		i.mu.Lock()
		delete(i.resends, player)
		i.mu.Unlock()
		return DecisionNone

	default:
		return DecisionNone
	}
}

// PlayerDisconnected clears per-player state.
func (i *Integration) PlayerDisconnected(player string) {
	i.mu.Lock()
	delete(i.resends, player)
	i.mu.Unlock()
}
